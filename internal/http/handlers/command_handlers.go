package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/http/response"
	"github.com/rolesync/rolesync/internal/reconcile"
	"github.com/rolesync/rolesync/pkg/logger"
)

type commandRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) decodeCommand(w http.ResponseWriter, r *http.Request) (memberID, email string, ok bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return "", "", false
	}
	if !domain.IsValidEmail(req.Email) {
		response.BadRequest(w, "A valid email address is required")
		return "", "", false
	}

	memberID = memberIDFrom(r.Context())
	if memberID == "" {
		response.Unauthorized(w, "Missing member identity")
		return "", "", false
	}
	return memberID, domain.NormalizeEmail(req.Email), true
}

// Verify links the invoker's email to their member id.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	memberID, email, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	if err := h.engine.Verify(r.Context(), memberID, email); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email linked. Run /checkpayment to activate your role.",
	})
}

// Unverify removes the invoker's link, owner-only.
func (h *Handlers) Unverify(w http.ResponseWriter, r *http.Request) {
	memberID, email, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	if err := h.engine.Unverify(r.Context(), memberID, email); err != nil {
		if errors.Is(err, domain.ErrAuthorizationMismatch) {
			response.WriteError(w, http.StatusForbidden,
				"That email isn't linked to your account.", response.CodeNotLinked)
			return
		}
		logger.ErrorContext(r.Context(), "Unverify failed", "error", err)
		response.InternalError(w, "Something went wrong. Please contact support.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email unlinked.",
	})
}

// CheckPayment re-derives entitlement and grants the role when active.
func (h *Handlers) CheckPayment(w http.ResponseWriter, r *http.Request) {
	memberID, email, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	result, err := h.engine.CheckPayment(r.Context(), memberID, email)
	if err != nil {
		h.writeCheckError(w, r, err)
		return
	}

	if !result.Active {
		message := "No active payment found for that email."
		if result.Reason == domain.ReasonNoCustomerRecord {
			message = "We couldn't find any customer record for that email."
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": message,
			"status":  "inactive",
			"reason":  string(result.Reason),
		})
		return
	}

	message := "Payment confirmed. Your role has been assigned."
	if result.Outcome == reconcile.AlreadyGranted {
		message = "Payment confirmed. You already have the role."
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": message,
		"status":  "active",
		"reason":  string(result.Reason),
	})
}

func (h *Handlers) writeCheckError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthorizationMismatch):
		response.WriteError(w, http.StatusForbidden,
			"That email isn't linked to your account. Run /verify first.", response.CodeNotLinked)
	case errors.Is(err, domain.ErrEntitlementQueryFailed):
		logger.WarnContext(r.Context(), "Entitlement query failed", "error", err)
		response.WriteError(w, http.StatusServiceUnavailable,
			"We couldn't reach the payment provider. Please try again in a minute.", response.CodeTransient)
	case errors.Is(err, domain.ErrMemberNotFound), errors.Is(err, domain.ErrRoleNotFound):
		logger.ErrorContext(r.Context(), "Reconcile configuration error", "error", err)
		response.InternalError(w, "Something is misconfigured on our side. Please contact support.")
	default:
		logger.ErrorContext(r.Context(), "Check payment failed", "error", err)
		response.InternalError(w, "Something went wrong. Please contact support.")
	}
}
