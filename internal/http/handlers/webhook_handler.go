package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/http/response"
	"github.com/rolesync/rolesync/pkg/logger"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe recommends capping webhook bodies well below this; 64KiB covers
// every event type we subscribe to.
const maxWebhookBody = 65536

// StripeWebhook is the gateway for provider events:
// received -> signature-verified -> normalized -> (skip | dispatched) -> acknowledged.
//
// Signature verification runs against the raw, unparsed body; it is the sole
// authentication for the whole engine. Dispatch failures answer non-200 so
// the provider's retry redelivers; every skip acknowledges with 200.
func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	secret := h.config.Stripe.WebhookSecret
	if secret == "" {
		logger.ErrorContext(r.Context(), "Webhook received but STRIPE_WEBHOOK_SECRET is unset")
		response.WriteError(w, http.StatusInternalServerError,
			"Webhook signing secret not configured", response.CodeNotConfigured)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Unreadable request body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		response.WriteError(w, http.StatusBadRequest,
			"Missing signature header", response.CodeSignatureRejected)
		return
	}

	event, err := webhook.ConstructEvent(payload, sig, secret)
	if err != nil {
		logger.WarnContext(r.Context(), "Webhook signature verification failed", "error", err)
		response.WriteError(w, http.StatusBadRequest,
			"Signature verification failed", response.CodeSignatureRejected)
		return
	}

	ctx := context.WithValue(r.Context(), logger.EventIDKey, event.ID)

	if seen, dedupErr := h.dedup.Seen(ctx, event.ID); dedupErr != nil {
		// Fail open: dedup is an optimization, idempotent reconcile is the guarantee.
		logger.WarnContext(ctx, "Event dedup check failed", "error", dedupErr)
	} else if seen {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	normalized, err := h.normalizer.Normalize(ctx, &event)
	if err != nil {
		logger.WarnContext(ctx, "Webhook payload failed to normalize", "error", err)
		response.BadRequest(w, "Unparseable event payload")
		return
	}

	if normalized.Kind == domain.KindUnknown {
		// Forward compatibility: acknowledge provider additions untouched.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if normalized.Email == "" {
		logger.InfoContext(ctx, "No resolvable payer email on event, skipping",
			"kind", string(normalized.Kind))
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}

	if err := h.engine.HandleEvent(ctx, normalized); err != nil {
		logger.ErrorContext(ctx, "Webhook dispatch failed, requesting redelivery", "error", err)
		response.InternalError(w, "Dispatch failed")
		return
	}

	if err := h.dedup.MarkProcessed(ctx, event.ID); err != nil {
		logger.WarnContext(ctx, "Failed to mark event processed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
