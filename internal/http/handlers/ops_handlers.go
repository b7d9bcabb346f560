package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/rolesync/rolesync/internal/http/response"
	"github.com/rolesync/rolesync/pkg/logger"
)

type healthBody struct {
	Store          string    `json:"store"`
	IdentitySource string    `json:"identity_source"`
	Timestamp      time.Time `json:"timestamp"`
}

// Health reports the two dependencies the engine cannot run without: the
// durable store and the community gateway. Either failing turns the probe
// red with the same body.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Store:          "connected",
		IdentitySource: "ready",
		Timestamp:      time.Now().UTC(),
	}

	healthy := true
	if err := h.store.Ping(r.Context()); err != nil {
		logger.WarnContext(r.Context(), "Health: durable store unreachable", "error", err)
		body.Store = "disconnected"
		healthy = false
	}
	if err := h.community.Ready(r.Context()); err != nil {
		logger.WarnContext(r.Context(), "Health: community gateway not ready", "error", err)
		body.IdentitySource = "not-ready"
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, body)
}

// Backup streams the identity snapshot file verbatim.
func (h *Handlers) Backup(w http.ResponseWriter, r *http.Request) {
	path := h.identities.SnapshotPath()
	if _, err := os.Stat(path); err != nil {
		response.NotFound(w, "No snapshot available yet")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="identities.json"`)
	http.ServeFile(w, r, path)
}
