package handler

import (
	"net/http"

	natsclient "github.com/capitalize-ai/assistant-relay/internal/nats"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "assistant-relay"

// Readiness reports whether exchanges can be served and how.
type Readiness interface {
	Ready() bool
	Scope() string
	ImagePolicy() string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	relay      Readiness
	natsClient *natsclient.Client
}

// NewHealthHandler creates a new health handler. natsClient is nil when NATS
// is disabled.
func NewHealthHandler(relay Readiness, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		relay:      relay,
		natsClient: natsClient,
	}
}

// Root handles GET /
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil || !h.relay.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "assistant not configured",
		})
		return
	}

	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "ready",
		"scope":        h.relay.Scope(),
		"image_policy": h.relay.ImagePolicy(),
	})
}
