package gateway

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/pkg/platform/httputil"
)

// Handler exposes the agent's webhook endpoint.
type Handler struct {
	gateway *Gateway
}

func NewHandler(gw *Gateway) *Handler {
	return &Handler{gateway: gw}
}

// Register mounts the webhook route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/protocol-events", h.handleEvent)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// Only infrastructure failures surface here; everything parseable is
	// acknowledged so the agent stops redelivering.
	if err := h.gateway.OnProtocolEvent(r.Context(), raw); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
