package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/internal/chat/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/httputil"
	request "accord/pkg/platform/middleware/request"
)

// Service defines the messaging operations the handler exposes.
type Service interface {
	Send(ctx context.Context, partnerID id.PartnerID, content string) (*models.Message, error)
	ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Message, error)
}

// Handler exposes partner messaging over HTTP.
type Handler struct {
	chat   Service
	logger *slog.Logger
}

func New(chat Service, logger *slog.Logger) *Handler {
	return &Handler{chat: chat, logger: logger}
}

// Register mounts the messaging routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/partners/{partnerID}/messages", h.handleSend)
	r.Get("/partners/{partnerID}/messages", h.handleList)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[sendMessageRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	message, err := h.chat.Send(ctx, partnerID, req.Content)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, message)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	messages, err := h.chat.ListByPartner(r.Context(), partnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) partnerIDFromPath(w http.ResponseWriter, r *http.Request) (id.PartnerID, bool) {
	partnerID, err := id.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PartnerID{}, false
	}
	return partnerID, true
}
