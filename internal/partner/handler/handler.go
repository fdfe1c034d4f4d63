package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/internal/agent"
	"accord/internal/partner/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/httputil"
	request "accord/pkg/platform/middleware/request"
)

// Service defines the partner operations the handler exposes.
type Service interface {
	CreateFromInvitation(ctx context.Context, alias string) (*models.Partner, *agent.Invitation, error)
	AddViaDID(ctx context.Context, did id.DID, alias string) (*models.Partner, error)
	Get(ctx context.Context, partnerID id.PartnerID) (*models.Partner, error)
	List(ctx context.Context) ([]*models.Partner, error)
	SetAlias(ctx context.Context, partnerID id.PartnerID, alias string) (*models.Partner, error)
	Accept(ctx context.Context, partnerID id.PartnerID) (*models.Partner, error)
	Remove(ctx context.Context, partnerID id.PartnerID) error
	UpdateDID(ctx context.Context, partnerID id.PartnerID, newDID id.DID) (*models.Partner, error)
}

// Handler exposes partner management over HTTP.
type Handler struct {
	partners Service
	logger   *slog.Logger
}

func New(partners Service, logger *slog.Logger) *Handler {
	return &Handler{partners: partners, logger: logger}
}

// Register mounts the partner routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/partners/invitations", h.handleCreateInvitation)
	r.Post("/partners", h.handleAddViaDID)
	r.Get("/partners", h.handleList)
	r.Get("/partners/{partnerID}", h.handleGet)
	r.Put("/partners/{partnerID}", h.handleSetAlias)
	r.Put("/partners/{partnerID}/did", h.handleUpdateDID)
	r.Post("/partners/{partnerID}/accept", h.handleAccept)
	r.Delete("/partners/{partnerID}", h.handleRemove)
}

type createInvitationRequest struct {
	Alias string `json:"alias"`
}

type createInvitationResponse struct {
	Partner    *models.Partner   `json:"partner"`
	Invitation *agent.Invitation `json:"invitation"`
}

func (h *Handler) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[createInvitationRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	partner, invitation, err := h.partners.CreateFromInvitation(ctx, req.Alias)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createInvitationResponse{Partner: partner, Invitation: invitation})
}

type addPartnerRequest struct {
	DID   string `json:"did"`
	Alias string `json:"alias"`
}

func (h *Handler) handleAddViaDID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[addPartnerRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	did, err := id.ParseDID(req.DID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	partner, err := h.partners.AddViaDID(ctx, did, req.Alias)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, partner)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	partners, err := h.partners.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"partners": partners})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	partner, err := h.partners.Get(r.Context(), partnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, partner)
}

type setAliasRequest struct {
	Alias string `json:"alias"`
}

func (h *Handler) handleSetAlias(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[setAliasRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	partner, err := h.partners.SetAlias(ctx, partnerID, req.Alias)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, partner)
}

type updateDIDRequest struct {
	DID string `json:"did"`
}

func (h *Handler) handleUpdateDID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[updateDIDRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	did, err := id.ParseDID(req.DID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	partner, err := h.partners.UpdateDID(ctx, partnerID, did)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, partner)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	partner, err := h.partners.Accept(r.Context(), partnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, partner)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	if err := h.partners.Remove(r.Context(), partnerID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) partnerIDFromPath(w http.ResponseWriter, r *http.Request) (id.PartnerID, bool) {
	partnerID, err := id.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PartnerID{}, false
	}
	return partnerID, true
}
