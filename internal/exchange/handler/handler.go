package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/internal/agent"
	"accord/internal/exchange/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/httputil"
	request "accord/pkg/platform/middleware/request"
)

// Service defines the exchange operations the handler exposes.
type Service interface {
	RequestCredential(ctx context.Context, partnerID id.PartnerID, documentID string, schemaID id.SchemaID) (*models.Exchange, error)
	RequestProof(ctx context.Context, partnerID id.PartnerID, spec agent.ProofSpec) (*models.Exchange, error)
	Get(ctx context.Context, exchangeID id.ExchangeID) (*models.Exchange, error)
	ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error)
	ListPartnerCredentials(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error)
	ListPartnerProofs(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error)
	Decline(ctx context.Context, exchangeID id.ExchangeID, reason string) (*models.Exchange, error)
}

// Handler exposes credential and proof exchanges over HTTP.
type Handler struct {
	exchanges Service
	logger    *slog.Logger
}

func New(exchanges Service, logger *slog.Logger) *Handler {
	return &Handler{exchanges: exchanges, logger: logger}
}

// Register mounts the exchange routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/partners/{partnerID}/credential-requests", h.handleRequestCredential)
	r.Post("/partners/{partnerID}/proof-requests", h.handleRequestProof)
	r.Get("/partners/{partnerID}/exchanges", h.handleListByPartner)
	r.Get("/partners/{partnerID}/credentials", h.handleListCredentials)
	r.Get("/partners/{partnerID}/proofs", h.handleListProofs)
	r.Get("/exchanges/{exchangeID}", h.handleGet)
	r.Post("/exchanges/{exchangeID}/decline", h.handleDecline)
}

type requestCredentialRequest struct {
	DocumentID string `json:"document_id"`
	SchemaID   string `json:"schema_id,omitempty"`
}

func (h *Handler) handleRequestCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[requestCredentialRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	exchange, err := h.exchanges.RequestCredential(ctx, partnerID, req.DocumentID, id.SchemaID(req.SchemaID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, exchange)
}

type requestProofRequest struct {
	Name           string   `json:"name"`
	SchemaID       string   `json:"schema_id,omitempty"`
	AttributeNames []string `json:"attribute_names"`
}

func (h *Handler) handleRequestProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[requestProofRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	exchange, err := h.exchanges.RequestProof(ctx, partnerID, agent.ProofSpec{
		Name:           req.Name,
		SchemaID:       id.SchemaID(req.SchemaID),
		AttributeNames: req.AttributeNames,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, exchange)
}

func (h *Handler) handleListByPartner(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.exchanges.ListByPartner, "exchanges")
}

func (h *Handler) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.exchanges.ListPartnerCredentials, "credentials")
}

func (h *Handler) handleListProofs(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.exchanges.ListPartnerProofs, "proofs")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, id.PartnerID) ([]*models.Exchange, error), key string) {
	partnerID, ok := h.partnerIDFromPath(w, r)
	if !ok {
		return
	}
	exchanges, err := fetch(r.Context(), partnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{key: exchanges})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	exchangeID, err := id.ParseExchangeID(chi.URLParam(r, "exchangeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	exchange, err := h.exchanges.Get(r.Context(), exchangeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exchange)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exchangeID, err := id.ParseExchangeID(chi.URLParam(r, "exchangeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeJSON[declineRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = "declined_by_operator"
	}

	exchange, err := h.exchanges.Decline(ctx, exchangeID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exchange)
}

func (h *Handler) partnerIDFromPath(w http.ResponseWriter, r *http.Request) (id.PartnerID, bool) {
	partnerID, err := id.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PartnerID{}, false
	}
	return partnerID, true
}
