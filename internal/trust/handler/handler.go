package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/internal/trust/models"
	"accord/internal/trust/service"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	request "accord/pkg/platform/middleware/request"
)

// Service defines the trust registry operations the handler exposes.
type Service interface {
	RegisterSchema(ctx context.Context, in service.RegisterSchemaInput) (*models.Schema, error)
	GetSchema(ctx context.Context, schemaID id.SchemaID) (*models.Schema, error)
	ListSchemas(ctx context.Context) ([]*models.Schema, error)
	DeleteSchema(ctx context.Context, schemaID id.SchemaID) error
	CanDeleteSchema(ctx context.Context, schemaID id.SchemaID) (bool, error)
	AddRestriction(ctx context.Context, schemaID id.SchemaID, issuerDID id.DID, label string) (*models.TrustedIssuerRestriction, error)
	UpdateRestrictionLabel(ctx context.Context, restrictionID id.RestrictionID, label string) (*models.TrustedIssuerRestriction, error)
	RemoveRestriction(ctx context.Context, restrictionID id.RestrictionID) error
	ListRestrictions(ctx context.Context, schemaID id.SchemaID) ([]*models.TrustedIssuerRestriction, error)
	AddCredentialDefinition(ctx context.Context, in service.AddCredentialDefinitionInput) (*models.CredentialDefinition, error)
	DeleteCredentialDefinition(ctx context.Context, defID id.CredentialDefinitionID) error
	ListCredentialDefinitions(ctx context.Context, schemaID id.SchemaID) ([]*models.CredentialDefinition, error)
}

// Handler exposes the trust registry over HTTP. All mutating routes are meant
// to sit behind the admin-token middleware.
type Handler struct {
	trust  Service
	logger *slog.Logger
}

func New(trust Service, logger *slog.Logger) *Handler {
	return &Handler{trust: trust, logger: logger}
}

// Register mounts the trust registry routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/schemas", h.handleRegisterSchema)
	r.Get("/schemas", h.handleListSchemas)
	r.Get("/schemas/{schemaID}", h.handleGetSchema)
	r.Delete("/schemas/{schemaID}", h.handleDeleteSchema)

	r.Post("/schemas/{schemaID}/trusted-issuers", h.handleAddRestriction)
	r.Get("/schemas/{schemaID}/trusted-issuers", h.handleListRestrictions)
	r.Put("/trusted-issuers/{restrictionID}", h.handleUpdateRestriction)
	r.Delete("/trusted-issuers/{restrictionID}", h.handleRemoveRestriction)

	r.Post("/schemas/{schemaID}/credential-definitions", h.handleAddCredentialDefinition)
	r.Get("/schemas/{schemaID}/credential-definitions", h.handleListCredentialDefinitions)
	r.Delete("/credential-definitions/{defID}", h.handleDeleteCredentialDefinition)
}

type registerSchemaRequest struct {
	SchemaID   string   `json:"schema_id"`
	Label      string   `json:"label"`
	Attributes []string `json:"attributes"`
}

func (h *Handler) handleRegisterSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[registerSchemaRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	schemaID, err := id.ParseSchemaID(req.SchemaID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	schema, err := h.trust.RegisterSchema(ctx, service.RegisterSchemaInput{
		SchemaID:   schemaID,
		Label:      req.Label,
		Attributes: req.Attributes,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, schema)
}

func (h *Handler) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.trust.ListSchemas(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

type schemaResponse struct {
	*models.Schema
	CanBeDeleted bool `json:"can_be_deleted"`
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schemaID, ok := h.schemaIDFromPath(w, r)
	if !ok {
		return
	}

	schema, err := h.trust.GetSchema(ctx, schemaID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	deletable, err := h.trust.CanDeleteSchema(ctx, schemaID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, schemaResponse{Schema: schema, CanBeDeleted: deletable})
}

func (h *Handler) handleDeleteSchema(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := h.schemaIDFromPath(w, r)
	if !ok {
		return
	}
	if err := h.trust.DeleteSchema(r.Context(), schemaID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addRestrictionRequest struct {
	IssuerDID string `json:"issuer_did"`
	Label     string `json:"label"`
}

func (h *Handler) handleAddRestriction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schemaID, ok := h.schemaIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[addRestrictionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	issuerDID, err := id.ParseDID(req.IssuerDID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	restriction, err := h.trust.AddRestriction(ctx, schemaID, issuerDID, req.Label)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, restriction)
}

func (h *Handler) handleListRestrictions(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := h.schemaIDFromPath(w, r)
	if !ok {
		return
	}
	restrictions, err := h.trust.ListRestrictions(r.Context(), schemaID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"trusted_issuers": restrictions})
}

type updateRestrictionRequest struct {
	Label string `json:"label"`
}

func (h *Handler) handleUpdateRestriction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	restrictionID, err := id.ParseRestrictionID(chi.URLParam(r, "restrictionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeJSON[updateRestrictionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	restriction, err := h.trust.UpdateRestrictionLabel(ctx, restrictionID, req.Label)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, restriction)
}

func (h *Handler) handleRemoveRestriction(w http.ResponseWriter, r *http.Request) {
	restrictionID, err := id.ParseRestrictionID(chi.URLParam(r, "restrictionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.trust.RemoveRestriction(r.Context(), restrictionID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCredentialDefinitionRequest struct {
	Tag                    string `json:"tag"`
	SupportsRevocation     bool   `json:"supports_revocation"`
	RevocationRegistrySize int    `json:"revocation_registry_size"`
}

func (h *Handler) handleAddCredentialDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schemaID, ok := h.schemaIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[addCredentialDefinitionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}

	def, err := h.trust.AddCredentialDefinition(ctx, service.AddCredentialDefinitionInput{
		SchemaID:               schemaID,
		Tag:                    req.Tag,
		SupportsRevocation:     req.SupportsRevocation,
		RevocationRegistrySize: req.RevocationRegistrySize,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, def)
}

func (h *Handler) handleListCredentialDefinitions(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := h.schemaIDFromPath(w, r)
	if !ok {
		return
	}
	defs, err := h.trust.ListCredentialDefinitions(r.Context(), schemaID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"credential_definitions": defs})
}

func (h *Handler) handleDeleteCredentialDefinition(w http.ResponseWriter, r *http.Request) {
	defID, err := id.ParseCredentialDefinitionID(chi.URLParam(r, "defID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.trust.DeleteCredentialDefinition(r.Context(), defID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) schemaIDFromPath(w http.ResponseWriter, r *http.Request) (id.SchemaID, bool) {
	schemaID, err := id.ParseSchemaID(chi.URLParam(r, "schemaID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "schema ID is required"))
		return "", false
	}
	return schemaID, true
}
