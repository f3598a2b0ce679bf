// Package consents contiene los controllers del ciclo de vida de consents.
package consents

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/engine"
	"github.com/agentauth/consentd/internal/http/dto"
	httperrors "github.com/agentauth/consentd/internal/http/errors"
	"github.com/agentauth/consentd/internal/http/helpers"
	"github.com/agentauth/consentd/internal/observability/logger"
	"github.com/agentauth/consentd/internal/store/core"
)

// Controller maneja POST /v1/consents y el ciclo de vida.
type Controller struct {
	service *engine.ConsentService
}

func NewController(service *engine.ConsentService) *Controller {
	return &Controller{service: service}
}

// Register monta las rutas del dominio consents.
func (c *Controller) Register(r chi.Router) {
	r.Route("/v1/consents", func(r chi.Router) {
		r.Post("/", c.Create)
		r.Get("/", c.List)
		r.Get("/{id}", c.Get)
		r.Post("/{id}/approve", c.Approve)
		r.Post("/{id}/deny", c.Deny)
		r.Post("/{id}/revoke", c.Revoke)
	})
}

// Create maneja POST /v1/consents.
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Consents.Create"))

	var req dto.CreateConsentRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	if appErr := validateCreate(&req); appErr != nil {
		httperrors.WriteError(w, appErr)
		return
	}

	in := engine.CreateInput{
		UserID:      strings.TrimSpace(req.UserID),
		AgentID:     strings.TrimSpace(req.AgentID),
		Intent:      strings.TrimSpace(req.Intent),
		Constraints: req.Constraints,
		PublicKey:   req.PublicKey,
		Signature:   req.Signature,
	}
	if req.ValidFrom != nil {
		in.ValidFrom = req.ValidFrom.UTC()
	}
	if req.ValidUntil != nil {
		in.ValidUntil = req.ValidUntil.UTC()
	}

	created, err := c.service.Create(ctx, in)
	if err != nil {
		if errors.Is(err, consent.ErrBadPublicKey) || errors.Is(err, consent.ErrBadSignature) {
			httperrors.WriteError(w, httperrors.ErrInvalidSignature)
			return
		}
		if errors.Is(err, core.ErrConflict) {
			httperrors.WriteError(w, httperrors.ErrConflict)
			return
		}
		log.Error("consent create failed", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusCreated, dto.CreateConsentResponse{
		Consent:         created.Consent,
		DelegationToken: created.DelegationToken,
		TokenExpiresAt:  created.TokenExpiresAt,
	})
}

// Get maneja GET /v1/consents/{id}.
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cons, err := c.service.Get(r.Context(), id)
	if err != nil {
		writeConsentError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.ConsentResponse{Consent: cons})
}

// List maneja GET /v1/consents?user_id=.
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("user_id es requerido"))
		return
	}

	list, err := c.service.ListByUser(r.Context(), userID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.ListConsentsResponse{Consents: list, Count: len(list)})
}

// Approve maneja POST /v1/consents/{id}/approve.
func (c *Controller) Approve(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.service.Approve)
}

// Deny maneja POST /v1/consents/{id}/deny.
func (c *Controller) Deny(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.service.Deny)
}

// Revoke maneja POST /v1/consents/{id}/revoke.
func (c *Controller) Revoke(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.service.Revoke)
}

func (c *Controller) transition(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, string) (*consent.Consent, error)) {
	id := chi.URLParam(r, "id")

	cons, err := fn(r.Context(), id)
	if err != nil {
		writeConsentError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.ConsentResponse{Consent: cons})
}

func writeConsentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		httperrors.WriteError(w, httperrors.ErrNotFound)
	case errors.Is(err, core.ErrInvalidState):
		httperrors.WriteError(w, httperrors.ErrInvalidState)
	default:
		httperrors.WriteError(w, err)
	}
}

func validateCreate(req *dto.CreateConsentRequest) *httperrors.AppError {
	if strings.TrimSpace(req.UserID) == "" {
		return httperrors.ErrMissingFields.WithDetail("user_id es requerido")
	}
	cc := req.Constraints
	if cc.Currency == "" {
		return httperrors.ErrMissingFields.WithDetail("constraints.currency es requerido")
	}
	if !consent.ValidCurrency(cc.Currency) {
		return httperrors.ErrBadRequest.WithDetail("constraints.currency debe ser un código ISO 4217")
	}
	if cc.MaxAmount < 0 || cc.DailyLimit < 0 || cc.MonthlyLimit < 0 {
		return httperrors.ErrBadRequest.WithDetail("los montos no pueden ser negativos")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		return httperrors.ErrBadRequest.WithDetail("valid_until debe ser posterior a valid_from")
	}
	// Firma sin clave (o viceversa) es un request a medias.
	if (req.PublicKey == "") != (req.Signature == "") {
		return httperrors.ErrBadRequest.WithDetail("public_key y signature deben enviarse juntos")
	}
	return nil
}
