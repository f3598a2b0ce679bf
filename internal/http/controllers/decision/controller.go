// Package decision contiene los controllers de /v1/authorize y /v1/verify.
package decision

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/engine"
	"github.com/agentauth/consentd/internal/http/dto"
	httperrors "github.com/agentauth/consentd/internal/http/errors"
	"github.com/agentauth/consentd/internal/http/helpers"
	"github.com/agentauth/consentd/internal/observability/logger"
)

// Controller expone el Decision Engine por HTTP.
type Controller struct {
	engine *engine.Engine
}

func NewController(e *engine.Engine) *Controller {
	return &Controller{engine: e}
}

// Register monta las rutas de decisión.
func (c *Controller) Register(r chi.Router) {
	r.Post("/v1/authorize", c.Authorize)
	r.Post("/v1/verify", c.Verify)
}

// Authorize maneja POST /v1/authorize. ALLOW y DENY son ambos 200: la
// denegación de política es una respuesta exitosa, no un error HTTP.
func (c *Controller) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Decision.Authorize"))

	var req dto.AuthorizeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.DelegationToken) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("delegation_token es requerido"))
		return
	}
	if appErr := validateTransaction(req.Transaction); appErr != nil {
		httperrors.WriteError(w, appErr)
		return
	}

	out, err := c.engine.Authorize(ctx, engine.AuthorizeInput{
		DelegationToken: req.DelegationToken,
		Action:          req.Action,
		Transaction:     req.Transaction,
	})
	if err != nil {
		log.Error("authorize failed", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	resp := dto.AuthorizeResponse{
		Decision:  string(out.Decision),
		Reason:    string(out.Reason),
		Message:   out.Message,
		ConsentID: out.ConsentID,
	}
	if out.Decision == engine.DecisionAllow {
		resp.AuthorizationCode = out.AuthorizationCode
		resp.AuthorizationID = out.CodeID
		exp := out.ExpiresAt
		resp.ExpiresAt = &exp
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Verify maneja POST /v1/verify. Un code inválido es {valid:false} con
// 200: el merchant necesita la razón, no un error de transporte.
func (c *Controller) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Decision.Verify"))

	var req dto.VerifyRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.AuthorizationCode) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("authorization_code es requerido"))
		return
	}
	if req.Amount <= 0 {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("amount debe ser positivo"))
		return
	}
	if !consent.ValidCurrency(req.Currency) {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("currency debe ser un código ISO 4217"))
		return
	}

	out, err := c.engine.Verify(ctx, engine.VerifyInput{
		AuthorizationCode: req.AuthorizationCode,
		Amount:            req.Amount,
		Currency:          req.Currency,
		MerchantID:        strings.TrimSpace(req.MerchantID),
	})
	if err != nil {
		log.Error("verify failed", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.VerifyResponse{
		Valid:           out.Valid,
		Error:           string(out.Error),
		AuthorizationID: out.AuthorizationID,
		Proof:           out.Proof,
		ProofToken:      out.ProofToken,
		VerifiedAt:      out.VerifiedAt,
	})
}

func validateTransaction(tx consent.Transaction) *httperrors.AppError {
	if tx.Amount <= 0 {
		return httperrors.ErrBadRequest.WithDetail("transaction.amount debe ser positivo (unidades menores)")
	}
	if !consent.ValidCurrency(tx.Currency) {
		return httperrors.ErrBadRequest.WithDetail("transaction.currency debe ser un código ISO 4217")
	}
	if strings.TrimSpace(tx.MerchantID) == "" {
		return httperrors.ErrMissingFields.WithDetail("transaction.merchant_id es requerido")
	}
	return nil
}
