// Package engine implementa el Decision Engine y el Verification Service:
// la evaluación de transacciones contra consents, la emisión de
// authorization codes y su canje exactamente-una-vez con proof bundle.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/agentauth/consentd/internal/audit"
	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/ledger"
	"github.com/agentauth/consentd/internal/metrics"
	"github.com/agentauth/consentd/internal/observability/logger"
	"github.com/agentauth/consentd/internal/store/core"
	"github.com/agentauth/consentd/internal/token"
)

// Decision es el resultado binario de una autorización.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
)

// Engine orquesta Authorize y Verify. No guarda estado propio: todo lo
// mutable vive en el store (ledger + registros de canje).
type Engine struct {
	store    core.Store
	codec    *token.Codec
	consents *ConsentCache

	codeTTL time.Duration
	now     func() time.Time
}

type Options struct {
	// CodeTTL es la vida útil de un authorization code. Default 300s.
	CodeTTL time.Duration
	// Now permite inyectar el reloj en tests.
	Now func() time.Time
}

func New(store core.Store, codec *token.Codec, consents *ConsentCache, opts Options) *Engine {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 300 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:    store,
		codec:    codec,
		consents: consents,
		codeTTL:  opts.CodeTTL,
		now:      opts.Now,
	}
}

// AuthorizeInput es la solicitud del agente.
type AuthorizeInput struct {
	DelegationToken string
	Action          string
	Transaction     consent.Transaction
}

// AuthorizeOutcome es el objeto de decisión. Un DENY de política es una
// respuesta exitosa del motor, no un error.
type AuthorizeOutcome struct {
	Decision  Decision
	Reason    consent.Reason
	Message   string
	ConsentID string

	// Sólo en ALLOW:
	AuthorizationCode string
	CodeID            string
	ExpiresAt         time.Time
}

func denyOutcome(consentID string, r consent.Reason, msg string) AuthorizeOutcome {
	return AuthorizeOutcome{Decision: DecisionDeny, Reason: r, Message: msg, ConsentID: consentID}
}

// Authorize evalúa una transacción propuesta contra el consent referido
// por el delegation token. Los pasos 1-3 son libres de efectos; sólo la
// reserva del ledger (4) y la emisión del code (5) mutan estado. Un DENY
// en cualquier punto deja el ledger intacto.
func (e *Engine) Authorize(ctx context.Context, in AuthorizeInput) (AuthorizeOutcome, error) {
	start := e.now()
	out, err := e.authorize(ctx, in)
	if err != nil {
		return out, err
	}

	took := e.now().Sub(start)
	metrics.ObserveDecision(string(out.Decision), string(out.Reason), took)
	return out, nil
}

func (e *Engine) authorize(ctx context.Context, in AuthorizeInput) (AuthorizeOutcome, error) {
	log := logger.From(ctx).Named("engine")
	now := e.now()
	tx := in.Transaction

	// 1. Verificar el delegation token. Cualquier falla criptográfica o
	// de expiración es un DENY, nunca un error ambiguo.
	payload, err := e.codec.VerifyDelegation(in.DelegationToken)
	if err != nil {
		msg := "delegation token is invalid"
		if errors.Is(err, token.ErrExpired) {
			msg = "delegation token has expired"
		}
		audit.Log(ctx, audit.AuthorizeDeny,
			logger.Reason(string(consent.ReasonInvalidToken)),
			logger.Action(in.Action))
		return denyOutcome("", consent.ReasonInvalidToken, msg), nil
	}

	// 2. Cargar el consent (cache-first). El token prueba que existió;
	// el store es la autoridad sobre revocación y estado.
	cons, err := e.consents.Get(ctx, payload.ConsentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			audit.Log(ctx, audit.AuthorizeDeny,
				logger.ConsentID(payload.ConsentID),
				logger.Reason(string(consent.ReasonConsentUnavailable)),
				logger.Action(in.Action))
			return denyOutcome(payload.ConsentID, consent.ReasonConsentUnavailable,
				"consent does not exist"), nil
		}
		return AuthorizeOutcome{}, err
	}

	switch cons.EffectiveStatus(now) {
	case consent.StatusActive:
		// sigue
	case consent.StatusExpired:
		audit.Log(ctx, audit.AuthorizeDeny,
			logger.ConsentID(cons.ID),
			logger.Reason(string(consent.ReasonConsentExpired)),
			logger.Action(in.Action))
		return denyOutcome(cons.ID, consent.ReasonConsentExpired, "consent has expired"), nil
	default: // pending, revoked
		audit.Log(ctx, audit.AuthorizeDeny,
			logger.ConsentID(cons.ID),
			logger.Reason(string(consent.ReasonConsentUnavailable)),
			logger.Action(in.Action))
		return denyOutcome(cons.ID, consent.ReasonConsentUnavailable,
			"consent has been revoked or is not yet active"), nil
	}

	// 3. Constraint Model con el snapshot del token: los límites
	// originales no requieren lookup; el gasto vigente sí.
	windows := ledger.At(now)
	spend, err := e.store.CurrentSpend(ctx, cons.ID, windows)
	if err != nil {
		return AuthorizeOutcome{}, err
	}

	res := consent.Evaluate(payload.Constraints, cons.Window(), tx, spend, now)
	if !res.Permit {
		audit.Log(ctx, audit.AuthorizeDeny,
			logger.ConsentID(cons.ID),
			logger.Reason(string(res.Reason)),
			logger.Action(in.Action),
			logger.MerchantID(tx.MerchantID),
			logger.Amount(tx.Amount))
		return denyOutcome(cons.ID, res.Reason, res.Message), nil
	}

	// 4. Reservar en el ledger. El precheck de arriba es una
	// optimización; acá está la autoridad. Perder la carrera se reporta
	// igual que un limit breach (el caller no distingue), pero el audit
	// trail sí lo marca.
	_, err = e.store.TryReserve(ctx, cons.ID, windows, tx.Amount, tx.Currency, core.Limits{
		Daily:   payload.Constraints.DailyLimit,
		Monthly: payload.Constraints.MonthlyLimit,
	})
	if err != nil {
		var reason consent.Reason
		switch {
		case errors.Is(err, core.ErrDailyLimitExceeded):
			reason = consent.ReasonDailyLimitExceeded
		case errors.Is(err, core.ErrMonthlyLimitExceeded):
			reason = consent.ReasonMonthlyLimitExceeded
		default:
			return AuthorizeOutcome{}, err
		}
		metrics.ObserveLedgerConflict()
		audit.Log(ctx, audit.AuthorizeDeny,
			logger.ConsentID(cons.ID),
			logger.Reason(string(reason)),
			logger.Action(in.Action),
			logger.Amount(tx.Amount),
			logger.Bool("ledger_race", true))
		return denyOutcome(cons.ID, reason, "spend limit would be exceeded"), nil
	}

	// 5. Emitir el code atado al fingerprint exacto y persistir el
	// registro de canje.
	signed, codePayload, err := e.codec.IssueAuthCode(cons.ID, tx, e.codeTTL)
	if err != nil {
		return AuthorizeOutcome{}, err
	}
	rec := &core.AuthCode{
		ID:              codePayload.CodeID,
		ConsentID:       cons.ID,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		MerchantID:      tx.MerchantID,
		Category:        tx.Category,
		FingerprintHash: codePayload.FingerprintHash,
		IssuedAt:        codePayload.IssuedAt,
		ExpiresAt:       codePayload.ExpiresAt,
	}
	if err := e.store.CreateAuthCode(ctx, rec); err != nil {
		// El gasto ya quedó comprometido: una reserva emitida no se
		// des-reserva en v1. Preferible subutilizar el límite a abrir
		// una ventana de doble gasto.
		log.Error("auth code persist failed after reserve",
			logger.ConsentID(cons.ID), logger.Err(err))
		return AuthorizeOutcome{}, err
	}

	audit.Log(ctx, audit.AuthorizeAllow,
		logger.ConsentID(cons.ID),
		logger.CodeID(codePayload.CodeID),
		logger.Action(in.Action),
		logger.MerchantID(tx.MerchantID),
		logger.Amount(tx.Amount),
		logger.Currency(tx.Currency))

	return AuthorizeOutcome{
		Decision:          DecisionAllow,
		ConsentID:         cons.ID,
		AuthorizationCode: signed,
		CodeID:            codePayload.CodeID,
		ExpiresAt:         codePayload.ExpiresAt,
	}, nil
}
