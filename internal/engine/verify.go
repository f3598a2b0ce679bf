package engine

import (
	"context"
	"errors"
	"time"

	"github.com/agentauth/consentd/internal/audit"
	"github.com/agentauth/consentd/internal/metrics"
	"github.com/agentauth/consentd/internal/observability/logger"
	"github.com/agentauth/consentd/internal/store/core"
	"github.com/agentauth/consentd/internal/token"
)

// VerifyError es la taxonomía cerrada de fallas de verificación.
type VerifyError string

const (
	VerifyErrNone        VerifyError = ""
	VerifyErrInvalidCode VerifyError = "invalid_code"
	VerifyErrExpired     VerifyError = "authorization_expired"
	VerifyErrAlreadyUsed VerifyError = "authorization_already_used"
	VerifyErrNotFound    VerifyError = "authorization_not_found"
	VerifyErrAmount      VerifyError = "amount_mismatch"
	VerifyErrCurrency    VerifyError = "currency_mismatch"
	VerifyErrMerchant    VerifyError = "merchant_mismatch"
	VerifyErrNoConsent   VerifyError = "consent_not_found"
)

// VerifyInput son los campos que el merchant está por cobrar realmente.
type VerifyInput struct {
	AuthorizationCode string
	Amount            int64
	Currency          string
	MerchantID        string // opcional; si viene, debe coincidir
}

// ProofBundle es el registro que el merchant retiene para defensa de
// chargebacks, junto con el proof token firmado.
type ProofBundle struct {
	ConsentID        string    `json:"consent_id"`
	UserAuthorizedAt time.Time `json:"user_authorized_at"`
	UserIntent       string    `json:"user_intent,omitempty"`
	MaxAuthorized    int64     `json:"max_authorized_amount"`
	ActualAmount     int64     `json:"actual_amount"`
	Currency         string    `json:"currency"`
	SignatureValid   bool      `json:"signature_valid"`
}

// VerifyOutcome es el resultado del canje.
type VerifyOutcome struct {
	Valid           bool
	Error           VerifyError
	AuthorizationID string
	Proof           *ProofBundle
	ProofToken      string
	VerifiedAt      time.Time
}

// Verify canjea un authorization code exactamente una vez. El orden
// importa: los mismatches de fingerprint se detectan ANTES del canje,
// así un intento de cobro alterado no quema el code legítimo; el CAS
// del store garantiza que de N canjes concurrentes válidos gana uno.
func (e *Engine) Verify(ctx context.Context, in VerifyInput) (VerifyOutcome, error) {
	start := e.now()
	out, err := e.verify(ctx, in)
	if err != nil {
		return out, err
	}

	result := "valid"
	if !out.Valid {
		result = string(out.Error)
	}
	metrics.ObserveVerify(result, e.now().Sub(start))
	return out, nil
}

func (e *Engine) verify(ctx context.Context, in VerifyInput) (VerifyOutcome, error) {
	now := e.now()
	invalid := func(ve VerifyError) VerifyOutcome {
		audit.Log(ctx, audit.VerifyInvalid, logger.Reason(string(ve)))
		return VerifyOutcome{Valid: false, Error: ve, VerifiedAt: now}
	}

	// 1. Firma y expiración del code.
	payload, err := e.codec.VerifyAuthCode(in.AuthorizationCode)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return invalid(VerifyErrExpired), nil
		}
		return invalid(VerifyErrInvalidCode), nil
	}

	// 2. Fingerprint contra lo que el merchant va a cobrar. Cualquier
	// mismatch bloquea que se cobre algo distinto a lo autorizado.
	if payload.Amount != in.Amount {
		return invalid(VerifyErrAmount), nil
	}
	if payload.Currency != in.Currency {
		return invalid(VerifyErrCurrency), nil
	}
	if in.MerchantID != "" && payload.MerchantID != in.MerchantID {
		return invalid(VerifyErrMerchant), nil
	}

	// 3. Canje atómico: exactamente un Verify gana.
	rec, err := e.store.RedeemAuthCode(ctx, payload.CodeID, in.MerchantID, now)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrCodeRedeemed):
			return invalid(VerifyErrAlreadyUsed), nil
		case errors.Is(err, core.ErrNotFound):
			return invalid(VerifyErrNotFound), nil
		default:
			return VerifyOutcome{}, err
		}
	}

	// Cinturón y tiradores: el exp del registro también cuenta. El JWT
	// ya validó exp, pero el registro es la autoridad persistida.
	if now.After(rec.ExpiresAt) {
		return invalid(VerifyErrExpired), nil
	}

	// 4. Consent original para el proof.
	cons, err := e.consents.Get(ctx, rec.ConsentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return invalid(VerifyErrNoConsent), nil
		}
		return VerifyOutcome{}, err
	}

	proofToken, err := e.codec.IssueProof(token.ProofInput{
		ConsentID:       cons.ID,
		AuthorizationID: rec.ID,
		UserIntent:      cons.Intent,
		MaxAuthorized:   cons.Constraints.MaxAmount,
		ActualAmount:    rec.Amount,
		Currency:        rec.Currency,
		VerifiedAt:      now,
	})
	if err != nil {
		return VerifyOutcome{}, err
	}

	audit.Log(ctx, audit.VerifyValid,
		logger.ConsentID(cons.ID),
		logger.CodeID(rec.ID),
		logger.Amount(rec.Amount),
		logger.Currency(rec.Currency))

	return VerifyOutcome{
		Valid:           true,
		AuthorizationID: rec.ID,
		VerifiedAt:      now,
		ProofToken:      proofToken,
		Proof: &ProofBundle{
			ConsentID:        cons.ID,
			UserAuthorizedAt: cons.CreatedAt,
			UserIntent:       cons.Intent,
			MaxAuthorized:    cons.Constraints.MaxAmount,
			ActualAmount:     rec.Amount,
			Currency:         rec.Currency,
			SignatureValid:   true,
		},
	}, nil
}
