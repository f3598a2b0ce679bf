package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/ledger"
	"github.com/agentauth/consentd/internal/observability/logger"
	"github.com/agentauth/consentd/internal/store/memory"
	"github.com/agentauth/consentd/internal/token"
)

type harness struct {
	engine *Engine
	store  *memory.Store
	codec  *token.Codec
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	keys, err := token.NewDevKeys()
	require.NoError(t, err)
	codec := token.NewCodec("consentd-test", keys)
	store := memory.New()
	cc := NewConsentCache(store, nil, time.Minute)
	return &harness{
		engine: New(store, codec, cc, opts),
		store:  store,
		codec:  codec,
	}
}

// seedConsent persiste un consent activo y devuelve su delegation token.
func (h *harness) seedConsent(t *testing.T, cs consent.Constraints) (*consent.Consent, string) {
	t.Helper()
	now := time.Now().UTC()
	c := &consent.Consent{
		ID:          "cns_test",
		UserID:      "user_1",
		Intent:      "Buy cheapest flight to NYC under $500",
		Constraints: cs,
		ValidFrom:   now.Add(-time.Minute),
		ValidUntil:  now.Add(24 * time.Hour),
		Status:      consent.StatusActive,
		CreatedAt:   now,
	}
	require.NoError(t, h.store.CreateConsent(context.Background(), c))
	tok, _, err := h.codec.IssueDelegation(c, time.Hour)
	require.NoError(t, err)
	return c, tok
}

func flightConstraints() consent.Constraints {
	return consent.Constraints{
		AllowedMerchants: []string{"united", "delta"},
		MaxAmount:        50000,
		DailyLimit:       50000,
		Currency:         "USD",
	}
}

func TestAuthorizeAndVerifyHappyPath(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	cons, tok := h.seedConsent(t, flightConstraints())

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Action:          "purchase",
		Transaction: consent.Transaction{
			Amount: 34700, Currency: "USD", MerchantID: "united", Category: "travel",
		},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, out.Decision)
	require.Equal(t, cons.ID, out.ConsentID)
	require.NotEmpty(t, out.AuthorizationCode)
	require.NotEmpty(t, out.CodeID)

	ver, err := h.engine.Verify(ctx, VerifyInput{
		AuthorizationCode: out.AuthorizationCode,
		Amount:            34700,
		Currency:          "USD",
		MerchantID:        "united",
	})
	require.NoError(t, err)
	require.True(t, ver.Valid)
	require.Equal(t, out.CodeID, ver.AuthorizationID)
	require.NotEmpty(t, ver.ProofToken)
	require.NotNil(t, ver.Proof)
	require.Equal(t, cons.ID, ver.Proof.ConsentID)
	require.Equal(t, int64(50000), ver.Proof.MaxAuthorized)
	require.Equal(t, int64(34700), ver.Proof.ActualAmount)
	require.Equal(t, cons.Intent, ver.Proof.UserIntent)
	require.True(t, ver.Proof.SignatureValid)

	// Segundo cobro con el mismo code: exactamente una vez.
	again, err := h.engine.Verify(ctx, VerifyInput{
		AuthorizationCode: out.AuthorizationCode,
		Amount:            34700,
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.False(t, again.Valid)
	require.Equal(t, VerifyErrAlreadyUsed, again.Error)
}

func TestAuthorizeDailyLimitAcrossTransactions(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, tok := h.seedConsent(t, flightConstraints())

	first, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 34700, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, first.Decision)

	// 34700 + 20000 > 50000: la reserva anterior cuenta aunque el code
	// no se haya canjeado todavía.
	second, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 20000, Currency: "USD", MerchantID: "delta"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, second.Decision)
	require.Equal(t, consent.ReasonDailyLimitExceeded, second.Reason)

	// El complemento exacto sí entra.
	third, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 15300, Currency: "USD", MerchantID: "delta"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, third.Decision)
}

func TestAuthorizeAmountExceeded(t *testing.T) {
	h := newHarness(t, Options{})
	_, tok := h.seedConsent(t, flightConstraints())

	out, err := h.engine.Authorize(context.Background(), AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 60000, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, out.Decision)
	require.Equal(t, consent.ReasonAmountExceeded, out.Reason)
	require.Contains(t, out.Message, "600.00 USD")
	require.Contains(t, out.Message, "500.00 USD")
	require.Empty(t, out.AuthorizationCode)
}

func TestAuthorizeDenyLeavesLedgerIntact(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	cons, tok := h.seedConsent(t, flightConstraints())

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 60000, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, out.Decision)

	spend, err := h.store.CurrentSpend(ctx, cons.ID, ledger.At(time.Now().UTC()))
	require.NoError(t, err)
	require.Zero(t, spend.Daily)
	require.Zero(t, spend.Monthly)
}

func TestAuthorizeInvalidToken(t *testing.T) {
	h := newHarness(t, Options{})

	out, err := h.engine.Authorize(context.Background(), AuthorizeInput{
		DelegationToken: "no.es.jwt",
		Transaction:     consent.Transaction{Amount: 100, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, out.Decision)
	require.Equal(t, consent.ReasonInvalidToken, out.Reason)
}

func TestAuthorizeRevokedConsent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	cons, tok := h.seedConsent(t, flightConstraints())

	_, err := h.store.TransitionConsent(ctx, cons.ID, consent.StatusRevoked, consent.StatusActive)
	require.NoError(t, err)

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 100, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, out.Decision)
	require.Equal(t, consent.ReasonConsentUnavailable, out.Reason)
}

func TestAuthorizePendingConsent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	c := &consent.Consent{
		ID:          "cns_pending",
		UserID:      "user_1",
		Constraints: flightConstraints(),
		ValidFrom:   now.Add(-time.Minute),
		ValidUntil:  now.Add(24 * time.Hour),
		Status:      consent.StatusPending,
		CreatedAt:   now,
	}
	require.NoError(t, h.store.CreateConsent(ctx, c))
	tok, _, err := h.codec.IssueDelegation(c, time.Hour)
	require.NoError(t, err)

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 100, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, out.Decision)
	require.Equal(t, consent.ReasonConsentUnavailable, out.Reason)
}

func TestAuthorizeExpiredConsent(t *testing.T) {
	// Reloj del motor dos horas en el futuro: el consent quedó vencido
	// mientras el delegation token (validado con reloj real) sigue vivo.
	future := time.Now().UTC().Add(2 * time.Hour)
	h := newHarness(t, Options{Now: func() time.Time { return future }})
	ctx := context.Background()
	now := time.Now().UTC()

	c := &consent.Consent{
		ID:          "cns_exp",
		UserID:      "user_1",
		Constraints: flightConstraints(),
		ValidFrom:   now.Add(-time.Minute),
		ValidUntil:  now.Add(time.Hour),
		Status:      consent.StatusActive,
		CreatedAt:   now,
	}
	require.NoError(t, h.store.CreateConsent(ctx, c))
	tok, _, err := h.codec.IssueDelegation(c, 30*time.Minute)
	require.NoError(t, err)

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 100, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, out.Decision)
	require.Equal(t, consent.ReasonConsentExpired, out.Reason)
}

func TestVerifyTamperedAmountDoesNotBurnCode(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, tok := h.seedConsent(t, flightConstraints())

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 34700, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, out.Decision)

	// Monto alterado: mismatch antes del canje.
	bad, err := h.engine.Verify(ctx, VerifyInput{
		AuthorizationCode: out.AuthorizationCode,
		Amount:            48000,
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.False(t, bad.Valid)
	require.Equal(t, VerifyErrAmount, bad.Error)

	// El code legítimo no se quemó: el cobro correcto sigue pasando.
	good, err := h.engine.Verify(ctx, VerifyInput{
		AuthorizationCode: out.AuthorizationCode,
		Amount:            34700,
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.True(t, good.Valid)
}

func TestVerifyCurrencyAndMerchantMismatch(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, tok := h.seedConsent(t, flightConstraints())

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Transaction:     consent.Transaction{Amount: 34700, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, out.Decision)

	ver, err := h.engine.Verify(ctx, VerifyInput{
		AuthorizationCode: out.AuthorizationCode,
		Amount:            34700,
		Currency:          "EUR",
	})
	require.NoError(t, err)
	require.Equal(t, VerifyErrCurrency, ver.Error)

	ver, err = h.engine.Verify(ctx, VerifyInput{
		AuthorizationCode: out.AuthorizationCode,
		Amount:            34700,
		Currency:          "USD",
		MerchantID:        "delta",
	})
	require.NoError(t, err)
	require.Equal(t, VerifyErrMerchant, ver.Error)

	// Merchant omitido es opcional, no un mismatch.
	ver, err = h.engine.Verify(ctx, VerifyInput{
		AuthorizationCode: out.AuthorizationCode,
		Amount:            34700,
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.True(t, ver.Valid)
}

func TestVerifyGarbageCode(t *testing.T) {
	h := newHarness(t, Options{})

	ver, err := h.engine.Verify(context.Background(), VerifyInput{
		AuthorizationCode: "garbage",
		Amount:            100,
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.False(t, ver.Valid)
	require.Equal(t, VerifyErrInvalidCode, ver.Error)
}

func TestAuthorizeAuditsAction(t *testing.T) {
	h := newHarness(t, Options{})
	obs, logs := observer.New(zap.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(obs))
	_, tok := h.seedConsent(t, flightConstraints())

	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Action:          "purchase",
		Transaction:     consent.Transaction{Amount: 34700, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, out.Decision)

	allows := logs.FilterField(zap.String("audit_event", "authorize.allow")).All()
	require.Len(t, allows, 1)
	fields := allows[0].ContextMap()
	require.Equal(t, "purchase", fields["action"])

	// El denial también lleva la acción.
	_, err = h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: tok,
		Action:          "refund",
		Transaction:     consent.Transaction{Amount: 60000, Currency: "USD", MerchantID: "united"},
	})
	require.NoError(t, err)

	denies := logs.FilterField(zap.String("audit_event", "authorize.deny")).All()
	require.NotEmpty(t, denies)
	require.Equal(t, "refund", denies[len(denies)-1].ContextMap()["action"])
}

func TestConsentServiceLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	cc := NewConsentCache(h.store, nil, time.Minute)
	svc := NewConsentService(h.store, h.codec, cc, ConsentServiceOptions{RequireApproval: true})

	created, err := svc.Create(ctx, CreateInput{
		UserID: "user_1",
		Intent: "Groceries",
		Constraints: consent.Constraints{
			MaxAmount: 10000,
			Currency:  "USD",
		},
	})
	require.NoError(t, err)
	require.Equal(t, consent.StatusPending, created.Consent.Status)
	require.NotEmpty(t, created.DelegationToken)

	// Pending no autoriza nada todavía.
	out, err := h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: created.DelegationToken,
		Transaction:     consent.Transaction{Amount: 100, Currency: "USD", MerchantID: "acme"},
	})
	require.NoError(t, err)
	require.Equal(t, consent.ReasonConsentUnavailable, out.Reason)

	approved, err := svc.Approve(ctx, created.Consent.ID)
	require.NoError(t, err)
	require.Equal(t, consent.StatusActive, approved.Status)

	out, err = h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: created.DelegationToken,
		Transaction:     consent.Transaction{Amount: 100, Currency: "USD", MerchantID: "acme"},
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, out.Decision)

	revoked, err := svc.Revoke(ctx, created.Consent.ID)
	require.NoError(t, err)
	require.Equal(t, consent.StatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)

	// Revocación efectiva inmediata.
	out, err = h.engine.Authorize(ctx, AuthorizeInput{
		DelegationToken: created.DelegationToken,
		Transaction:     consent.Transaction{Amount: 100, Currency: "USD", MerchantID: "acme"},
	})
	require.NoError(t, err)
	require.Equal(t, consent.ReasonConsentUnavailable, out.Reason)

	// Approve sobre revoked: transición inválida.
	_, err = svc.Approve(ctx, created.Consent.ID)
	require.Error(t, err)
}
