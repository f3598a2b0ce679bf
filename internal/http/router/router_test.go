package router_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentauth/consentd/internal/cache"
	"github.com/agentauth/consentd/internal/engine"
	"github.com/agentauth/consentd/internal/http/controllers/consents"
	"github.com/agentauth/consentd/internal/http/controllers/decision"
	"github.com/agentauth/consentd/internal/http/controllers/system"
	"github.com/agentauth/consentd/internal/http/dto"
	"github.com/agentauth/consentd/internal/http/router"
	"github.com/agentauth/consentd/internal/store/memory"
	"github.com/agentauth/consentd/internal/token"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	keys, err := token.NewDevKeys()
	require.NoError(t, err)
	codec := token.NewCodec("consentd-test", keys)
	store := memory.New()
	cc := engine.NewConsentCache(store, nil, time.Minute)
	eng := engine.New(store, codec, cc, engine.Options{})
	svc := engine.NewConsentService(store, codec, cc, engine.ConsentServiceOptions{})

	return router.New(router.Deps{
		Consents:         consents.NewController(svc),
		Decision:         decision.NewController(eng),
		System:           system.NewController(store, nil, keys, "test"),
		IdempotencyCache: cache.NewMemory("test", time.Hour),
		IdempotencyTTL:   time.Hour,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createConsent(t *testing.T, h http.Handler) dto.CreateConsentResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/consents", map[string]any{
		"user_id":            "user_1",
		"agent_id":           "agent_1",
		"intent_description": "Buy cheapest flight to NYC under $500",
		"constraints": map[string]any{
			"allowed_merchants": []string{"united", "delta"},
			"max_amount":        50000,
			"daily_limit":       50000,
			"currency":          "USD",
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out dto.CreateConsentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.DelegationToken)
	require.NotNil(t, out.Consent)
	return out
}

func TestCreateAuthorizeVerifyFlow(t *testing.T) {
	h := newTestHandler(t)
	created := createConsent(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/authorize", dto.AuthorizeRequest{
		DelegationToken: created.DelegationToken,
		Action:          "purchase",
	}, nil)
	// Falta transaction: 400, no un DENY.
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/authorize", map[string]any{
		"delegation_token": created.DelegationToken,
		"action":           "purchase",
		"transaction": map[string]any{
			"amount":      34700,
			"currency":    "USD",
			"merchant_id": "united",
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var auth dto.AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	require.Equal(t, "ALLOW", auth.Decision)
	require.NotEmpty(t, auth.AuthorizationCode)
	require.NotEmpty(t, auth.AuthorizationID)
	require.NotNil(t, auth.ExpiresAt)

	rec = doJSON(t, h, http.MethodPost, "/v1/verify", dto.VerifyRequest{
		AuthorizationCode: auth.AuthorizationCode,
		Amount:            34700,
		Currency:          "USD",
		MerchantID:        "united",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ver dto.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ver))
	require.True(t, ver.Valid)
	require.NotEmpty(t, ver.ProofToken)
	require.NotNil(t, ver.Proof)
	require.Equal(t, int64(34700), ver.Proof.ActualAmount)

	// Re-verify: sigue siendo 200, pero valid=false.
	rec = doJSON(t, h, http.MethodPost, "/v1/verify", dto.VerifyRequest{
		AuthorizationCode: auth.AuthorizationCode,
		Amount:            34700,
		Currency:          "USD",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ver))
	require.False(t, ver.Valid)
	require.Equal(t, "authorization_already_used", ver.Error)
}

func TestAuthorizeDenyIsHTTP200(t *testing.T) {
	h := newTestHandler(t)
	created := createConsent(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/authorize", map[string]any{
		"delegation_token": created.DelegationToken,
		"transaction": map[string]any{
			"amount":      60000,
			"currency":    "USD",
			"merchant_id": "united",
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var auth dto.AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	require.Equal(t, "DENY", auth.Decision)
	require.Equal(t, "amount_exceeded", auth.Reason)
	require.Empty(t, auth.AuthorizationCode)
}

func TestCreateConsentValidation(t *testing.T) {
	h := newTestHandler(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing user_id", map[string]any{
			"constraints": map[string]any{"max_amount": 100, "currency": "USD"},
		}},
		{"missing currency", map[string]any{
			"user_id":     "user_1",
			"constraints": map[string]any{"max_amount": 100},
		}},
		{"bad currency", map[string]any{
			"user_id":     "user_1",
			"constraints": map[string]any{"max_amount": 100, "currency": "dolares"},
		}},
		{"negative amount", map[string]any{
			"user_id":     "user_1",
			"constraints": map[string]any{"max_amount": -1, "currency": "USD"},
		}},
		{"signature without key", map[string]any{
			"user_id":     "user_1",
			"constraints": map[string]any{"max_amount": 100, "currency": "USD"},
			"signature":   "c2ln",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/v1/consents", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestConsentLifecycleEndpoints(t *testing.T) {
	h := newTestHandler(t)
	created := createConsent(t, h)
	id := created.Consent.ID

	rec := doJSON(t, h, http.MethodGet, "/v1/consents/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/consents?user_id=user_1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list dto.ListConsentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)

	rec = doJSON(t, h, http.MethodPost, "/v1/consents/"+id+"/revoke", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Revoke de nuevo: transición inválida.
	rec = doJSON(t, h, http.MethodPost, "/v1/consents/"+id+"/revoke", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/consents/cns_nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdempotentAuthorizeReplay(t *testing.T) {
	h := newTestHandler(t)
	created := createConsent(t, h)

	body := map[string]any{
		"delegation_token": created.DelegationToken,
		"transaction": map[string]any{
			"amount":      34700,
			"currency":    "USD",
			"merchant_id": "united",
		},
	}
	hdr := map[string]string{"Idempotency-Key": "idem-123"}

	rec := doJSON(t, h, http.MethodPost, "/v1/authorize", body, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	var first dto.AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Equal(t, "ALLOW", first.Decision)

	// Replay: misma respuesta (mismo code), el ledger no se toca dos
	// veces. Sin idempotencia este segundo request agotaría el límite.
	rec = doJSON(t, h, http.MethodPost, "/v1/authorize", body, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true", rec.Header().Get("X-Idempotent-Replay"))
	var second dto.AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, first.AuthorizationCode, second.AuthorizationCode)

	// Misma key con otro body: conflicto.
	other := map[string]any{
		"delegation_token": created.DelegationToken,
		"transaction": map[string]any{
			"amount":      100,
			"currency":    "USD",
			"merchant_id": "united",
		},
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/authorize", other, hdr)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSystemEndpoints(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 2)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/authorize", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
