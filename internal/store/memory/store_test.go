package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/ledger"
	"github.com/agentauth/consentd/internal/store/core"
)

func newConsent(id, userID string, created time.Time) *consent.Consent {
	return &consent.Consent{
		ID:     id,
		UserID: userID,
		Constraints: consent.Constraints{
			MaxAmount: 50000,
			Currency:  "USD",
		},
		ValidFrom:  created,
		ValidUntil: created.Add(24 * time.Hour),
		Status:     consent.StatusActive,
		CreatedAt:  created,
	}
}

func TestConsentCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	c := newConsent("cns_1", "user_1", now)
	if err := s.CreateConsent(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateConsent(ctx, c); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("duplicate create: expected ErrConflict, got %v", err)
	}

	got, err := s.GetConsent(ctx, "cns_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "user_1" {
		t.Errorf("got %+v", got)
	}

	// Mutar la copia devuelta no debe afectar lo guardado.
	got.Status = consent.StatusRevoked
	again, _ := s.GetConsent(ctx, "cns_1")
	if again.Status != consent.StatusActive {
		t.Error("store returned a shared pointer")
	}

	if _, err := s.GetConsent(ctx, "cns_nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListConsentsByUserOrdered(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"cns_a", "cns_b", "cns_c"} {
		c := newConsent(id, "user_1", base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateConsent(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CreateConsent(ctx, newConsent("cns_x", "user_2", base)); err != nil {
		t.Fatal(err)
	}

	out, err := s.ListConsentsByUser(ctx, "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 consents, got %d", len(out))
	}
	// Más reciente primero.
	if out[0].ID != "cns_c" || out[2].ID != "cns_a" {
		t.Errorf("wrong order: %s, %s, %s", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestTransitionConsent(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	c := newConsent("cns_1", "user_1", now)
	c.Status = consent.StatusPending
	if err := s.CreateConsent(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.TransitionConsent(ctx, "cns_1", consent.StatusActive, consent.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != consent.StatusActive {
		t.Errorf("status = %s", got.Status)
	}

	// Approve otra vez: el estado ya no es pending.
	if _, err := s.TransitionConsent(ctx, "cns_1", consent.StatusActive, consent.StatusPending); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	got, err = s.TransitionConsent(ctx, "cns_1", consent.StatusRevoked, consent.StatusPending, consent.StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	if got.RevokedAt == nil {
		t.Error("revoked_at not set")
	}

	if _, err := s.TransitionConsent(ctx, "cns_1", consent.StatusRevoked, consent.StatusPending, consent.StatusActive); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("revoke on revoked: expected ErrInvalidState, got %v", err)
	}

	if _, err := s.TransitionConsent(ctx, "cns_nope", consent.StatusActive, consent.StatusPending); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemAuthCodeExactlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	code := &core.AuthCode{
		ID:         "authz_1",
		ConsentID:  "cns_1",
		Amount:     34700,
		Currency:   "USD",
		MerchantID: "united",
		IssuedAt:   now,
		ExpiresAt:  now.Add(5 * time.Minute),
	}
	if err := s.CreateAuthCode(ctx, code); err != nil {
		t.Fatal(err)
	}

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RedeemAuthCode(ctx, "authz_1", "merchant", now); err == nil {
				wins <- struct{}{}
			} else if !errors.Is(err, core.ErrCodeRedeemed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}

	got, err := s.GetAuthCode(ctx, "authz_1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Redeemed || got.RedeemedAt == nil || got.RedeemedBy != "merchant" {
		t.Errorf("redemption record incomplete: %+v", got)
	}
}

func TestTryReserveAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := ledger.At(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	limits := core.Limits{Daily: 50000, Monthly: 60000}

	if _, err := s.TryReserve(ctx, "cns_1", w, 34700, "USD", limits); err != nil {
		t.Fatal(err)
	}

	// 34700+30000 cabe en el mes (60000) pero no en el día (50000):
	// ninguna ventana debe mutar.
	if _, err := s.TryReserve(ctx, "cns_1", w, 30000, "USD", limits); !errors.Is(err, core.ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	spend, err := s.CurrentSpend(ctx, "cns_1", w)
	if err != nil {
		t.Fatal(err)
	}
	if spend.Daily != 34700 || spend.Monthly != 34700 {
		t.Fatalf("failed reserve mutated the ledger: %+v", spend)
	}

	// El complemento exacto llena el día sin pasarse.
	spend, err = s.TryReserve(ctx, "cns_1", w, 15300, "USD", limits)
	if err != nil {
		t.Fatal(err)
	}
	if spend.Daily != 50000 {
		t.Fatalf("daily = %d", spend.Daily)
	}

	// Día nuevo, mismo mes: el límite mensual sigue mandando.
	w2 := ledger.At(time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC))
	if _, err := s.TryReserve(ctx, "cns_1", w2, 20000, "USD", limits); !errors.Is(err, core.ErrMonthlyLimitExceeded) {
		t.Fatalf("expected ErrMonthlyLimitExceeded, got %v", err)
	}
}

func TestTryReserveConcurrentNeverOversells(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := ledger.At(time.Now().UTC())
	limits := core.Limits{Daily: 10000}

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := int64(0)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TryReserve(ctx, "cns_1", w, 1000, "USD", limits); err == nil {
				mu.Lock()
				reserved += 1000
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if reserved != 10000 {
		t.Fatalf("reserved %d, limit is 10000", reserved)
	}
	spend, _ := s.CurrentSpend(ctx, "cns_1", w)
	if spend.Daily != 10000 {
		t.Fatalf("ledger daily = %d", spend.Daily)
	}
}

func TestZeroLimitsNeverBlock(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := ledger.At(time.Now().UTC())

	for i := 0; i < 5; i++ {
		if _, err := s.TryReserve(ctx, "cns_1", w, 1_000_000, "USD", core.Limits{}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCurrentSpendEmptyConsent(t *testing.T) {
	s := New()
	spend, err := s.CurrentSpend(context.Background(), "cns_missing", ledger.At(time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}
	if spend.Daily != 0 || spend.Monthly != 0 {
		t.Fatalf("expected zero spend, got %+v", spend)
	}
}
