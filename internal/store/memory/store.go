// Package memory implementa core.Store en memoria, para desarrollo y
// tests. Un único mutex serializa las operaciones: la linealizabilidad
// por consent sale gratis a costa de throughput, que en este contexto
// no importa.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/ledger"
	"github.com/agentauth/consentd/internal/store/core"
)

type Store struct {
	mu       sync.Mutex
	consents map[string]*consent.Consent
	codes    map[string]*core.AuthCode
	// spend: consentID → windowKey → acumulado
	spend map[string]map[string]int64
}

func New() *Store {
	return &Store{
		consents: make(map[string]*consent.Consent),
		codes:    make(map[string]*core.AuthCode),
		spend:    make(map[string]map[string]int64),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

// ─── Consents ───

func (s *Store) CreateConsent(ctx context.Context, c *consent.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[c.ID]; ok {
		return core.ErrConflict
	}
	cp := *c
	s.consents[c.ID] = &cp
	return nil
}

func (s *Store) GetConsent(ctx context.Context, id string) (*consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListConsentsByUser(ctx context.Context, userID string) ([]consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []consent.Consent
	for _, c := range s.consents {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TransitionConsent(ctx context.Context, id string, to consent.Status, from ...consent.Status) (*consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, core.ErrInvalidState
	}
	c.Status = to
	if to == consent.StatusRevoked {
		now := time.Now().UTC()
		c.RevokedAt = &now
	}
	cp := *c
	return &cp, nil
}

// ─── Authorization codes ───

func (s *Store) CreateAuthCode(ctx context.Context, code *core.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.ID]; ok {
		return core.ErrConflict
	}
	cp := *code
	s.codes[code.ID] = &cp
	return nil
}

func (s *Store) GetAuthCode(ctx context.Context, id string) (*core.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) RedeemAuthCode(ctx context.Context, id, redeemedBy string, now time.Time) (*core.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if c.Redeemed {
		return nil, core.ErrCodeRedeemed
	}
	c.Redeemed = true
	t := now
	c.RedeemedAt = &t
	c.RedeemedBy = redeemedBy
	cp := *c
	return &cp, nil
}

// ─── Spend ledger ───

func (s *Store) TryReserve(ctx context.Context, consentID string, w ledger.Windows, amount int64, currency string, limits core.Limits) (consent.Spend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	windows := s.spend[consentID]
	if windows == nil {
		windows = make(map[string]int64)
		s.spend[consentID] = windows
	}

	daily := windows[w.Day]
	monthly := windows[w.Month]

	// Chequear ambas ventanas antes de mutar cualquiera: all-or-nothing.
	if limits.Daily > 0 && daily+amount > limits.Daily {
		return consent.Spend{}, core.ErrDailyLimitExceeded
	}
	if limits.Monthly > 0 && monthly+amount > limits.Monthly {
		return consent.Spend{}, core.ErrMonthlyLimitExceeded
	}

	windows[w.Day] = daily + amount
	windows[w.Month] = monthly + amount
	return consent.Spend{Daily: daily + amount, Monthly: monthly + amount}, nil
}

func (s *Store) CurrentSpend(ctx context.Context, consentID string, w ledger.Windows) (consent.Spend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	windows := s.spend[consentID]
	if windows == nil {
		return consent.Spend{}, nil
	}
	return consent.Spend{Daily: windows[w.Day], Monthly: windows[w.Month]}, nil
}

var _ core.Store = (*Store)(nil)
