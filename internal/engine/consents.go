package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentauth/consentd/internal/audit"
	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/observability/logger"
	"github.com/agentauth/consentd/internal/store/core"
	"github.com/agentauth/consentd/internal/token"
)

// ConsentService maneja creación y ciclo de vida de consents, y la
// emisión del delegation token asociado.
type ConsentService struct {
	store    core.ConsentStore
	codec    *token.Codec
	consents *ConsentCache

	delegationTTL time.Duration
	// requireApproval: los consents nuevos nacen pending y necesitan un
	// approve explícito antes de autorizar nada.
	requireApproval bool
	now             func() time.Time
}

type ConsentServiceOptions struct {
	DelegationTTL   time.Duration // default 1h
	RequireApproval bool
	Now             func() time.Time
}

func NewConsentService(store core.ConsentStore, codec *token.Codec, cc *ConsentCache, opts ConsentServiceOptions) *ConsentService {
	if opts.DelegationTTL <= 0 {
		opts.DelegationTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ConsentService{
		store:           store,
		codec:           codec,
		consents:        cc,
		delegationTTL:   opts.DelegationTTL,
		requireApproval: opts.RequireApproval,
		now:             opts.Now,
	}
}

// CreateInput son los datos validados de un consent nuevo. El controller
// ya rechazó malformaciones; acá sólo lógica de dominio.
type CreateInput struct {
	UserID      string
	AgentID     string
	Intent      string
	Constraints consent.Constraints
	ValidFrom   time.Time // cero = ahora
	ValidUntil  time.Time // cero = ahora + DelegationTTL

	// Flujo no-custodial: firma ed25519 del usuario sobre el payload
	// canónico. Ambos vacíos en flujos custodiales.
	PublicKey string
	Signature string
}

// Created es el resultado de crear un consent.
type Created struct {
	Consent         *consent.Consent
	DelegationToken string
	TokenExpiresAt  time.Time
}

// Create persiste el consent y emite su delegation token.
func (s *ConsentService) Create(ctx context.Context, in CreateInput) (*Created, error) {
	now := s.now()

	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	validUntil := in.ValidUntil
	if validUntil.IsZero() {
		validUntil = now.Add(s.delegationTTL)
	}

	// Verificar la firma del usuario antes de persistir nada.
	if in.PublicKey != "" || in.Signature != "" {
		payload := consent.CanonicalPayload(in.UserID, in.Intent, in.Constraints,
			consent.ValidityWindow{From: validFrom, Until: validUntil})
		if err := consent.VerifyUserSignature(in.PublicKey, in.Signature, payload); err != nil {
			return nil, err
		}
	}

	status := consent.StatusActive
	if s.requireApproval {
		status = consent.StatusPending
	}

	c := &consent.Consent{
		ID:          "cns_" + uuid.NewString(),
		UserID:      in.UserID,
		AgentID:     in.AgentID,
		Intent:      in.Intent,
		Constraints: in.Constraints,
		ValidFrom:   validFrom,
		ValidUntil:  validUntil,
		Status:      status,
		CreatedAt:   now,
		PublicKey:   in.PublicKey,
	}
	if err := s.store.CreateConsent(ctx, c); err != nil {
		return nil, err
	}

	tok, exp, err := s.codec.IssueDelegation(c, s.delegationTTL)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ConsentCreated,
		logger.ConsentID(c.ID),
		logger.UserID(c.UserID),
		logger.String("status", string(c.Status)),
		logger.Amount(c.Constraints.MaxAmount),
		logger.Currency(c.Constraints.Currency))

	return &Created{Consent: c, DelegationToken: tok, TokenExpiresAt: exp}, nil
}

// Get devuelve un consent por id (sin cache: lecturas administrativas).
func (s *ConsentService) Get(ctx context.Context, id string) (*consent.Consent, error) {
	return s.store.GetConsent(ctx, id)
}

// ListByUser lista los consents de un usuario, más reciente primero.
func (s *ConsentService) ListByUser(ctx context.Context, userID string) ([]consent.Consent, error) {
	return s.store.ListConsentsByUser(ctx, userID)
}

// Approve: pending → active.
func (s *ConsentService) Approve(ctx context.Context, id string) (*consent.Consent, error) {
	c, err := s.store.TransitionConsent(ctx, id, consent.StatusActive, consent.StatusPending)
	if err != nil {
		return nil, err
	}
	s.consents.Invalidate(ctx, id)
	audit.Log(ctx, audit.ConsentApproved, logger.ConsentID(id))
	return c, nil
}

// Deny: pending → revoked (terminal).
func (s *ConsentService) Deny(ctx context.Context, id string) (*consent.Consent, error) {
	c, err := s.store.TransitionConsent(ctx, id, consent.StatusRevoked, consent.StatusPending)
	if err != nil {
		return nil, err
	}
	s.consents.Invalidate(ctx, id)
	audit.Log(ctx, audit.ConsentDenied, logger.ConsentID(id))
	return c, nil
}

// Revoke: pending|active → revoked (terminal).
func (s *ConsentService) Revoke(ctx context.Context, id string) (*consent.Consent, error) {
	c, err := s.store.TransitionConsent(ctx, id, consent.StatusRevoked,
		consent.StatusPending, consent.StatusActive)
	if err != nil {
		return nil, err
	}
	s.consents.Invalidate(ctx, id)
	audit.Log(ctx, audit.ConsentRevoked, logger.ConsentID(id))
	return c, nil
}
