package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/store/core"
)

const consentCols = `id, user_id, agent_id, intent, allowed_merchants, denied_merchants,
	allowed_categories, denied_categories, max_amount, daily_limit, monthly_limit,
	currency, valid_from, valid_until, status, created_at, revoked_at, public_key`

func (s *Store) CreateConsent(ctx context.Context, c *consent.Consent) error {
	const q = `
		INSERT INTO consents (` + consentCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.UserID, c.AgentID, c.Intent,
		c.Constraints.AllowedMerchants, c.Constraints.DeniedMerchants,
		c.Constraints.AllowedCategories, c.Constraints.DeniedCategories,
		c.Constraints.MaxAmount, c.Constraints.DailyLimit, c.Constraints.MonthlyLimit,
		c.Constraints.Currency, c.ValidFrom, c.ValidUntil,
		string(c.Status), c.CreatedAt, c.RevokedAt, c.PublicKey,
	)
	return err
}

func (s *Store) GetConsent(ctx context.Context, id string) (*consent.Consent, error) {
	const q = `SELECT ` + consentCols + ` FROM consents WHERE id = $1`
	return scanConsent(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) ListConsentsByUser(ctx context.Context, userID string) ([]consent.Consent, error) {
	const q = `SELECT ` + consentCols + ` FROM consents WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []consent.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// TransitionConsent hace el cambio de estado con un único UPDATE
// condicional: si el estado actual no está en `from` no se toca la fila,
// y se distingue not-found de invalid-state con una lectura posterior.
func (s *Store) TransitionConsent(ctx context.Context, id string, to consent.Status, from ...consent.Status) (*consent.Consent, error) {
	fromStr := make([]string, len(from))
	for i, f := range from {
		fromStr[i] = string(f)
	}

	const q = `
		UPDATE consents
		SET status = $2,
		    revoked_at = CASE WHEN $2 = 'revoked' THEN NOW() ELSE revoked_at END
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + consentCols

	c, err := scanConsent(s.pool.QueryRow(ctx, q, id, string(to), fromStr))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	// El UPDATE no matcheó: ¿no existe o estado inválido?
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM consents WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return nil, core.ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*consent.Consent, error) {
	var c consent.Consent
	var status string
	var revokedAt *time.Time
	err := row.Scan(
		&c.ID, &c.UserID, &c.AgentID, &c.Intent,
		&c.Constraints.AllowedMerchants, &c.Constraints.DeniedMerchants,
		&c.Constraints.AllowedCategories, &c.Constraints.DeniedCategories,
		&c.Constraints.MaxAmount, &c.Constraints.DailyLimit, &c.Constraints.MonthlyLimit,
		&c.Constraints.Currency, &c.ValidFrom, &c.ValidUntil,
		&status, &c.CreatedAt, &revokedAt, &c.PublicKey,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	c.Status = consent.Status(status)
	c.RevokedAt = revokedAt
	return &c, nil
}
