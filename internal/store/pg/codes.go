package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentauth/consentd/internal/store/core"
)

const codeCols = `id, consent_id, amount, currency, merchant_id, category,
	fingerprint_hash, issued_at, expires_at, redeemed, redeemed_at, redeemed_by`

func (s *Store) CreateAuthCode(ctx context.Context, code *core.AuthCode) error {
	const q = `
		INSERT INTO auth_codes (` + codeCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := s.pool.Exec(ctx, q,
		code.ID, code.ConsentID, code.Amount, code.Currency,
		code.MerchantID, code.Category, code.FingerprintHash,
		code.IssuedAt, code.ExpiresAt,
		code.Redeemed, code.RedeemedAt, code.RedeemedBy,
	)
	return err
}

func (s *Store) GetAuthCode(ctx context.Context, id string) (*core.AuthCode, error) {
	const q = `SELECT ` + codeCols + ` FROM auth_codes WHERE id = $1`
	return scanAuthCode(s.pool.QueryRow(ctx, q, id))
}

// RedeemAuthCode es el compare-and-swap del canje: un solo UPDATE
// condicional sobre redeemed=false. De N verificaciones concurrentes
// exactamente una matchea la fila; el resto recibe ErrCodeRedeemed.
func (s *Store) RedeemAuthCode(ctx context.Context, id, redeemedBy string, now time.Time) (*core.AuthCode, error) {
	const q = `
		UPDATE auth_codes
		SET redeemed = TRUE, redeemed_at = $2, redeemed_by = $3
		WHERE id = $1 AND redeemed = FALSE
		RETURNING ` + codeCols

	code, err := scanAuthCode(s.pool.QueryRow(ctx, q, id, now, redeemedBy))
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	var redeemed bool
	if err := s.pool.QueryRow(ctx, `SELECT redeemed FROM auth_codes WHERE id = $1`, id).Scan(&redeemed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	if redeemed {
		return nil, core.ErrCodeRedeemed
	}
	// Carrera rarísima: la fila apareció entre el UPDATE y el SELECT.
	return nil, core.ErrConflict
}

func scanAuthCode(row rowScanner) (*core.AuthCode, error) {
	var c core.AuthCode
	err := row.Scan(
		&c.ID, &c.ConsentID, &c.Amount, &c.Currency,
		&c.MerchantID, &c.Category, &c.FingerprintHash,
		&c.IssuedAt, &c.ExpiresAt,
		&c.Redeemed, &c.RedeemedAt, &c.RedeemedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
