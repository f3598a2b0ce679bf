package pg

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/ledger"
	"github.com/agentauth/consentd/internal/store/core"
)

// reserveTxOpts: read committed, no más. Con FOR UPDATE el waiter
// re-lee la fila ya commiteada por el ganador y el perdedor de la
// carrera recibe el denial de límite; bajo repeatable read el mismo
// FOR UPDATE aborta con 40001 y la carrera se vuelve un error interno.
var reserveTxOpts = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// TryReserve hace el check-and-increment sobre ambas ventanas dentro de
// una transacción con locks de fila. Los locks se toman en orden
// determinista de window_key (prevención de deadlocks, mismo esquema que
// un transfer con locking ordenado por id). Si cualquiera de los dos
// límites se excedería, la transacción se aborta sin mutar ninguna fila.
func (s *Store) TryReserve(ctx context.Context, consentID string, w ledger.Windows, amount int64, currency string, limits core.Limits) (consent.Spend, error) {
	tx, err := s.pool.BeginTx(ctx, reserveTxOpts)
	if err != nil {
		return consent.Spend{}, fmt.Errorf("ledger: tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Crear las filas de ventana de forma lazy, sin pisar acumulados.
	const qInit = `
		INSERT INTO spend_windows (consent_id, window_key, amount, currency, updated_at)
		VALUES ($1, $2, 0, $3, NOW())
		ON CONFLICT (consent_id, window_key) DO NOTHING`
	for _, key := range []string{w.Day, w.Month} {
		if _, err := tx.Exec(ctx, qInit, consentID, key, currency); err != nil {
			return consent.Spend{}, fmt.Errorf("ledger: window init failed: %w", err)
		}
	}

	// Locks en orden determinista de clave.
	keys := []string{w.Day, w.Month}
	sort.Strings(keys)
	acc := make(map[string]int64, 2)
	for _, key := range keys {
		var amt int64
		err := tx.QueryRow(ctx,
			`SELECT amount FROM spend_windows WHERE consent_id = $1 AND window_key = $2 FOR UPDATE`,
			consentID, key,
		).Scan(&amt)
		if err != nil {
			return consent.Spend{}, fmt.Errorf("ledger: lock acquisition failed: %w", err)
		}
		acc[key] = amt
	}

	daily := acc[w.Day]
	monthly := acc[w.Month]

	// Chequeo all-or-nothing antes de incrementar.
	if limits.Daily > 0 && daily+amount > limits.Daily {
		return consent.Spend{}, core.ErrDailyLimitExceeded
	}
	if limits.Monthly > 0 && monthly+amount > limits.Monthly {
		return consent.Spend{}, core.ErrMonthlyLimitExceeded
	}

	const qBump = `
		UPDATE spend_windows SET amount = amount + $3, updated_at = NOW()
		WHERE consent_id = $1 AND window_key = $2`
	for _, key := range []string{w.Day, w.Month} {
		if _, err := tx.Exec(ctx, qBump, consentID, key, amount); err != nil {
			return consent.Spend{}, fmt.Errorf("ledger: increment failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return consent.Spend{}, fmt.Errorf("ledger: tx commit failed: %w", err)
	}
	return consent.Spend{Daily: daily + amount, Monthly: monthly + amount}, nil
}

// CurrentSpend lee el acumulado sin locks. Es el precheck barato del
// engine; TryReserve sigue siendo la autoridad.
func (s *Store) CurrentSpend(ctx context.Context, consentID string, w ledger.Windows) (consent.Spend, error) {
	const q = `
		SELECT consent_id, window_key, amount, currency, updated_at
		FROM spend_windows
		WHERE consent_id = $1 AND window_key = ANY($2)`

	rows, err := s.pool.Query(ctx, q, consentID, []string{w.Day, w.Month})
	if err != nil {
		return consent.Spend{}, err
	}
	defer rows.Close()

	var out consent.Spend
	for rows.Next() {
		var sw core.SpendWindow
		if err := rows.Scan(&sw.ConsentID, &sw.WindowKey, &sw.Amount, &sw.Currency, &sw.UpdatedAt); err != nil {
			return consent.Spend{}, err
		}
		switch sw.WindowKey {
		case w.Day:
			out.Daily = sw.Amount
		case w.Month:
			out.Monthly = sw.Amount
		}
	}
	return out, rows.Err()
}

var _ core.Store = (*Store)(nil)
