package core

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrInvalidState: transición de ciclo de vida inválida desde el
	// estado actual. Nunca se degrada a un no-op silencioso.
	ErrInvalidState = errors.New("invalid_state")

	// ErrCodeRedeemed: el authorization code ya fue canjeado.
	// Garantía at-most-once: el segundo Redeem concurrente recibe esto.
	ErrCodeRedeemed = errors.New("code_already_redeemed")

	// Errores de reserva del spend ledger. La reserva es all-or-nothing
	// entre ambas ventanas: si una falla, ninguna muta.
	ErrDailyLimitExceeded   = errors.New("daily_limit_exceeded")
	ErrMonthlyLimitExceeded = errors.New("monthly_limit_exceeded")
)
