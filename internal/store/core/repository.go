package core

import (
	"context"
	"time"

	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/ledger"
)

// Store es el contrato de persistencia del motor. Dos implementaciones:
// pg (producción, pgx) y memory (dev/tests). El Decision Engine y el
// Verification Service no guardan estado propio: todo pasa por acá.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	ConsentStore
	CodeStore
	SpendLedger
}

// ConsentStore maneja el ciclo de vida y la persistencia de consents.
type ConsentStore interface {
	CreateConsent(ctx context.Context, c *consent.Consent) error
	GetConsent(ctx context.Context, id string) (*consent.Consent, error)
	ListConsentsByUser(ctx context.Context, userID string) ([]consent.Consent, error)

	// TransitionConsent mueve un consent a `to` sólo si su estado actual
	// está en `from`; si no, retorna ErrInvalidState. ErrNotFound si no
	// existe. Devuelve el consent actualizado.
	TransitionConsent(ctx context.Context, id string, to consent.Status, from ...consent.Status) (*consent.Consent, error)
}

// CodeStore maneja los registros de authorization codes.
type CodeStore interface {
	CreateAuthCode(ctx context.Context, code *AuthCode) error
	GetAuthCode(ctx context.Context, id string) (*AuthCode, error)

	// RedeemAuthCode marca el code como canjeado de forma atómica
	// (compare-and-swap sobre redeemed=false). Exactamente una de N
	// llamadas concurrentes gana; las demás reciben ErrCodeRedeemed.
	RedeemAuthCode(ctx context.Context, id, redeemedBy string, now time.Time) (*AuthCode, error)
}

// SpendLedger acumula gasto por consent y ventana calendario.
type SpendLedger interface {
	// TryReserve chequea e incrementa ambas ventanas como una unidad
	// atómica. Si cualquiera de los dos límites se excedería, ninguna
	// ventana muta y retorna ErrDailyLimitExceeded o
	// ErrMonthlyLimitExceeded. Devuelve el gasto acumulado resultante.
	TryReserve(ctx context.Context, consentID string, w ledger.Windows, amount int64, currency string, limits Limits) (consent.Spend, error)

	// CurrentSpend lee el acumulado vigente (precheck del engine; la
	// autoridad sigue siendo TryReserve).
	CurrentSpend(ctx context.Context, consentID string, w ledger.Windows) (consent.Spend, error)
}
