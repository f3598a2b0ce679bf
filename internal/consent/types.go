// Package consent define el modelo de dominio del motor de decisión:
// consentimientos, restricciones de gasto y la evaluación pura de
// transacciones contra esas restricciones.
package consent

import (
	"errors"
	"time"
)

// Status representa el estado de ciclo de vida de un consent.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Terminal indica si el estado no admite más transiciones.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

var (
	// ErrInvalidState se retorna cuando una transición de ciclo de vida
	// no es válida desde el estado actual (ej: approve sobre revoked).
	ErrInvalidState = errors.New("invalid_state")
)

// Constraints agrupa todas las restricciones de un consent.
// Los montos son enteros en unidades menores (centavos); nunca floats.
type Constraints struct {
	AllowedMerchants  []string `json:"allowed_merchants,omitempty"`
	DeniedMerchants   []string `json:"denied_merchants,omitempty"`
	AllowedCategories []string `json:"allowed_categories,omitempty"`
	DeniedCategories  []string `json:"denied_categories,omitempty"`

	// MaxAmount es el máximo por transacción. 0 = sin límite.
	MaxAmount int64 `json:"max_amount"`
	// DailyLimit / MonthlyLimit acotan el gasto acumulado por ventana
	// calendario UTC. 0 = sin límite.
	DailyLimit   int64 `json:"daily_limit,omitempty"`
	MonthlyLimit int64 `json:"monthly_limit,omitempty"`

	// Currency es el código ISO 4217 del consent (ej: "USD").
	Currency string `json:"currency"`
}

// Consent es la autorización delegada de un usuario hacia un agente.
type Consent struct {
	ID      string `json:"consent_id"`
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id,omitempty"`

	// Intent es la descripción en lenguaje natural de lo que el usuario
	// autorizó ("Buy cheapest flight to NYC"). Viaja al proof bundle.
	Intent string `json:"intent_description,omitempty"`

	Constraints Constraints `json:"constraints"`

	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`

	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	// PublicKey (base64, ed25519) del usuario para flujos no-custodiales.
	// Vacío en flujos custodiales.
	PublicKey string `json:"public_key,omitempty"`
}

// EffectiveStatus evalúa la expiración de forma lazy: un consent activo
// cuyo valid_until quedó en el pasado se observa como expired sin
// necesidad de un sweep de fondo.
func (c *Consent) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusActive && now.After(c.ValidUntil) {
		return StatusExpired
	}
	return c.Status
}

// Transaction es la transacción propuesta por el agente.
type Transaction struct {
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	MerchantID   string `json:"merchant_id"`
	MerchantName string `json:"merchant_name,omitempty"`
	Category     string `json:"category,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Spend es el gasto acumulado vigente en las ventanas día/mes,
// en unidades menores. Lo provee el spend ledger.
type Spend struct {
	Daily   int64
	Monthly int64
}

// ValidCurrency valida un código ISO 4217 (tres letras mayúsculas).
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
