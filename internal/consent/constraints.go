package consent

import "time"

// Reason es la taxonomía cerrada de motivos de denegación.
// El orden de los checks en Evaluate determina qué motivo gana:
// el primero que falla corta la evaluación (denials deterministas).
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInvalidToken         Reason = "invalid_token"
	ReasonConsentUnavailable   Reason = "consent_unavailable"
	ReasonConsentExpired       Reason = "consent_expired"
	ReasonMerchantBlocked      Reason = "merchant_blocked"
	ReasonCategoryBlocked      Reason = "category_blocked"
	ReasonCurrencyMismatch     Reason = "currency_mismatch"
	ReasonAmountExceeded       Reason = "amount_exceeded"
	ReasonDailyLimitExceeded   Reason = "daily_limit_exceeded"
	ReasonMonthlyLimitExceeded Reason = "monthly_limit_exceeded"
)

// Result es el resultado de una evaluación de restricciones.
type Result struct {
	Permit  bool
	Reason  Reason
	Message string
}

func deny(r Reason, msg string) Result {
	return Result{Permit: false, Reason: r, Message: msg}
}

// Evaluate corre los checks en orden fijo contra una transacción propuesta.
// Lógica pura, sin I/O: el gasto acumulado viene dado por el caller.
//
// Orden: (1) ventana de validez, (2) deny-list merchant, (3) allow-list
// merchant, (4) deny-list categoría, (5) allow-list categoría, (6) moneda,
// (7) máximo por transacción, (8) límite diario, (9) límite mensual.
// Las deny-lists siempre ganan sobre las allow-lists.
func Evaluate(c Constraints, valid ValidityWindow, tx Transaction, spend Spend, now time.Time) Result {
	// 1. Ventana de validez del consent
	if now.Before(valid.From) || now.After(valid.Until) {
		return deny(ReasonConsentExpired, "consent is outside its validity window")
	}

	// 2-3. Merchant: deny-list primero, después allow-list (si no está vacía)
	if contains(c.DeniedMerchants, tx.MerchantID) {
		return deny(ReasonMerchantBlocked, "merchant "+tx.MerchantID+" is deny-listed")
	}
	if len(c.AllowedMerchants) > 0 && !contains(c.AllowedMerchants, tx.MerchantID) {
		return deny(ReasonMerchantBlocked, "merchant "+tx.MerchantID+" is not in the allowed list")
	}

	// 4-5. Categoría, misma precedencia
	if tx.Category != "" && contains(c.DeniedCategories, tx.Category) {
		return deny(ReasonCategoryBlocked, "category "+tx.Category+" is deny-listed")
	}
	if len(c.AllowedCategories) > 0 && !contains(c.AllowedCategories, tx.Category) {
		return deny(ReasonCategoryBlocked, "category "+tx.Category+" is not in the allowed list")
	}

	// 6. Moneda: comparar montos en monedas distintas no tiene sentido
	if c.Currency != "" && tx.Currency != c.Currency {
		return deny(ReasonCurrencyMismatch,
			"transaction currency "+tx.Currency+" does not match consent currency "+c.Currency)
	}

	// 7. Máximo por transacción
	if c.MaxAmount > 0 && tx.Amount > c.MaxAmount {
		return deny(ReasonAmountExceeded,
			"transaction amount "+FormatMinor(tx.Amount, tx.Currency)+" exceeds consent limit of "+FormatMinor(c.MaxAmount, c.Currency))
	}

	// 8-9. Límites de ventana. Aritmética entera en unidades menores:
	// spend+amount nunca se redondea.
	if c.DailyLimit > 0 && spend.Daily+tx.Amount > c.DailyLimit {
		return deny(ReasonDailyLimitExceeded,
			"daily spend "+FormatMinor(spend.Daily+tx.Amount, c.Currency)+" would exceed limit of "+FormatMinor(c.DailyLimit, c.Currency))
	}
	if c.MonthlyLimit > 0 && spend.Monthly+tx.Amount > c.MonthlyLimit {
		return deny(ReasonMonthlyLimitExceeded,
			"monthly spend "+FormatMinor(spend.Monthly+tx.Amount, c.Currency)+" would exceed limit of "+FormatMinor(c.MonthlyLimit, c.Currency))
	}

	return Result{Permit: true}
}

// ValidityWindow es la ventana absoluta de validez de un consent.
type ValidityWindow struct {
	From  time.Time
	Until time.Time
}

// Window devuelve la ventana de validez del consent.
func (c *Consent) Window() ValidityWindow {
	return ValidityWindow{From: c.ValidFrom, Until: c.ValidUntil}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
