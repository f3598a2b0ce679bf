package consent

import "strconv"

// FormatMinor formatea un monto en unidades menores como decimal legible
// para mensajes de denegación (ej: 34700, "USD" → "347.00 USD").
// Asume exponente 2; suficiente para mensajes, nunca se usa en aritmética.
func FormatMinor(amount int64, currency string) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	whole := amount / 100
	frac := amount % 100
	s := strconv.FormatInt(whole, 10) + "." + pad2(frac)
	if neg {
		s = "-" + s
	}
	if currency != "" {
		s += " " + currency
	}
	return s
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
