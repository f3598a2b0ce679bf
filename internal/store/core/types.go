package core

import "time"

// AuthCode es el registro persistente de un authorization code emitido.
// El code firmado viaja al agente; este registro guarda el fingerprint
// exacto y el estado de canje (la única mutación permitida).
type AuthCode struct {
	ID        string // jti del code firmado
	ConsentID string

	// Fingerprint exacto de la transacción autorizada.
	Amount     int64
	Currency   string
	MerchantID string
	Category   string

	// FingerprintHash es el digest del fingerprint (consent.Fingerprint).
	FingerprintHash string

	IssuedAt  time.Time
	ExpiresAt time.Time

	Redeemed   bool
	RedeemedAt *time.Time
	RedeemedBy string // merchant que verificó, si se conoce
}

// SpendWindow es una fila del spend ledger: gasto acumulado de un consent
// en una ventana calendario. Nunca se borra; una ventana nueva arranca
// una fila nueva.
type SpendWindow struct {
	ConsentID string
	WindowKey string
	Amount    int64
	Currency  string
	UpdatedAt time.Time
}

// Limits son los límites de ventana a chequear durante la reserva.
// 0 = sin límite para esa ventana.
type Limits struct {
	Daily   int64
	Monthly int64
}
