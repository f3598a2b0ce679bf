// Package ledger define las ventanas contables calendario sobre las que
// acumulan los límites de gasto. Las claves de ventana son UTC siempre:
// una sola zona de referencia evita que el "día" dependa del servidor.
package ledger

import "time"

// Windows agrupa las claves de ventana vigentes para un instante dado.
type Windows struct {
	// Day con formato "2006-01-02" (UTC).
	Day string
	// Month con formato "2006-01" (UTC).
	Month string
}

// At calcula las claves de ventana para un instante.
func At(now time.Time) Windows {
	u := now.UTC()
	return Windows{
		Day:   u.Format("2006-01-02"),
		Month: u.Format("2006-01"),
	}
}
