package pg

import (
	"testing"

	"github.com/jackc/pgx/v5"
)

// La reserva depende de que los FOR UPDATE esperen y re-lean la fila
// commiteada por el ganador: así el perdedor de una carrera recibe el
// denial de límite. Repeatable read rompería eso (el waiter aborta con
// un error de serialización 40001 en vez de re-leer).
func TestReserveTxIsolationIsReadCommitted(t *testing.T) {
	if reserveTxOpts.IsoLevel != pgx.ReadCommitted {
		t.Fatalf("reserve tx isolation = %q, want %q", reserveTxOpts.IsoLevel, pgx.ReadCommitted)
	}
}
