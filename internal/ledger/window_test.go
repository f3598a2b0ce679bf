package ledger

import (
	"testing"
	"time"
)

func TestAtUsesUTC(t *testing.T) {
	// 23:30 del 14 de junio en UTC-5 ya es 15 de junio en UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2025, 6, 14, 23, 30, 0, 0, loc)

	w := At(local)
	if w.Day != "2025-06-15" {
		t.Errorf("day = %q, want 2025-06-15", w.Day)
	}
	if w.Month != "2025-06" {
		t.Errorf("month = %q, want 2025-06", w.Month)
	}
}

func TestAtMonthBoundary(t *testing.T) {
	w := At(time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC))
	if w.Day != "2025-01-31" || w.Month != "2025-01" {
		t.Fatalf("got %+v", w)
	}

	w = At(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if w.Day != "2025-02-01" || w.Month != "2025-02" {
		t.Fatalf("got %+v", w)
	}
}
