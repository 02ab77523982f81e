package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr string
		ok   bool
	}{
		{"*/5 * * * *", true},
		{"*/15 * * * *", true},
		{"0 9 * * *", true},
		{"0 9 * * 1", true},
		{"30 */2 * * *", true},
		{"0,30 * * * *", true},
		{"  0 * * * *  ", true},
		{"*/3 * * * *", false},
		{"*/1 * * * *", false},
		{"* * * * *", false},
		{"0-30/2 * * * *", false},
		{"0 9 * *", false},
		{"0 9 * * * *", false},
		{"61 * * * *", false},
		{"every day", false},
		{"CRON_TZ=UTC * * * * *", false},
		{"TZ=America/New_York */1 * * * *", false},
		{"CRON_TZ=UTC 0 9 * * *", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCron(tt.expr, DefaultMinInterval)
			if tt.ok && err != nil {
				t.Errorf("ValidateCron(%q) = %v, want nil", tt.expr, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidCron) {
				t.Errorf("ValidateCron(%q) = %v, want ErrInvalidCron", tt.expr, err)
			}
		})
	}
}

func TestValidateCron_NoFloor(t *testing.T) {
	if err := ValidateCron("* * * * *", 1); err != nil {
		t.Errorf("ValidateCron with floor 1 = %v, want nil", err)
	}
}

func TestNextFire(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 59, 30, 0, time.UTC) // a Monday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 9 * * *", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * 2", time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := NextFire(tt.expr, base)
		if err != nil {
			t.Fatalf("NextFire(%q): %v", tt.expr, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextFire(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}

	// Non-UTC input is evaluated in UTC.
	chicago := time.FixedZone("CST", -6*3600)
	got, _ := NextFire("0 9 * * *", time.Date(2026, 3, 2, 2, 0, 0, 0, chicago))
	if want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextFire in CST = %v, want %v", got, want)
	}

	for _, expr := range []string{"nope", "TZ=America/New_York 0 9 * * *"} {
		if _, err := NextFire(expr, base); !errors.Is(err, ErrInvalidCron) {
			t.Errorf("NextFire(%q) error = %v, want ErrInvalidCron", expr, err)
		}
	}
}
