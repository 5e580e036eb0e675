package cache

import (
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	exp := time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC)
	tests := []struct {
		name      string
		now       time.Time
		remaining time.Duration
		stale     bool
	}{
		{"well before expiry", exp.Add(-time.Minute), time.Minute, false},
		{"just before expiry", exp.Add(-time.Nanosecond), time.Nanosecond, false},
		{"at expiry", exp, 0, true},
		{"after expiry", exp.Add(time.Hour), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining, stale := Evaluate(exp, tt.now)
			if remaining != tt.remaining || stale != tt.stale {
				t.Fatalf("Evaluate = (%s, %t), want (%s, %t)", remaining, stale, tt.remaining, tt.stale)
			}
		})
	}
}

func TestRemainingSecondsRoundsUp(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      int64
	}{
		{0, 0},
		{time.Millisecond, 1},
		{59500 * time.Millisecond, 60},
		{60 * time.Second, 60},
	}
	for _, tt := range tests {
		if got := (Staleness{RemainingTTL: tt.remaining}).RemainingSeconds(); got != tt.want {
			t.Errorf("RemainingSeconds(%s) = %d, want %d", tt.remaining, got, tt.want)
		}
	}
}
