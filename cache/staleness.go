package cache

import "time"

// Staleness is the result of a read that asked for freshness information.
type Staleness struct {
	Value string
	// Time left until the entry goes stale. Never negative.
	RemainingTTL time.Duration
	Stale        bool
}

// RemainingSeconds returns the remaining TTL in whole seconds, rounded up,
// so that it is zero exactly when the entry is stale.
func (s Staleness) RemainingSeconds() int64 {
	secs := int64(s.RemainingTTL / time.Second)
	if s.RemainingTTL%time.Second != 0 {
		secs++
	}
	return secs
}

// Evaluate classifies an entry expiring at expiresAt as seen at now.
// An entry is stale from the instant it expires; the remaining time is floored at zero.
func Evaluate(expiresAt, now time.Time) (time.Duration, bool) {
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, remaining == 0
}
