package cache

import (
	"context"
	"sync"
	"time"
)

// Sweeper periodically reports entries that have passed their expiry.
// It only emits EventExpired notifications: expired entries stay in the
// store, readable as stale, until they are deleted or flushed.
type Sweeper struct {
	store    *Store
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewSweeper creates a sweeper for store running every interval.
// Use Options.SweepInterval for the default period.
// The first sweep reports every entry already expired, including those
// that expired before the sweeper was created.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
	}
}

// Run sweeps on every tick until ctx is done.
// It returns immediately if the interval is not positive.
func (sw *Sweeper) Run(ctx context.Context) {
	if sw.interval <= 0 {
		return
	}
	sw.store.log.Info().Msgf("Starting expiry sweeper with interval %s", sw.interval)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.store.log.Debug().Msg("Expiry sweeper stopped")
			return
		case <-ticker.C:
			sw.Sweep(sw.store.now())
		}
	}
}

// Sweep emits one EventExpired per entry that expired since the previous sweep
// and returns how many there were. Each expiry is reported once, unless the
// entry is written again and expires again.
func (sw *Sweeper) Sweep(now time.Time) int {
	sw.mu.Lock()
	last := sw.last
	if now.Before(last) {
		sw.mu.Unlock()
		return 0
	}
	sw.last = now
	sw.mu.Unlock()

	keys := sw.store.expiredBetween(last, now)
	if len(keys) == 0 {
		sw.store.log.Trace().Msg("No entries expired")
		return 0
	}
	sw.store.log.Debug().Int("entries", len(keys)).Msg("Entries expired")
	for _, key := range keys {
		sw.store.log.Trace().Str("key", key).Msg("Entry expired")
		sw.store.notify(Event{Kind: EventExpired, Key: key, At: now})
	}
	return len(keys)
}
