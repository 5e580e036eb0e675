package cache

// Provider is the contract between the cache engine and its callers.
// The request handler and any admin surface use the store only through it.
//
// Implementations must be thread-safe!
type Provider interface {
	// Set stores value under key, replacing any previous entry and resetting it to fresh.
	// It returns a *Rejection when the write is not admitted, and never panics.
	Set(key string, value any) error
	// Write is Set reporting only success.
	Write(key string, value any) bool
	// Read returns the stored value whether it is fresh or stale.
	Read(key string) (string, bool)
	// ReadWithStaleness is Read plus the remaining TTL and the stale flag.
	ReadWithStaleness(key string) (Staleness, bool)
	// Delete removes the entry for key and returns the number of entries removed (0 or 1).
	Delete(key string) int
	// Flush removes all entries. Hit and miss counters are kept.
	Flush()
	// Stats returns a snapshot of the store counters.
	Stats() Stats
}

var _ Provider = (*Store)(nil)
