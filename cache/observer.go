package cache

import "time"

type EventKind string

const (
	// EventExpired is emitted by the sweeper when an entry passes its expiry.
	// The entry is still stored and readable.
	EventExpired EventKind = "expired"
	EventDeleted EventKind = "deleted"
	EventFlushed EventKind = "flushed"
	// EventRejected is emitted when a write is refused. Reason is set.
	EventRejected EventKind = "rejected"
	// EventStatsReset is emitted by ResetStats. Hits and Misses hold the
	// counts that were cleared.
	EventStatsReset EventKind = "stats_reset"
)

// Event is a notification about something that happened in the store.
// Events are for observability only; the store works the same with no observers.
type Event struct {
	Kind EventKind
	// Empty for EventFlushed and EventStatsReset.
	Key    string
	At     time.Time
	Reason Reason

	Hits   uint64
	Misses uint64
}

// Observer receives store events.
// Observe is called outside the store lock, possibly from the sweeper goroutine,
// and should return quickly.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) {
	f(e)
}
