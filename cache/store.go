// Package cache implements the in-memory response cache engine.
//
// Entries are addressed by key and carry an expiry time. An entry past its
// expiry is stale but is kept and still returned by reads, so that callers can
// serve it while they fetch a replacement (stale-while-revalidate). Entries are
// only removed by Delete and Flush. When the store holds MaxKeys entries, writes
// of new keys are rejected; nothing is evicted to make room.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL          = 60 * time.Second
	DefaultMaxKeys      = 1000
	DefaultMaxValueSize = 10 * 1024 * 1024
)

type Options struct {
	// TTL of every entry written to the store.
	TTL time.Duration
	// Maximum number of distinct keys.
	MaxKeys int
	// Maximum value length in bytes.
	MaxValueSize int
	// Clock used for expiry. Defaults to time.Now.
	Now func() time.Time
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// SweepInterval returns the period of the expiry sweeper, 20% of the TTL.
func (o Options) SweepInterval() time.Duration {
	return o.withDefaults().TTL / 5
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxKeys <= 0 {
		o.MaxKeys = DefaultMaxKeys
	}
	if o.MaxValueSize <= 0 {
		o.MaxValueSize = DefaultMaxValueSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is an in-memory cache instance.
// Create one with New and hand it to whoever needs it.
type Store struct {
	ttl          time.Duration
	maxKeys      int
	maxValueSize int
	now          func() time.Time
	log          zerolog.Logger

	mu        sync.RWMutex
	entries   map[string]entry
	keySize   int64
	valueSize int64

	hits   atomic.Uint64
	misses atomic.Uint64

	observersMu sync.RWMutex
	observers   []Observer
}

// New creates an empty store. Zero option values are replaced by defaults.
func New(opts Options) *Store {
	opts = opts.withDefaults()

	var logger zerolog.Logger
	if opts.Logger == nil {
		logger = log.Logger
	} else {
		logger = *opts.Logger
	}

	return &Store{
		ttl:          opts.TTL,
		maxKeys:      opts.MaxKeys,
		maxValueSize: opts.MaxValueSize,
		now:          opts.Now,
		log:          logger.With().Str("component", "cache").Logger(),
		entries:      make(map[string]entry),
	}
}

// TTL returns the time-to-live applied to every write.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Subscribe registers an observer for store events.
func (s *Store) Subscribe(o Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Store) notify(e Event) {
	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	for _, o := range observers {
		s.observe(o, e)
	}
}

// observe calls o, logging a panic instead of passing it to the caller.
func (s *Store) observe(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("panic", fmt.Sprint(r)).
				Str("event", string(e.Kind)).
				Str("key", e.Key).
				Msg("Recovered from panic in cache observer")
		}
	}()
	o.Observe(e)
}

// Set admits and stores value under key with an expiry of now + TTL.
// Overwriting an existing key is always allowed; a new key is rejected
// when the store is full.
func (s *Store) Set(key string, value any) error {
	v, err := Admit(key, value, s.maxValueSize)
	if err == nil {
		err = s.insert(key, v)
	}
	if reason, ok := ReasonOf(err); ok {
		s.log.Debug().Str("key", key).Str("reason", string(reason)).Msg("Cache write rejected")
		s.notify(Event{Kind: EventRejected, Key: key, At: s.now(), Reason: reason})
	}
	return err
}

// Write is Set returning only whether the write succeeded.
func (s *Store) Write(key string, value any) bool {
	return s.Set(key, value) == nil
}

func (s *Store) insert(key, value string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// a fault while writing must not take the caller down, a miss is always safe
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("key", key).Str("panic", fmt.Sprint(r)).Msg("Recovered from fault in cache write")
			err = ErrWriteFailed
		}
	}()

	old, exists := s.entries[key]
	if !exists && len(s.entries) >= s.maxKeys {
		return &Rejection{Reason: CapacityExceeded, Key: key}
	}

	keySize, valueSize := s.keySize, s.valueSize+int64(len(value))
	if exists {
		valueSize -= int64(len(old.value))
	} else {
		keySize += int64(len(key))
	}

	expiresAt := s.now().Add(s.ttl)
	s.entries[key] = entry{value: value, expiresAt: expiresAt}
	s.keySize, s.valueSize = keySize, valueSize
	s.log.Trace().Str("key", key).Time("expiry", expiresAt).Int("bytes", len(value)).Msg("Cache write")
	return nil
}

func (s *Store) lookup(key string) (entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return e, ok
}

// Read returns the value stored under key, fresh or stale.
func (s *Store) Read(key string) (string, bool) {
	e, ok := s.lookup(key)
	return e.value, ok
}

// ReadWithStaleness returns the value stored under key along with its freshness.
func (s *Store) ReadWithStaleness(key string) (Staleness, bool) {
	e, ok := s.lookup(key)
	if !ok {
		return Staleness{}, false
	}
	remaining, stale := Evaluate(e.expiresAt, s.now())
	return Staleness{
		Value:        e.value,
		RemainingTTL: remaining,
		Stale:        stale,
	}, true
}

// Delete removes the entry for key. It returns 1 if an entry was removed, 0 otherwise.
func (s *Store) Delete(key string) int {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
		s.keySize -= int64(len(key))
		s.valueSize -= int64(len(e.value))
	}
	s.mu.Unlock()

	if !ok {
		return 0
	}
	s.log.Trace().Str("key", key).Msg("Cache delete")
	s.notify(Event{Kind: EventDeleted, Key: key, At: s.now()})
	return 1
}

// Flush removes every entry. Hit and miss counters are not reset.
func (s *Store) Flush() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]entry)
	s.keySize = 0
	s.valueSize = 0
	s.mu.Unlock()

	s.log.Debug().Int("entries", n).Msg("Cache flushed")
	s.notify(Event{Kind: EventFlushed, At: s.now()})
}

// ResetStats clears the hit and miss counters.
// The counts before the reset are passed to observers in an EventStatsReset.
func (s *Store) ResetStats() {
	hits := s.hits.Swap(0)
	misses := s.misses.Swap(0)
	s.log.Debug().Uint64("hits", hits).Uint64("misses", misses).Msg("Cache stats reset")
	s.notify(Event{Kind: EventStatsReset, At: s.now(), Hits: hits, Misses: misses})
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		KeyCount:  len(s.entries),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		KeySize:   s.keySize,
		ValueSize: s.valueSize,
	}
}

// expiredBetween returns the keys whose expiry falls in (after, until].
func (s *Store) expiredBetween(after, until time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for key, e := range s.entries {
		if e.expiresAt.After(after) && !e.expiresAt.After(until) {
			keys = append(keys, key)
		}
	}
	return keys
}
