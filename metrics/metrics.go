// Package metrics exports the cache statistics and events as OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/always-cache/pagecache/cache"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName is the instrumentation scope of all pagecache instruments.
const MeterName = "github.com/always-cache/pagecache"

// StatsSource is anything that can report cache statistics, e.g. *cache.Store.
type StatsSource interface {
	Stats() cache.Stats
}

// Metrics holds the instruments fed by cache events.
// The statistics based instruments are observed on collection.
// Hits and misses are exported as running totals that keep counting
// across cache.Store.ResetStats, so Metrics must observe the store
// whose statistics it reports.
type Metrics struct {
	expired  metric.Int64Counter
	deleted  metric.Int64Counter
	flushes  metric.Int64Counter
	rejected metric.Int64Counter

	mu     sync.Mutex
	hits   total
	misses total
}

// total turns a counter that may be reset into one that only grows.
type total struct {
	base uint64
	last uint64
}

// observe returns the running total for the current counter value.
// A value below the last one means a reset whose event has not arrived
// yet; the last total is repeated until it does.
func (t *total) observe(current uint64) int64 {
	if current < t.last {
		return int64(t.base + t.last)
	}
	t.last = current
	return int64(t.base + current)
}

func (t *total) reset(cleared uint64) {
	t.base += cleared
	t.last = 0
}

// New registers the pagecache instruments with meter.
func New(meter metric.Meter, stats StatsSource) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&m.expired, "pagecache.expired", "Entries that became stale", "{entry}"},
		{&m.deleted, "pagecache.deleted", "Entries deleted", "{entry}"},
		{&m.flushes, "pagecache.flushes", "Cache flushes", "{flush}"},
		{&m.rejected, "pagecache.rejected", "Writes not admitted to the cache", "{write}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	hits, err := meter.Int64ObservableCounter("pagecache.hits",
		metric.WithDescription("Reads that found an entry"), metric.WithUnit("{read}"))
	if err != nil {
		return nil, fmt.Errorf("create pagecache.hits: %w", err)
	}
	misses, err := meter.Int64ObservableCounter("pagecache.misses",
		metric.WithDescription("Reads that found no entry"), metric.WithUnit("{read}"))
	if err != nil {
		return nil, fmt.Errorf("create pagecache.misses: %w", err)
	}
	keys, err := meter.Int64ObservableGauge("pagecache.keys",
		metric.WithDescription("Entries in the cache"), metric.WithUnit("{entry}"))
	if err != nil {
		return nil, fmt.Errorf("create pagecache.keys: %w", err)
	}
	keyBytes, err := meter.Int64ObservableGauge("pagecache.key_bytes",
		metric.WithDescription("Total size of the stored keys"), metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create pagecache.key_bytes: %w", err)
	}
	valueBytes, err := meter.Int64ObservableGauge("pagecache.value_bytes",
		metric.WithDescription("Total size of the stored values"), metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create pagecache.value_bytes: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats.Stats()
		m.mu.Lock()
		o.ObserveInt64(hits, m.hits.observe(s.Hits))
		o.ObserveInt64(misses, m.misses.observe(s.Misses))
		m.mu.Unlock()
		o.ObserveInt64(keys, int64(s.KeyCount))
		o.ObserveInt64(keyBytes, s.KeySize)
		o.ObserveInt64(valueBytes, s.ValueSize)
		return nil
	}, hits, misses, keys, keyBytes, valueBytes)
	if err != nil {
		return nil, fmt.Errorf("register stats callback: %w", err)
	}
	return m, nil
}

// Observe implements cache.Observer.
func (m *Metrics) Observe(e cache.Event) {
	ctx := context.Background()
	switch e.Kind {
	case cache.EventExpired:
		m.expired.Add(ctx, 1)
	case cache.EventDeleted:
		m.deleted.Add(ctx, 1)
	case cache.EventFlushed:
		m.flushes.Add(ctx, 1)
	case cache.EventRejected:
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(e.Reason))))
	case cache.EventStatsReset:
		m.mu.Lock()
		m.hits.reset(e.Hits)
		m.misses.reset(e.Misses)
		m.mu.Unlock()
	}
}

// NewMeterProvider creates a meter provider exporting to the named exporter:
// prometheus (served by promhttp on the default registry), stdout or none.
func NewMeterProvider(ctx context.Context, exporter string) (*sdkmetric.MeterProvider, error) {
	reader, err := newReader(ctx, exporter)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}

func newReader(_ context.Context, exporter string) (sdkmetric.Reader, error) {
	switch exporter {
	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return exp, nil
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "none", "":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", exporter)
	}
}
