package vecgraph

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// PrometheusCollector exports them; implement it to feed other systems.
type MetricsCollector interface {
	// RecordUpsert is called after each entity, relation or chunk upsert.
	// kind is "entity", "relation" or "chunk"; created is false for merges.
	RecordUpsert(kind string, created bool, duration time.Duration, err error)

	// RecordBatch is called after each ingestion batch.
	// count is the number of records attempted, failed is the number that failed.
	RecordBatch(count, failed int, duration time.Duration)

	// RecordQuery is called after each query with the mode it resolved to.
	RecordQuery(mode string, results int, truncated bool, duration time.Duration, err error)

	// RecordCompaction is called after each compaction with the number of
	// vectors physically removed.
	RecordCompaction(removed int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpsert(string, bool, time.Duration, error)     {}
func (NoopMetricsCollector) RecordBatch(int, int, time.Duration)                 {}
func (NoopMetricsCollector) RecordQuery(string, int, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordCompaction(int, time.Duration, error)          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	UpsertCount      atomic.Int64
	UpsertCreated    atomic.Int64
	UpsertErrors     atomic.Int64
	UpsertTotalNanos atomic.Int64
	BatchCount       atomic.Int64
	BatchItems       atomic.Int64
	BatchFailed      atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTruncated   atomic.Int64
	QueryTotalNanos  atomic.Int64
	CompactionCount  atomic.Int64
	CompactedVectors atomic.Int64
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(_ string, created bool, duration time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UpsertErrors.Add(1)
		return
	}
	if created {
		b.UpsertCreated.Add(1)
	}
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(count, failed int, _ time.Duration) {
	b.BatchCount.Add(1)
	b.BatchItems.Add(int64(count))
	b.BatchFailed.Add(int64(failed))
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_ string, _ int, truncated bool, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
	if truncated {
		b.QueryTruncated.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(removed int, _ time.Duration, err error) {
	if err != nil {
		return
	}
	b.CompactionCount.Add(1)
	b.CompactedVectors.Add(int64(removed))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		UpsertCount:      b.UpsertCount.Load(),
		UpsertCreated:    b.UpsertCreated.Load(),
		UpsertErrors:     b.UpsertErrors.Load(),
		UpsertAvgNanos:   avg(b.UpsertTotalNanos.Load(), b.UpsertCount.Load()),
		BatchCount:       b.BatchCount.Load(),
		BatchItems:       b.BatchItems.Load(),
		BatchFailed:      b.BatchFailed.Load(),
		QueryCount:       b.QueryCount.Load(),
		QueryErrors:      b.QueryErrors.Load(),
		QueryTruncated:   b.QueryTruncated.Load(),
		QueryAvgNanos:    avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		CompactionCount:  b.CompactionCount.Load(),
		CompactedVectors: b.CompactedVectors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	UpsertCount      int64
	UpsertCreated    int64
	UpsertErrors     int64
	UpsertAvgNanos   int64
	BatchCount       int64
	BatchItems       int64
	BatchFailed      int64
	QueryCount       int64
	QueryErrors      int64
	QueryTruncated   int64
	QueryAvgNanos    int64
	CompactionCount  int64
	CompactedVectors int64
}
