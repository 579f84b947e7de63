package vecgraph

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports engine metrics as Prometheus counters and
// histograms. Serving them is left to the caller.
type PrometheusCollector struct {
	upsertTotal   *prom.CounterVec
	upsertSeconds *prom.HistogramVec
	batchTotal    prom.Counter
	batchRecords  *prom.CounterVec
	queryTotal    *prom.CounterVec
	querySeconds  *prom.HistogramVec
	queryResults  prom.Histogram
	compactTotal  *prom.CounterVec
	compactedVecs prom.Counter
}

// NewPrometheusCollector creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prom.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	p := &PrometheusCollector{
		upsertTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "vecgraph",
			Name:      "upserts_total",
			Help:      "Total number of record upserts",
		}, []string{"kind", "outcome"}),
		upsertSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "vecgraph",
			Name:      "upsert_seconds",
			Help:      "Upsert duration in seconds",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		batchTotal: prom.NewCounter(prom.CounterOpts{
			Namespace: "vecgraph",
			Name:      "ingest_batches_total",
			Help:      "Total number of ingestion batches",
		}),
		batchRecords: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "vecgraph",
			Name:      "ingest_records_total",
			Help:      "Records processed by ingestion batches",
		}, []string{"success"}),
		queryTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "vecgraph",
			Name:      "queries_total",
			Help:      "Total number of queries",
		}, []string{"mode", "success", "truncated"}),
		querySeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "vecgraph",
			Name:      "query_seconds",
			Help:      "Query duration in seconds",
			Buckets:   prom.DefBuckets,
		}, []string{"mode"}),
		queryResults: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "vecgraph",
			Name:      "query_results",
			Help:      "Results returned per query",
			Buckets:   prom.ExponentialBuckets(1, 2, 10),
		}),
		compactTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "vecgraph",
			Name:      "compactions_total",
			Help:      "Total number of compactions",
		}, []string{"success"}),
		compactedVecs: prom.NewCounter(prom.CounterOpts{
			Namespace: "vecgraph",
			Name:      "compacted_vectors_total",
			Help:      "Vectors physically removed by compaction",
		}),
	}

	for _, c := range []prom.Collector{
		p.upsertTotal, p.upsertSeconds, p.batchTotal, p.batchRecords,
		p.queryTotal, p.querySeconds, p.queryResults, p.compactTotal, p.compactedVecs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RecordUpsert implements MetricsCollector.
func (p *PrometheusCollector) RecordUpsert(kind string, created bool, duration time.Duration, err error) {
	outcome := "merged"
	switch {
	case err != nil:
		outcome = "failed"
	case created:
		outcome = "created"
	}
	p.upsertTotal.WithLabelValues(kind, outcome).Inc()
	p.upsertSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBatch implements MetricsCollector.
func (p *PrometheusCollector) RecordBatch(count, failed int, _ time.Duration) {
	p.batchTotal.Inc()
	p.batchRecords.WithLabelValues("true").Add(float64(count - failed))
	p.batchRecords.WithLabelValues("false").Add(float64(failed))
}

// RecordQuery implements MetricsCollector.
func (p *PrometheusCollector) RecordQuery(mode string, results int, truncated bool, duration time.Duration, err error) {
	p.queryTotal.WithLabelValues(mode, strconv.FormatBool(err == nil), strconv.FormatBool(truncated)).Inc()
	p.querySeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if err == nil {
		p.queryResults.Observe(float64(results))
	}
}

// RecordCompaction implements MetricsCollector.
func (p *PrometheusCollector) RecordCompaction(removed int, _ time.Duration, err error) {
	p.compactTotal.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	if err == nil {
		p.compactedVecs.Add(float64(removed))
	}
}

var _ MetricsCollector = (*PrometheusCollector)(nil)
