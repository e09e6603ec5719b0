package stats

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusBridge mirrors the processed/failed counters into Prometheus,
// adapted from alya metrics/prometheus_metrics.go's
// counterVecs map[string]*prometheus.CounterVec pattern. Unlike alya's
// in-process counters, the counters here live in Redis and are shared by
// every worker process in the fleet, so this is a pull-model
// prometheus.Collector that reads through the Store on every scrape rather
// than a CounterVec mirrored by Inc calls at increment time (see
// DESIGN.md).
type PrometheusBridge struct {
	counters  *Counters
	workerIDs func(ctx context.Context) ([]string, error)
	timeout   time.Duration

	processed   *prometheus.Desc
	failed      *prometheus.Desc
	processedBy *prometheus.Desc
	failedBy    *prometheus.Desc
}

// NewPrometheusBridge builds a Collector over counters. workerIDs supplies
// the current registry membership so per-identity series can be exported
// (worker.Store.WorkerIDs, or redisstore.Store.WorkerIDs directly).
func NewPrometheusBridge(counters *Counters, workerIDs func(ctx context.Context) ([]string, error)) *PrometheusBridge {
	return &PrometheusBridge{
		counters:  counters,
		workerIDs: workerIDs,
		timeout:   2 * time.Second,
		processed: prometheus.NewDesc(
			"resque_jobs_processed_total", "Total number of jobs processed across the fleet.", nil, nil),
		failed: prometheus.NewDesc(
			"resque_jobs_failed_total", "Total number of jobs that failed across the fleet.", nil, nil),
		processedBy: prometheus.NewDesc(
			"resque_worker_jobs_processed_total", "Total number of jobs processed, labelled by worker identity.",
			[]string{"identity"}, nil),
		failedBy: prometheus.NewDesc(
			"resque_worker_jobs_failed_total", "Total number of jobs that failed, labelled by worker identity.",
			[]string{"identity"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (b *PrometheusBridge) Describe(ch chan<- *prometheus.Desc) {
	ch <- b.processed
	ch <- b.failed
	ch <- b.processedBy
	ch <- b.failedBy
}

// Collect implements prometheus.Collector, reading current counter values
// out of the store on every scrape. Errors from the store are swallowed
// per-series rather than failing the whole scrape, matching promhttp's
// expectation that Collect never panics on a transient backend hiccup.
func (b *PrometheusBridge) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if v, err := b.counters.Processed(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(b.processed, prometheus.CounterValue, float64(v))
	}
	if v, err := b.counters.Failed(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(b.failed, prometheus.CounterValue, float64(v))
	}

	ids, err := b.workerIDs(ctx)
	if err != nil {
		return
	}
	for _, id := range ids {
		if v, err := b.counters.ProcessedBy(ctx, id); err == nil {
			ch <- prometheus.MustNewConstMetric(b.processedBy, prometheus.CounterValue, float64(v), id)
		}
		if v, err := b.counters.FailedBy(ctx, id); err == nil {
			ch <- prometheus.MustNewConstMetric(b.failedBy, prometheus.CounterValue, float64(v), id)
		}
	}
}
