package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/linkcheck/internal/results"
)

// PrometheusSink exports per-run result totals. It owns its collectors and
// registers them against the registry it is given.
type PrometheusSink struct {
	results      *prometheus.CounterVec
	warnings     *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	downloadTime *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkcheck_results_total",
			Help: "Terminal link records partitioned by scheme, result, and cache use.",
		}, []string{"scheme", "result", "cached"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkcheck_result_warnings_total",
			Help: "Warnings attached to link records, by tag.",
		}, []string{"tag"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkcheck_result_bytes_total",
			Help: "Content bytes reported by uncached checks, by scheme.",
		}, []string{"scheme"}),
		downloadTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkcheck_download_duration_seconds",
			Help:    "Content download time of uncached checks, by scheme.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"scheme"}),
	}
	for _, collector := range []prometheus.Collector{s.results, s.warnings, s.bytes, s.downloadTime} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register result collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []results.Event) error {
	for _, evt := range batch {
		rec := evt.Record
		scheme := string(rec.Scheme)
		if scheme == "" {
			scheme = "unknown"
		}
		s.results.WithLabelValues(scheme, evt.Label(), strconv.FormatBool(rec.Cached)).Inc()
		for _, w := range rec.Warnings {
			s.warnings.WithLabelValues(w.Tag).Inc()
		}
		if rec.Cached {
			continue
		}
		if rec.Size > 0 {
			s.bytes.WithLabelValues(scheme).Add(float64(rec.Size))
		}
		if rec.DownloadTime > 0 {
			s.downloadTime.WithLabelValues(scheme).Observe(rec.DownloadTime.Seconds())
		}
	}
	return nil
}

// Close implements results.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
