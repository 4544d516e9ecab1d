package sinks

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcheck/internal/results"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the records.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	cached := okEvent("http://site.test/a")
	cached.Record.Cached = true
	batch := []results.Event{
		okEvent("http://site.test/a"),
		cached,
		brokenEvent("http://site.test/b"),
		warnedEvent("http://site.test/c"),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.results.WithLabelValues("http", "ok", "false")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.results.WithLabelValues("http", "ok", "true")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.results.WithLabelValues("http", "broken", "false")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.results.WithLabelValues("http", "warning", "false")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.warnings.WithLabelValues("anchor-not-found")), 1e-9)

	// The cached record and the broken one contribute no bytes.
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.bytes.WithLabelValues("http")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.downloadTime, "linkcheck_download_duration_seconds"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
