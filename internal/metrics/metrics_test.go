package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if checksTotal == nil || cacheHitsTotal == nil || queueDepth == nil ||
		activeWorkers == nil || robotsFetchTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCheck(t *testing.T) {
	before := testutil.ToFloat64(checksTotal.WithLabelValues("ftp", "error"))
	ObserveCheck("ftp", "error", 20*time.Millisecond)
	if got := testutil.ToFloat64(checksTotal.WithLabelValues("ftp", "error")); got != before+1 {
		t.Errorf("Expected checksTotal to grow by 1, got %f -> %f", before, got)
	}
	if val := testutil.CollectAndCount(checkDurationSeconds); val <= 0 {
		t.Errorf("Expected checkDurationSeconds to be observed, got %d", val)
	}
}

func TestGauges(t *testing.T) {
	SetQueueDepth(7)
	if got := testutil.ToFloat64(queueDepth); got != 7 {
		t.Errorf("Expected queue depth 7, got %f", got)
	}

	start := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != start+1 {
		t.Errorf("Expected active workers %f, got %f", start+1, got)
	}
}

func TestCounters(t *testing.T) {
	hits := testutil.ToFloat64(cacheHitsTotal)
	ObserveCacheHit()
	if got := testutil.ToFloat64(cacheHitsTotal); got != hits+1 {
		t.Errorf("Expected cache hits %f, got %f", hits+1, got)
	}

	ObserveRobotsFetch("disallow_all")
	if got := testutil.ToFloat64(robotsFetchTotal.WithLabelValues("disallow_all")); got < 1 {
		t.Errorf("Expected robots fetch counter to be observed, got %f", got)
	}

	redirects := testutil.ToFloat64(redirectsTotal)
	ObserveRedirect()
	if got := testutil.ToFloat64(redirectsTotal); got != redirects+1 {
		t.Errorf("Expected redirects %f, got %f", redirects+1, got)
	}

	ObservePoolWait("http", 3*time.Millisecond)
	if val := testutil.CollectAndCount(poolWaitSeconds); val <= 0 {
		t.Errorf("Expected poolWaitSeconds to be observed, got %d", val)
	}
}
