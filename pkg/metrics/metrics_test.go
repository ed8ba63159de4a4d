package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcomeMetricsExistAndIncrement(t *testing.T) {
	// Use test labels to avoid colliding with other tests
	Outcomes.WithLabelValues("created", "").Inc()
	if v := testutil.ToFloat64(Outcomes.WithLabelValues("created", "")); v < 1 {
		t.Fatalf("expected Outcomes{created} >= 1, got %v", v)
	}

	Outcomes.WithLabelValues("failed", "upstream_unavailable").Add(2)
	if v := testutil.ToFloat64(Outcomes.WithLabelValues("failed", "upstream_unavailable")); v < 2 {
		t.Fatalf("expected Outcomes{failed} >= 2, got %v", v)
	}

	TrackerRequests.WithLabelValues("transient").Inc()
	if v := testutil.ToFloat64(TrackerRequests.WithLabelValues("transient")); v < 1 {
		t.Fatalf("expected TrackerRequests{transient} >= 1, got %v", v)
	}

	RateLimited.Inc()
	if v := testutil.ToFloat64(RateLimited); v < 1 {
		t.Fatalf("expected RateLimited >= 1, got %v", v)
	}
}

func TestSinkCircuitBreakerStateLabelCardinality(t *testing.T) {
	SinkCircuitBreakerState.Reset()
	defer SinkCircuitBreakerState.Reset()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("SinkCircuitBreakerState panicked: %v", r)
		}
	}()

	SinkCircuitBreakerState.WithLabelValues("kafka").Set(1)
	if v := testutil.ToFloat64(SinkCircuitBreakerState.WithLabelValues("kafka")); v != 1 {
		t.Fatalf("expected gauge value 1, got %v", v)
	}
}
