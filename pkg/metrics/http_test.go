package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.Observe("POST", "/api/v1/contracts/{contractID}/fund", 201, 30*time.Millisecond)
	m.Observe("POST", "/api/v1/contracts/{contractID}/fund", 201, 10*time.Millisecond)
	m.Observe("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	fund, err := fetchCounterValue(mfs, "escrow_http_requests_total", map[string]string{
		"method": "POST", "route": "/api/v1/contracts/{contractID}/fund", "status": "201",
	})
	if err != nil || fund != 2 {
		t.Fatalf("expected 2 fund requests, got %v (%v)", fund, err)
	}
	unmatched, err := fetchCounterValue(mfs, "escrow_http_requests_total", map[string]string{"route": "unmatched", "status": "404"})
	if err != nil || unmatched != 1 {
		t.Fatalf("expected unmatched route label, got %v (%v)", unmatched, err)
	}
	latency := findMetricFamily(mfs, "escrow_http_request_duration_seconds")
	if latency == nil || len(latency.GetMetric()) != 2 {
		t.Fatalf("expected 2 latency series, got %v", latency)
	}
}

func TestNilHTTPMetricsAreNoops(t *testing.T) {
	var m *HTTPMetrics
	m.Observe("GET", "/health/live", 200, time.Millisecond)
	NewHTTPMetrics(nil).Observe("GET", "/health/live", 200, time.Millisecond)
}
