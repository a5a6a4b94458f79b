package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCycleCompleted(t *testing.T) {
	m := New()

	samples := []types.Sample{
		{Probe: "active_connections", Kind: types.KindScalar, Scalars: map[string]float64{"active_connections": 12}, Duration: 5 * time.Millisecond},
		{Probe: "throughput", Kind: types.KindScalar, Reason: types.ReasonTimeout, Duration: 45 * time.Second},
		{Probe: "dns_servers", Kind: types.KindDescriptive, Texts: map[string]types.Text{"dns_servers": {"1.1.1.1"}}},
	}
	m.CycleCompleted(types.Cycle{Number: 1, Timestamp: time.Now()}, time.Second, samples)
	m.CycleCompleted(types.Cycle{Number: 2, Timestamp: time.Now()}, time.Second, samples[1:2])

	if got := testutil.ToFloat64(m.Cycles); got != 2 {
		t.Errorf("Expected 2 cycles, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProbeFailures.WithLabelValues("throughput", "timeout")); got != 2 {
		t.Errorf("Expected 2 throughput timeouts, got %v", got)
	}
	if got := testutil.ToFloat64(m.Values.WithLabelValues("active_connections")); got != 12 {
		t.Errorf("Expected gauge 12, got %v", got)
	}
	if got := testutil.CollectAndCount(m.Values); got != 1 {
		t.Errorf("Expected only scalar keys as gauges, got %d series", got)
	}
}

func TestTickSkipped(t *testing.T) {
	m := New()
	m.TickSkipped()
	m.TickSkipped()

	if got := testutil.ToFloat64(m.TicksSkipped); got != 2 {
		t.Errorf("Expected 2 skipped ticks, got %v", got)
	}
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New()

	notFound := m.Middleware("/api/series/{key}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such series", http.StatusNotFound)
	}))
	notFound.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/series/nope", nil))

	if got := testutil.ToFloat64(m.TotalRequests.WithLabelValues("GET", "/api/series/{key}", "404")); got != 1 {
		t.Errorf("Expected one 404 request, got %v", got)
	}

	m.TickSkipped()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{"connectty_ticks_skipped_total 1", "connectty_http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected exposition to contain %q", want)
		}
	}
}
