// Package telemetry exports the sampler's own activity and the latest scalar
// values as Prometheus metrics.
package telemetry

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/sampler"
	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "connectty"

// Metrics implements sampler.Observer on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Cycles          prometheus.Counter
	CycleDuration   prometheus.Histogram
	TicksSkipped    prometheus.Counter
	ProbeFailures   *prometheus.CounterVec
	ProbeDuration   *prometheus.HistogramVec
	Values          *prometheus.GaugeVec
	TotalRequests   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers the metrics, plus the Go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of completed sampling cycles",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a sampling cycle",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks dropped because the previous cycle was still running",
		}),
		ProbeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Failed probe samples by reason",
		}, []string{"probe", "reason"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Time a probe took within its cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"probe"}),
		Values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Latest value of each scalar metric",
		}, []string{"key"}),
		TotalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.Cycles,
		m.CycleDuration,
		m.TicksSkipped,
		m.ProbeFailures,
		m.ProbeDuration,
		m.Values,
		m.TotalRequests,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CycleCompleted records one applied cycle
func (m *Metrics) CycleCompleted(cycle types.Cycle, took time.Duration, samples []types.Sample) {
	m.Cycles.Inc()
	m.CycleDuration.Observe(took.Seconds())

	for _, s := range samples {
		m.ProbeDuration.WithLabelValues(s.Probe).Observe(s.Duration.Seconds())
		if !s.OK() {
			m.ProbeFailures.WithLabelValues(s.Probe, string(s.Reason)).Inc()
			continue
		}
		for key, v := range s.Scalars {
			m.Values.WithLabelValues(key).Set(v)
		}
	}
}

// TickSkipped records a dropped tick
func (m *Metrics) TickSkipped() {
	m.TicksSkipped.Inc()
}

// Middleware records request counts and durations under a fixed route label
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.TotalRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes connection takeover through to the wrapped writer for websocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

var _ sampler.Observer = (*Metrics)(nil)
