package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravito-framework/connectty-go/internal/telemetry"
	"github.com/gravito-framework/connectty-go/pkg/sampler"
	"github.com/gravito-framework/connectty-go/pkg/store"
	"github.com/gravito-framework/connectty-go/pkg/types"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func applyConnections(t *testing.T, agg *store.Aggregator, number uint64, v float64) {
	t.Helper()
	cycle := types.Cycle{Number: number, Timestamp: t0.Add(time.Duration(number) * time.Second)}
	samples := []types.Sample{
		types.Scalar("active_connections", map[string]float64{"active_connections": v}),
		types.Descriptive("dns_servers", map[string]types.Text{"dns_servers": {"1.1.1.1"}}),
	}
	if err := agg.Apply(cycle, samples); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.Aggregator) {
	t.Helper()
	agg := store.New(store.WithLogger(quiet), store.WithSeed("global_ip", types.Text{"Initializing..."}))
	for i := uint64(1); i <= 5; i++ {
		applyConnections(t, agg, i, float64(i*10))
	}
	opts = append(opts, WithLogger(quiet))
	return New("127.0.0.1:0", "edge-1", agg, opts...), agg
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSnapshotEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name   string
		target string
		code   int
		points int
	}{
		{"full", "/api/snapshot", http.StatusOK, 5},
		{"limited", "/api/snapshot?points=2", http.StatusOK, 2},
		{"limit above size", "/api/snapshot?points=50", http.StatusOK, 5},
		{"bad limit", "/api/snapshot?points=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target)
			if rec.Code != tt.code {
				t.Fatalf("Expected status %d, got %d", tt.code, rec.Code)
			}
			if tt.code != http.StatusOK {
				return
			}

			var snap types.Snapshot
			if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
				t.Fatalf("Bad JSON: %v", err)
			}
			if snap.Cycle.Number != 5 {
				t.Errorf("Expected cycle 5, got %d", snap.Cycle.Number)
			}
			if got := len(snap.Series["active_connections"]); got != tt.points {
				t.Errorf("Expected %d points, got %d", tt.points, got)
			}
			if snap.LatestText("global_ip") != "Initializing..." {
				t.Errorf("Expected seeded value, got %s", snap.LatestText("global_ip"))
			}
		})
	}
}

func TestSeriesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/series/active_connections?points=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Key    string        `json:"key"`
		Points []types.Point `json:"points"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if len(body.Points) != 1 || body.Points[0].Value != 50 {
		t.Errorf("Expected last point 50, got %v", body.Points)
	}

	if rec := get(t, h, "/api/series/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown series, got %d", rec.Code)
	}
	if rec := get(t, h, "/api/series/dns_servers"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for descriptive key, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		state sampler.State
		code  int
	}{
		{"idle", sampler.StateIdle, http.StatusOK},
		{"running", sampler.StateRunning, http.StatusOK},
		{"stopped", sampler.StateStopped, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, WithStatus(func() sampler.Stats {
				return sampler.Stats{State: tt.state, StateName: tt.state.String()}
			}))
			if rec := get(t, s.Handler(), "/healthz"); rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := telemetry.New()
	s, _ := newTestServer(t, WithMetrics(m))
	h := s.Handler()

	get(t, h, "/api/snapshot")
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `connectty_http_requests_total{method="GET",route="GET /api/snapshot",status="200"} 1`) {
		t.Error("Expected instrumented snapshot route in exposition")
	}

	s2, _ := newTestServer(t)
	if rec := get(t, s2.Handler(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected no /metrics without telemetry, got %d", rec.Code)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return msg
}

func TestWebsocketFeed(t *testing.T) {
	s, agg := newTestServer(t, WithMetrics(telemetry.New()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.hub.Run(ctx)
	go s.hub.Follow(ctx, agg)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	first := readMessage(t, conn)
	if first.Type != "snapshot" || first.Data.Cycle.Number != 5 {
		t.Errorf("Expected current snapshot on connect, got %s cycle %d", first.Type, first.Data.Cycle.Number)
	}
	if first.Data.Node != "edge-1" {
		t.Errorf("Expected node edge-1, got %s", first.Data.Node)
	}

	applyConnections(t, agg, 6, 99)

	next := readMessage(t, conn)
	if next.Data.Cycle.Number != 6 {
		t.Errorf("Expected cycle 6, got %d", next.Data.Cycle.Number)
	}
	if v := next.Data.Values["active_connections"].Value; v != 99 {
		t.Errorf("Expected 99 active connections, got %v", v)
	}
}

func TestWebsocketOrigin(t *testing.T) {
	s, agg := newTestServer(t, WithAllowedOrigins([]string{"http://dash.local"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)
	go s.hub.Follow(ctx, agg)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	header := http.Header{"Origin": {"http://evil.local"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("Expected rejected origin")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}

	header = http.Header{"Origin": {"http://dash.local"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Expected allowed origin, got %v", err)
	}
	conn.Close()
}

func TestWebsocketAnyOrigin(t *testing.T) {
	s, agg := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)
	go s.hub.Follow(ctx, agg)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://elsewhere.local"}})
	if err != nil {
		t.Fatalf("Expected any origin without an allowlist, got %v", err)
	}
	conn.Close()
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
