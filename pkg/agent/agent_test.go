package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rclient "github.com/gravito-framework/connectty-go/internal/redis"
	"github.com/gravito-framework/connectty-go/internal/telemetry"
	"github.com/gravito-framework/connectty-go/pkg/config"
	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/probes/speed"
	"github.com/gravito-framework/connectty-go/pkg/publish"
	"github.com/gravito-framework/connectty-go/pkg/render"
	"github.com/gravito-framework/connectty-go/pkg/sampler"
	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Name = "edge-1"
	cfg.Interval = time.Hour
	return cfg
}

func counterProbe() probes.Probe {
	n := 0.0
	return probes.NewFunc("counter", types.KindScalar, time.Second, func(ctx context.Context) types.Sample {
		n++
		return types.Scalar("counter", map[string]float64{"counter": n})
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 0

	_, err := New(cfg, WithLogger(quiet))
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected *config.ConfigError, got %v", err)
	}
}

func TestProbeSelection(t *testing.T) {
	noSpeed := func(ctx context.Context) (speed.Result, error) { return speed.Result{}, nil }

	tests := []struct {
		name      string
		selection []string
		speedTest bool
		expected  []string
		wantErr   bool
	}{
		{"all", nil, true, append(append([]string{}, probes.Names...), speed.Key), false},
		{"all without speed test", nil, false, probes.Names, false},
		{"subset", []string{"traffic", "throughput"}, true, []string{"traffic", "throughput"}, false},
		{"throughput disabled", []string{"traffic", "throughput"}, false, []string{"traffic"}, false},
		{"nothing left", []string{"throughput"}, false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Probes = tt.selection
			cfg.SpeedTest = tt.speedTest

			a, err := New(cfg, WithLogger(quiet), WithSpeedRunner(noSpeed))
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			got := a.Registry().Probes()
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d probes, got %d", len(tt.expected), len(got))
			}
			for i, p := range got {
				if p.Key() != tt.expected[i] {
					t.Errorf("Probe %d: expected %s, got %s", i, tt.expected[i], p.Key())
				}
			}
		})
	}
}

func TestSeededStore(t *testing.T) {
	a, err := New(testConfig(), WithLogger(quiet), WithProbes(counterProbe()))
	if err != nil {
		t.Fatal(err)
	}

	snap := a.Store().Snapshot()
	if got := snap.LatestText(probes.KeyGlobalIP); got != render.Initializing {
		t.Errorf("Expected placeholder before first cycle, got %s", got)
	}
	if snap.Cycle.Number != 0 {
		t.Errorf("Expected cycle 0, got %d", snap.Cycle.Number)
	}
}

func TestSampleOnce(t *testing.T) {
	m := telemetry.New()
	a, err := New(testConfig(), WithLogger(quiet), WithProbes(counterProbe()), WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}

	snap, err := a.SampleOnce(context.Background())
	if err != nil {
		t.Fatalf("SampleOnce failed: %v", err)
	}
	if p, ok := snap.LastPoint("counter"); !ok || p.Value != 1 {
		t.Errorf("Expected counter 1, got %v", p.Value)
	}
	if got := testutil.ToFloat64(m.Cycles); got != 1 {
		t.Errorf("Expected observer to record 1 cycle, got %v", got)
	}
}

func TestStartStop(t *testing.T) {
	a, err := New(testConfig(), WithLogger(quiet), WithProbes(counterProbe()))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Error("Expected error on second Start")
	}

	waitFor(t, "initial cycle", func() bool { return a.Store().Snapshot().Cycle.Number >= 1 })

	if err := a.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Errorf("Expected idempotent Stop, got %v", err)
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := New(cfg, WithLogger(quiet), WithProbes(counterProbe()))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Sampler().Stop(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		err := a.Start(ctx)
		if !errors.Is(err, sampler.ErrStopped) {
			t.Fatalf("Attempt %d: expected sampler.ErrStopped, got %v", i, err)
		}
		if a.Running() {
			t.Errorf("Attempt %d: expected agent not running after failed Start", i)
		}
	}
}

func TestRedisIntegration(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := New(cfg, WithLogger(quiet), WithProbes(counterProbe()))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop(ctx)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	waitFor(t, "published snapshot", func() bool {
		r, err := publish.Get(ctx, client, "edge-1")
		return err == nil && r.Cycle.Number >= 1
	})

	results := client.Subscribe(ctx, rclient.ResultChannel("edge-1"))
	defer results.Close()
	if _, err := results.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	cmd, _ := json.Marshal(types.ConnecttyCommand{ID: "now", Type: types.CmdSampleNow, TargetNodeID: "edge-1"})
	waitFor(t, "listener subscription", func() bool {
		n, _ := client.Publish(ctx, rclient.CommandChannel("edge-1"), cmd).Result()
		return n > 0
	})

	select {
	case msg := <-results.Channel():
		var r types.CommandResult
		if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
			t.Fatal(err)
		}
		if r.CommandID != "now" || r.Status != types.StatusSuccess {
			t.Errorf("Expected successful SAMPLE_NOW, got %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a command result")
	}

	waitFor(t, "second cycle", func() bool {
		r, err := publish.Get(ctx, client, "edge-1")
		return err == nil && r.Cycle.Number >= 2
	})
}
