// Package agent wires the Connectty components together: probes, sampler,
// store, and the optional Redis publisher and remote control listener.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	rclient "github.com/gravito-framework/connectty-go/internal/redis"
	"github.com/gravito-framework/connectty-go/internal/telemetry"
	"github.com/gravito-framework/connectty-go/pkg/config"
	"github.com/gravito-framework/connectty-go/pkg/control"
	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/probes/speed"
	"github.com/gravito-framework/connectty-go/pkg/publish"
	"github.com/gravito-framework/connectty-go/pkg/render"
	"github.com/gravito-framework/connectty-go/pkg/sampler"
	"github.com/gravito-framework/connectty-go/pkg/store"
	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Agent is the main Connectty sampling agent
type Agent struct {
	config *config.Config
	logger *slog.Logger

	// Sampling
	registry *probes.Registry
	store    *store.Aggregator
	sampler  *sampler.Sampler
	metrics  *telemetry.Metrics

	// Probe overrides
	probes      []probes.Probe
	sources     probes.Sources
	speedRunner speed.Runner
	httpClient  *http.Client

	// Redis (optional)
	redis     *redis.Client
	publisher *publish.Publisher
	listener  *control.Listener

	// State
	nodeID  string
	running bool
	mu      sync.RWMutex
}

// Option is a functional option for configuring the Agent
type Option func(*Agent)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithProbes replaces the configured probe set
func WithProbes(ps ...probes.Probe) Option {
	return func(a *Agent) {
		a.probes = ps
	}
}

// WithSources overrides the OS queries of the built-in probes
func WithSources(s probes.Sources) Option {
	return func(a *Agent) {
		a.sources = s
	}
}

// WithSpeedRunner overrides the throughput measurement
func WithSpeedRunner(run speed.Runner) Option {
	return func(a *Agent) {
		a.speedRunner = run
	}
}

// WithHTTPClient sets the client used by the global address probe
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) {
		a.httpClient = c
	}
}

// WithMetrics attaches Prometheus telemetry to the sampler
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// New creates a new Connectty Agent
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		config: cfg,
		logger: slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		opt(a)
	}

	a.nodeID = cfg.Name
	if a.nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve node name: %w", err)
		}
		a.nodeID = hostname
	}

	ps := a.probes
	if ps == nil {
		built, err := a.buildProbes()
		if err != nil {
			return nil, err
		}
		ps = built
	}

	a.registry = probes.NewRegistry()
	for _, p := range ps {
		if err := a.registry.Register(p); err != nil {
			return nil, err
		}
	}

	storeOpts := []store.Option{
		store.WithCapacity(cfg.SeriesCapacity),
		store.WithLogger(a.logger),
	}
	for key, text := range render.Seeds() {
		storeOpts = append(storeOpts, store.WithSeed(key, text))
	}
	a.store = store.New(storeOpts...)

	samplerOpts := []sampler.Option{
		sampler.WithInterval(cfg.Interval),
		sampler.WithLogger(a.logger),
	}
	if a.metrics != nil {
		samplerOpts = append(samplerOpts, sampler.WithObserver(a.metrics))
	}
	a.sampler = sampler.New(a.registry, a.store, samplerOpts...)

	if cfg.RedisURL != "" {
		client, err := rclient.NewClientLazy(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		a.redis = client
		a.publisher = publish.New(client, a.nodeID,
			publish.WithTTL(cfg.EffectiveSnapshotTTL()),
			publish.WithLogger(a.logger),
		)
		a.listener = control.NewListener(client, a.nodeID, a.sampler, a.store, a.logger)
	}

	return a, nil
}

func (a *Agent) buildProbes() ([]probes.Probe, error) {
	cfg := a.config

	var names []string
	for _, name := range probes.Names {
		if cfg.Wants(name) {
			names = append(names, name)
		}
	}

	var ps []probes.Probe
	if len(names) > 0 {
		built, err := probes.Build(names, probes.Settings{
			Timeout:       cfg.ProbeTimeout,
			LookupTimeout: cfg.LookupTimeout,
			GlobalIPURL:   cfg.GlobalIPURL,
			ResolvConf:    cfg.ResolvConf,
			HTTPClient:    a.httpClient,
			Sources:       a.sources,
		})
		if err != nil {
			return nil, err
		}
		ps = built
	}

	if cfg.SpeedTest && cfg.Wants(speed.Key) {
		ps = append(ps, speed.New(a.speedRunner, cfg.SpeedTestTimeout))
	}

	if len(ps) == 0 {
		return nil, errors.New("no probes selected")
	}
	return ps, nil
}

// Start begins sampling and, with Redis configured, publishing and remote control
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.running = true
	a.mu.Unlock()

	if a.publisher != nil {
		if err := a.publisher.Start(ctx, a.store); err != nil {
			a.setRunning(false)
			return fmt.Errorf("failed to start publisher: %w", err)
		}
	}

	if err := a.sampler.Start(ctx); err != nil {
		if a.publisher != nil {
			if perr := a.publisher.Stop(ctx); perr != nil {
				a.logger.Error("Failed to stop publisher", "error", perr)
			}
		}
		a.setRunning(false)
		return fmt.Errorf("failed to start sampler: %w", err)
	}

	// Remote control is optional: a failure leaves the agent sampling
	if a.listener != nil {
		if err := a.listener.Start(ctx); err != nil {
			a.logger.Warn("⚠️ Remote control unavailable", "error", err)
		} else {
			a.logger.Info("🎮 Remote control enabled", "nodeId", a.nodeID)
		}
	}

	a.logger.Info("Connectty Agent started",
		"node", a.nodeID,
		"interval", a.config.Interval,
		"probes", a.registry.Len(),
	)
	return nil
}

func (a *Agent) setRunning(v bool) {
	a.mu.Lock()
	a.running = v
	a.mu.Unlock()
}

// Running reports whether Start has succeeded and Stop has not been called
func (a *Agent) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Stop gracefully stops the agent
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.listener != nil {
		if err := a.listener.Stop(ctx); err != nil {
			a.logger.Error("Failed to stop command listener", "error", err)
		}
	}

	err := a.sampler.Stop(ctx)

	if a.publisher != nil {
		if err := a.publisher.Stop(ctx); err != nil {
			a.logger.Error("Failed to stop publisher", "error", err)
		}
	}

	a.Close()

	a.logger.Info("Connectty Agent stopped")
	return err
}

// Close releases the Redis connection
func (a *Agent) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.logger.Error("Failed to close Redis", "error", err)
		}
	}
}

// SampleOnce runs a single cycle without starting the loop and returns the result
func (a *Agent) SampleOnce(ctx context.Context) (*types.Snapshot, error) {
	if _, err := a.sampler.RunCycle(ctx); err != nil {
		return nil, err
	}
	return a.store.Snapshot(), nil
}

// NodeID returns the node identifier
func (a *Agent) NodeID() string {
	return a.nodeID
}

// Store returns the aggregator
func (a *Agent) Store() *store.Aggregator {
	return a.store
}

// Sampler returns the sampler
func (a *Agent) Sampler() *sampler.Sampler {
	return a.sampler
}

// Registry returns the probe registry
func (a *Agent) Registry() *probes.Registry {
	return a.registry
}
