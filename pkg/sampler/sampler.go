// Package sampler drives collection cycles: every tick it runs all registered
// probes concurrently, bounds each by its timeout, and hands the batch to the store.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/store"
	"github.com/gravito-framework/connectty-go/pkg/types"
)

// DefaultInterval is the time between ticks
const DefaultInterval = 10 * time.Second

var (
	// ErrCycleInProgress is returned when a cycle is requested while one runs
	ErrCycleInProgress = errors.New("cycle already in progress")
	// ErrStopped is returned once the sampler has been stopped
	ErrStopped = errors.New("sampler stopped")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("sampler already running")
)

// State of the sampler
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observer receives cycle events, e.g. for metrics export
type Observer interface {
	CycleCompleted(cycle types.Cycle, took time.Duration, samples []types.Sample)
	TickSkipped()
}

// Stats summarizes the sampler's activity
type Stats struct {
	State        State         `json:"-"`
	StateName    string        `json:"state"`
	Cycles       uint64        `json:"cycles"`
	Skipped      uint64        `json:"skipped"`
	LastCycle    types.Cycle   `json:"lastCycle"`
	LastDuration time.Duration `json:"lastDuration"`
	LastFailures int           `json:"lastFailures"`
}

// Sampler runs collection cycles on a fixed interval. Ticks that fire while a
// cycle is still running are skipped, never queued, so cycles never overlap.
type Sampler struct {
	registry *probes.Registry
	store    *store.Aggregator
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	observer Observer

	mu       sync.Mutex
	state    State
	started  bool
	stopping bool
	number   uint64
	lastTS   time.Time
	stats    Stats
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option is a functional option for configuring the Sampler
type Option func(*Sampler)

// WithInterval sets the tick interval
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithClock overrides the source of cycle timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		s.now = now
	}
}

// WithObserver registers a cycle observer
func WithObserver(o Observer) Option {
	return func(s *Sampler) {
		s.observer = o
	}
}

// New creates a Sampler over a registry and a store
func New(registry *probes.Registry, agg *store.Aggregator, opts ...Option) *Sampler {
	s := &Sampler{
		registry: registry,
		store:    agg,
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Interval returns the tick interval
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// State returns the current state
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a copy of the activity counters
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	st.StateName = s.state.String()
	return st
}

// Start freezes the registry and begins the tick loop. The first cycle runs immediately.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping || s.state == StateStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.registry.Freeze()

	s.logger.Info("Sampler started",
		"interval", s.interval,
		"probes", s.registry.Len(),
	)

	go s.loop(loopCtx)
	return nil
}

// Stop ends the tick loop, cancels in-flight probes and waits for the
// running cycle to be applied. Stopped is terminal.
func (s *Sampler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping || s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cancel := s.cancel
	s.mu.Unlock()

	close(s.stopChan)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for cycle to finish: %w", ctx.Err())
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("Sampler stopped")
	return err
}

// RunCycle runs one cycle now and returns it once applied
func (s *Sampler) RunCycle(ctx context.Context) (types.Cycle, error) {
	cycle, err := s.begin()
	if err != nil {
		return types.Cycle{}, err
	}
	defer s.wg.Done()

	s.complete(ctx, cycle)
	return cycle, nil
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger starts a cycle in the background unless one is already running
func (s *Sampler) trigger(ctx context.Context) {
	cycle, err := s.begin()
	if err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			s.mu.Lock()
			s.stats.Skipped++
			s.mu.Unlock()
			if s.observer != nil {
				s.observer.TickSkipped()
			}
			s.logger.Debug("Tick skipped, previous cycle still running")
		}
		return
	}

	go func() {
		defer s.wg.Done()
		s.complete(ctx, cycle)
	}()
}

// begin moves Idle -> Running and allocates the cycle number and timestamp.
// On success the caller owns one wg slot.
func (s *Sampler) begin() (types.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping || s.state == StateStopped {
		return types.Cycle{}, ErrStopped
	}
	if s.state == StateRunning {
		return types.Cycle{}, ErrCycleInProgress
	}

	ts := s.now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.number++
	s.lastTS = ts
	s.state = StateRunning
	s.wg.Add(1)

	return types.Cycle{Number: s.number, Timestamp: ts}, nil
}

// complete runs the probes, applies the batch and returns to Idle
func (s *Sampler) complete(ctx context.Context, cycle types.Cycle) {
	start := time.Now()
	samples := s.collect(ctx, cycle)

	if err := s.store.Apply(cycle, samples); err != nil {
		panic(&InvariantError{Detail: err.Error()})
	}

	took := time.Since(start)
	failures := 0
	for _, sample := range samples {
		if !sample.OK() {
			failures++
			s.logger.Debug("Probe failed", "probe", sample.Probe, "reason", sample.Reason, "cycle", cycle.Number)
		}
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateIdle
	}
	s.stats.Cycles++
	s.stats.LastCycle = cycle
	s.stats.LastDuration = took
	s.stats.LastFailures = failures
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.CycleCompleted(cycle, took, samples)
	}

	s.logger.Debug("Cycle completed",
		"cycle", cycle.Number,
		"duration", took,
		"samples", len(samples),
		"failures", failures,
	)
}
