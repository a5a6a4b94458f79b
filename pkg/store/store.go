// Package store holds the latest value of every metric and the time series
// of the Scalar ones. It has a single writer (Apply) and any number of
// lock-free readers (Snapshot, Subscribe).
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/gravito-framework/connectty-go/pkg/types"
)

// DefaultCapacity bounds every Series unless overridden
const DefaultCapacity = 10000

// ErrOutOfOrder is returned when a cycle older than the last applied one is applied
var ErrOutOfOrder = errors.New("cycle applied out of order")

// Aggregator is the Series Store
type Aggregator struct {
	logger   *slog.Logger
	capacity int

	mu       sync.Mutex // serializes writers
	last     types.Cycle
	latest   map[string]types.Text
	series   map[string]*series
	failures map[string]types.Reason

	current atomic.Pointer[types.Snapshot]

	subMu       sync.Mutex
	subscribers map[int]chan *types.Snapshot
	nextSubID   int
}

// Option is a functional option for configuring the Aggregator
type Option func(*Aggregator)

// WithCapacity bounds every Series to n points (0 = unbounded)
func WithCapacity(n int) Option {
	return func(a *Aggregator) {
		a.capacity = n
	}
}

// WithSeed sets an initial Descriptive value, shown until the first successful sample
func WithSeed(key string, value types.Text) Option {
	return func(a *Aggregator) {
		a.latest[key] = value
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// New creates an empty Aggregator and publishes its initial snapshot
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:      slog.Default(),
		capacity:    DefaultCapacity,
		latest:      make(map[string]types.Text),
		series:      make(map[string]*series),
		failures:    make(map[string]types.Reason),
		subscribers: make(map[int]chan *types.Snapshot),
	}

	for _, opt := range opts {
		opt(a)
	}
	if a.capacity < 0 {
		a.capacity = 0
	}

	a.current.Store(a.buildSnapshot())
	return a
}

// Capacity returns the configured per-series bound (0 = unbounded)
func (a *Aggregator) Capacity() int {
	return a.capacity
}

// Apply folds one cycle's samples into the store and publishes a new snapshot.
// Failed samples leave the previous state of their keys untouched.
func (a *Aggregator) Apply(cycle types.Cycle, samples []types.Sample) error {
	a.mu.Lock()

	if a.last.Number != 0 && (cycle.Number <= a.last.Number || cycle.Timestamp.Before(a.last.Timestamp)) {
		a.mu.Unlock()
		return fmt.Errorf("%w: cycle %d after %d", ErrOutOfOrder, cycle.Number, a.last.Number)
	}

	for _, s := range samples {
		if !s.OK() {
			a.failures[s.Probe] = s.Reason
			continue
		}
		delete(a.failures, s.Probe)

		switch s.Kind {
		case types.KindDescriptive:
			for key, text := range s.Texts {
				a.latest[key] = text
			}
		case types.KindScalar:
			for key, v := range s.Scalars {
				a.appendPoint(key, types.Point{Timestamp: cycle.Timestamp, Value: v})
			}
		}
	}

	a.last = cycle
	snap := a.buildSnapshot()
	a.current.Store(snap)
	a.mu.Unlock()

	a.broadcast(snap)
	return nil
}

func (a *Aggregator) appendPoint(key string, p types.Point) {
	s, ok := a.series[key]
	if !ok {
		s = &series{capacity: a.capacity}
		a.series[key] = s
	}
	s.append(p)
}

// buildSnapshot must be called with mu held
func (a *Aggregator) buildSnapshot() *types.Snapshot {
	snap := &types.Snapshot{
		Cycle:    a.last,
		Latest:   maps.Clone(a.latest),
		Series:   make(map[string][]types.Point, len(a.series)),
		Failures: maps.Clone(a.failures),
	}
	for key, s := range a.series {
		snap.Series[key] = s.view()
	}
	return snap
}

// Snapshot returns the most recently published view
func (a *Aggregator) Snapshot() *types.Snapshot {
	return a.current.Load()
}

// Subscribe returns a channel receiving every published snapshot. Delivery is
// latest-wins: a slow reader loses intermediate snapshots and never blocks Apply.
func (a *Aggregator) Subscribe(buffer int) (<-chan *types.Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *types.Snapshot, buffer)

	a.subMu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = ch
	a.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subscribers, id)
			a.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (a *Aggregator) broadcast(snap *types.Snapshot) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	for id, ch := range a.subscribers {
		for {
			select {
			case ch <- snap:
			default:
				// Drop the oldest queued snapshot and retry
				select {
				case <-ch:
					a.logger.Debug("Subscriber lagging, dropped snapshot", "subscriber", id)
				default:
				}
				continue
			}
			break
		}
	}
}
