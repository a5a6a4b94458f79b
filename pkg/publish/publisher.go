// Package publish ships snapshots to Redis so other hosts can read the latest
// state of a node (SET with TTL) or follow it live (PUBLISH).
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rkeys "github.com/gravito-framework/connectty-go/internal/redis"
	"github.com/gravito-framework/connectty-go/pkg/store"
	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is used when no TTL is configured
const DefaultTTL = 30 * time.Second

// Report is the wire form of a snapshot: latest values only, no history
type Report struct {
	Node      string                  `json:"node"`
	Cycle     types.Cycle             `json:"cycle"`
	Latest    map[string]types.Text   `json:"latest"`
	Values    map[string]types.Point  `json:"values"`
	Failures  map[string]types.Reason `json:"failures,omitempty"`
	Timestamp int64                   `json:"timestamp"`
}

// NewReport condenses a snapshot
func NewReport(node string, snap *types.Snapshot) Report {
	r := Report{
		Node:      node,
		Cycle:     snap.Cycle,
		Latest:    snap.Latest,
		Values:    make(map[string]types.Point, len(snap.Series)),
		Failures:  snap.Failures,
		Timestamp: time.Now().UnixMilli(),
	}
	for key := range snap.Series {
		if p, ok := snap.LastPoint(key); ok {
			r.Values[key] = p
		}
	}
	return r
}

// Publisher forwards every snapshot of an Aggregator to Redis
type Publisher struct {
	client *redis.Client
	node   string
	ttl    time.Duration
	logger *slog.Logger

	running  bool
	cancel   func()
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// Option is a functional option for configuring the Publisher
type Option func(*Publisher)

// WithTTL sets the expiry of the node key
func WithTTL(ttl time.Duration) Option {
	return func(p *Publisher) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a Publisher for node
func New(client *redis.Client, node string, opts ...Option) *Publisher {
	p := &Publisher{
		client:   client,
		node:     node,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes one snapshot: the node key with TTL, then a message on the snapshot channel
func (p *Publisher) Publish(ctx context.Context, snap *types.Snapshot) error {
	data, err := json.Marshal(NewReport(p.node, snap))
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, rkeys.NodeKey(p.node), data, p.ttl)
	pipe.Publish(ctx, rkeys.SnapshotChannel(p.node), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// Start subscribes to the aggregator and publishes until Stop
func (p *Publisher) Start(ctx context.Context, agg *store.Aggregator) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("publisher already running")
	}
	p.running = true
	p.stopChan = make(chan struct{})
	snaps, cancel := agg.Subscribe(1)
	p.cancel = cancel
	p.mu.Unlock()

	if err := p.client.Ping(ctx).Err(); err != nil {
		p.logger.Warn("⚠️ Failed to connect to Redis, will retry on next snapshot", "error", err)
	}

	p.logger.Info("Publishing snapshots", "key", rkeys.NodeKey(p.node), "ttl", p.ttl)

	p.wg.Add(1)
	go p.loop(ctx, snaps)
	return nil
}

// Stop ends publishing
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	close(p.stopChan)
	cancel()
	p.wg.Wait()
	return nil
}

func (p *Publisher) loop(ctx context.Context, snaps <-chan *types.Snapshot) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := p.Publish(ctx, snap); err != nil {
				p.logger.Error("Snapshot publish failed", "error", err, "cycle", snap.Cycle.Number)
				continue
			}
			p.logger.Debug("Snapshot published", "cycle", snap.Cycle.Number)
		}
	}
}
