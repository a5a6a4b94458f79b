package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	rkeys "github.com/gravito-framework/connectty-go/internal/redis"
	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Listener subscribes to the node's command channel and publishes results
type Listener struct {
	client    *redis.Client
	nodeID    string
	logger    *slog.Logger
	executors map[types.CommandType]Executor
	isRunning bool
	stopChan  chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

// NewListener creates a listener with the SAMPLE_NOW and REPORT_STATUS executors registered
func NewListener(client *redis.Client, nodeID string, s Sampler, source SnapshotSource, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		client:    client,
		nodeID:    nodeID,
		logger:    logger,
		executors: make(map[types.CommandType]Executor),
		stopChan:  make(chan struct{}),
	}

	l.RegisterExecutor(NewSampleNowExecutor(s, source))
	l.RegisterExecutor(NewReportStatusExecutor(s, source))

	return l
}

// RegisterExecutor registers a command executor
func (l *Listener) RegisterExecutor(executor Executor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executors[executor.SupportedType()] = executor
}

// Start begins listening for commands
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.isRunning {
		l.mu.Unlock()
		return fmt.Errorf("command listener already running")
	}
	l.isRunning = true
	l.stopChan = make(chan struct{})
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	channel := rkeys.CommandChannel(l.nodeID)
	pubsub := l.client.Subscribe(ctx, channel)

	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		l.mu.Lock()
		l.isRunning = false
		l.cancel()
		l.mu.Unlock()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	l.logger.Info("📡 Listening for commands", "channel", channel)

	l.wg.Add(1)
	go l.handleMessages(ctx, pubsub)

	return nil
}

// Stop cancels any command in flight and waits for the handler to exit
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return nil
	}
	l.isRunning = false
	cancel := l.cancel
	l.mu.Unlock()

	close(l.stopChan)
	cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("Command listener stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("command listener did not stop: %w", ctx.Err())
	}
}

func (l *Listener) handleMessages(ctx context.Context, pubsub *redis.PubSub) {
	defer l.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			l.processMessage(ctx, msg.Payload)
		}
	}
}

func (l *Listener) processMessage(ctx context.Context, payload string) {
	var cmd types.ConnecttyCommand
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		l.logger.Error("Failed to parse command", "error", err)
		return
	}

	l.logger.Info("📥 Received command",
		"type", cmd.Type,
		"id", cmd.ID,
		"issuer", cmd.Issuer,
	)

	// Security check: Is this command for us?
	if cmd.TargetNodeID != l.nodeID && cmd.TargetNodeID != "*" {
		l.logger.Warn("⚠️ Command not for this node", "target", cmd.TargetNodeID)
		return
	}

	// Security check: Is this command type allowed?
	if !cmd.Type.IsAllowed() {
		l.logger.Warn("⚠️ Command type not allowed", "type", cmd.Type)
		result := types.NewFailedResult(cmd.ID, "Command type not allowed")
		result.Status = types.StatusNotAllowed
		l.publishResult(ctx, result)
		return
	}

	l.mu.RLock()
	executor, ok := l.executors[cmd.Type]
	l.mu.RUnlock()
	if !ok {
		l.logger.Warn("⚠️ No executor for command type", "type", cmd.Type)
		l.publishResult(ctx, types.NewFailedResult(cmd.ID, "No executor for command type"))
		return
	}

	result := executor.Execute(ctx, &cmd)

	if result.Status == types.StatusSuccess {
		l.logger.Info("✅ Command executed", "type", cmd.Type, "message", result.Message)
	} else {
		l.logger.Error("❌ Command failed", "type", cmd.Type, "message", result.Message)
	}

	l.publishResult(ctx, result)
}

func (l *Listener) publishResult(ctx context.Context, result types.CommandResult) {
	data, err := json.Marshal(result)
	if err != nil {
		l.logger.Error("Failed to marshal result", "error", err)
		return
	}
	if err := l.client.Publish(ctx, rkeys.ResultChannel(l.nodeID), data).Err(); err != nil {
		l.logger.Error("Failed to publish result", "error", err, "command", result.CommandID)
	}
}
