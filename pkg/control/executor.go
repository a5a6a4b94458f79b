// Package control runs remote commands received over Redis Pub/Sub.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/gravito-framework/connectty-go/pkg/sampler"
	"github.com/gravito-framework/connectty-go/pkg/types"
)

// Executor handles execution of a specific command type
type Executor interface {
	// SupportedType returns the command type this executor handles
	SupportedType() types.CommandType

	// Execute runs the command and returns a result
	Execute(ctx context.Context, cmd *types.ConnecttyCommand) types.CommandResult
}

// Sampler is the part of *sampler.Sampler the executors drive
type Sampler interface {
	RunCycle(ctx context.Context) (types.Cycle, error)
	Stats() sampler.Stats
}

// SnapshotSource provides the latest published snapshot
type SnapshotSource interface {
	Snapshot() *types.Snapshot
}

// BaseExecutor provides common helper methods
type BaseExecutor struct{}

// Success creates a success result
func (e *BaseExecutor) Success(commandID, message string, data map[string]any) types.CommandResult {
	r := types.NewSuccessResult(commandID, message)
	r.Data = data
	return r
}

// Failed creates a failed result
func (e *BaseExecutor) Failed(commandID, message string) types.CommandResult {
	return types.NewFailedResult(commandID, message)
}

// SampleNowExecutor handles SAMPLE_NOW: one cycle outside the tick schedule
type SampleNowExecutor struct {
	BaseExecutor
	sampler Sampler
	source  SnapshotSource
}

// NewSampleNowExecutor creates a SAMPLE_NOW executor
func NewSampleNowExecutor(s Sampler, source SnapshotSource) *SampleNowExecutor {
	return &SampleNowExecutor{sampler: s, source: source}
}

// SupportedType returns SAMPLE_NOW
func (e *SampleNowExecutor) SupportedType() types.CommandType {
	return types.CmdSampleNow
}

// Execute runs a cycle and reports its number and failures
func (e *SampleNowExecutor) Execute(ctx context.Context, cmd *types.ConnecttyCommand) types.CommandResult {
	cycle, err := e.sampler.RunCycle(ctx)
	switch {
	case errors.Is(err, sampler.ErrCycleInProgress):
		return e.Failed(cmd.ID, "A cycle is already running, try again later")
	case errors.Is(err, sampler.ErrStopped):
		return e.Failed(cmd.ID, "Sampler is stopped")
	case err != nil:
		return e.Failed(cmd.ID, fmt.Sprintf("Cycle failed: %v", err))
	}

	data := map[string]any{"cycle": cycle.Number}
	if snap := e.source.Snapshot(); snap != nil && len(snap.Failures) > 0 {
		data["failures"] = snap.Failures
	}
	return e.Success(cmd.ID, fmt.Sprintf("Cycle %d completed", cycle.Number), data)
}

// ReportStatusExecutor handles REPORT_STATUS
type ReportStatusExecutor struct {
	BaseExecutor
	sampler Sampler
	source  SnapshotSource
}

// NewReportStatusExecutor creates a REPORT_STATUS executor
func NewReportStatusExecutor(s Sampler, source SnapshotSource) *ReportStatusExecutor {
	return &ReportStatusExecutor{sampler: s, source: source}
}

// SupportedType returns REPORT_STATUS
func (e *ReportStatusExecutor) SupportedType() types.CommandType {
	return types.CmdReportStatus
}

// Execute reports the sampler counters and current failures
func (e *ReportStatusExecutor) Execute(ctx context.Context, cmd *types.ConnecttyCommand) types.CommandResult {
	stats := e.sampler.Stats()
	data := map[string]any{"stats": stats}
	if snap := e.source.Snapshot(); snap != nil {
		data["failures"] = snap.Failures
	}
	return e.Success(cmd.ID, "Sampler is "+stats.StateName, data)
}

var (
	_ Executor = (*SampleNowExecutor)(nil)
	_ Executor = (*ReportStatusExecutor)(nil)
)
