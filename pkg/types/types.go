// Package types defines shared types for the Connectty agent.
// The JSON tags are the wire format used by the HTTP API, the websocket feed and Redis.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Kind determines how a metric is stored: Scalar values are appended to a
// Series, Descriptive values replace the previous latest value.
type Kind int

const (
	KindScalar Kind = iota + 1
	KindDescriptive
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindDescriptive:
		return "descriptive"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reason is a short, stable classification of a probe failure
type Reason string

const (
	ReasonNetworkUnreachable Reason = "network_unreachable"
	ReasonPermissionDenied   Reason = "permission_denied"
	ReasonNotAvailable       Reason = "not_available"
	ReasonTimeout            Reason = "timeout"
	ReasonParseError         Reason = "parse_error"
	ReasonCanceled           Reason = "canceled"
)

// KnownReasons is the closed set of failure classifications
var KnownReasons = []Reason{
	ReasonNetworkUnreachable,
	ReasonPermissionDenied,
	ReasonNotAvailable,
	ReasonTimeout,
	ReasonParseError,
	ReasonCanceled,
}

// IsKnown reports whether r belongs to the closed reason set
func (r Reason) IsKnown() bool {
	for _, known := range KnownReasons {
		if r == known {
			return true
		}
	}
	return false
}

// Unavailable is rendered in place of a value that was never obtained
const Unavailable = "N/A"

// Text is the value of a Descriptive metric. Single-valued metrics hold one element.
type Text []string

// String joins the entries for display
func (t Text) String() string {
	if len(t) == 0 {
		return Unavailable
	}
	return strings.Join(t, ", ")
}

// Point is one (timestamp, value) entry of a Series
type Point struct {
	Timestamp time.Time `json:"t"`
	Value     float64   `json:"v"`
}

// Sample is one probe's result for one cycle. It is either Ok (Reason empty,
// values set) or Failed (Reason set, no values).
type Sample struct {
	Probe     string             `json:"probe"`
	Kind      Kind               `json:"kind"`
	Scalars   map[string]float64 `json:"scalars,omitempty"`
	Texts     map[string]Text    `json:"texts,omitempty"`
	Reason    Reason             `json:"reason,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Duration  time.Duration      `json:"duration"`
}

// OK reports whether the sample carries a value
func (s Sample) OK() bool {
	return s.Reason == ""
}

// Scalar creates an Ok sample for a Scalar probe
func Scalar(probe string, values map[string]float64) Sample {
	return Sample{Probe: probe, Kind: KindScalar, Scalars: values}
}

// Descriptive creates an Ok sample for a Descriptive probe
func Descriptive(probe string, values map[string]Text) Sample {
	return Sample{Probe: probe, Kind: KindDescriptive, Texts: values}
}

// Failed creates a failed sample
func Failed(probe string, kind Kind, reason Reason) Sample {
	return Sample{Probe: probe, Kind: kind, Reason: reason}
}

// Cycle identifies one pass over all probes
type Cycle struct {
	Number    uint64    `json:"number"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is an immutable view of the aggregator after a completed cycle.
// Consumers must not modify the maps or slices it holds.
type Snapshot struct {
	Cycle    Cycle              `json:"cycle"`
	Latest   map[string]Text    `json:"latest"`
	Series   map[string][]Point `json:"series"`
	Failures map[string]Reason  `json:"failures,omitempty"`
}

// LatestText returns the latest Descriptive value for key, or the unavailable marker
func (s *Snapshot) LatestText(key string) string {
	if s == nil {
		return Unavailable
	}
	return s.Latest[key].String()
}

// LastPoint returns the most recent point of a Series
func (s *Snapshot) LastPoint(key string) (Point, bool) {
	if s == nil {
		return Point{}, false
	}
	points := s.Series[key]
	if len(points) == 0 {
		return Point{}, false
	}
	return points[len(points)-1], true
}

// ============================================
// Remote Control Types
// ============================================

// CommandType represents allowed command types
type CommandType string

const (
	CmdSampleNow    CommandType = "SAMPLE_NOW"
	CmdReportStatus CommandType = "REPORT_STATUS"
)

// AllowedCommands is the security allowlist
var AllowedCommands = []CommandType{CmdSampleNow, CmdReportStatus}

// IsAllowed checks if a command type is in the allowlist
func (c CommandType) IsAllowed() bool {
	for _, allowed := range AllowedCommands {
		if c == allowed {
			return true
		}
	}
	return false
}

// ConnecttyCommand represents a command received on the control channel
type ConnecttyCommand struct {
	ID           string      `json:"id"`
	Type         CommandType `json:"type"`
	TargetNodeID string      `json:"targetNodeId"`
	Timestamp    int64       `json:"timestamp"`
	Issuer       string      `json:"issuer"`
}

// CommandStatus represents execution result status
type CommandStatus string

const (
	StatusSuccess    CommandStatus = "success"
	StatusFailed     CommandStatus = "failed"
	StatusNotAllowed CommandStatus = "not_allowed"
)

// CommandResult represents the result of command execution
type CommandResult struct {
	CommandID string         `json:"commandId"`
	Status    CommandStatus  `json:"status"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// NewSuccessResult creates a success result
func NewSuccessResult(commandID, message string) CommandResult {
	return CommandResult{
		CommandID: commandID,
		Status:    StatusSuccess,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewFailedResult creates a failed result
func NewFailedResult(commandID, message string) CommandResult {
	return CommandResult{
		CommandID: commandID,
		Status:    StatusFailed,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}
