// Package probes provides the Probe contract and the network/host probes.
package probes

import (
	"context"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/types"
)

// Probe performs one measurement per cycle.
//
// Run must never panic or block past ctx for its own faults: every error is
// converted to a Failed sample with a Reason from the closed set. The sampler
// stamps the returned sample with the cycle timestamp and duration.
type Probe interface {
	Key() string
	Kind() types.Kind
	Timeout() time.Duration
	Run(ctx context.Context) types.Sample
}

// Default execution budgets
const (
	DefaultTimeout       = 2 * time.Second
	DefaultLookupTimeout = 5 * time.Second
)

// base carries the identity shared by every probe in this package
type base struct {
	key     string
	kind    types.Kind
	timeout time.Duration
}

func newBase(key string, kind types.Kind, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return base{key: key, kind: kind, timeout: timeout}
}

func (b base) Key() string            { return b.key }
func (b base) Kind() types.Kind       { return b.kind }
func (b base) Timeout() time.Duration { return b.timeout }

func (b base) fail(err error) types.Sample {
	return types.Failed(b.key, b.kind, Classify(err))
}

func (b base) scalars(values map[string]float64) types.Sample {
	return types.Scalar(b.key, values)
}

func (b base) texts(values map[string]types.Text) types.Sample {
	return types.Descriptive(b.key, values)
}

// FuncProbe adapts a function to the Probe interface
type FuncProbe struct {
	base
	fn func(ctx context.Context) types.Sample
}

// NewFunc creates a probe backed by fn
func NewFunc(key string, kind types.Kind, timeout time.Duration, fn func(ctx context.Context) types.Sample) *FuncProbe {
	return &FuncProbe{base: newBase(key, kind, timeout), fn: fn}
}

// Run calls the wrapped function
func (p *FuncProbe) Run(ctx context.Context) types.Sample {
	return p.fn(ctx)
}

var _ Probe = (*FuncProbe)(nil)
