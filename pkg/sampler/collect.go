package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/types"
)

// InvariantError is a programmer error: a probe broke its contract or the
// store rejected a cycle. It is raised with panic and never recovered.
type InvariantError struct {
	Probe  string
	Detail string
}

func (e *InvariantError) Error() string {
	if e.Probe == "" {
		return "invariant violated: " + e.Detail
	}
	return fmt.Sprintf("invariant violated by probe %s: %s", e.Probe, e.Detail)
}

type outcome struct {
	sample   types.Sample
	panicked any
	took     time.Duration
}

// collect runs every probe in its own goroutine and joins them. Probes that
// overrun their budget are abandoned; their late results go to a buffered
// channel nobody reads and are garbage collected.
func (s *Sampler) collect(ctx context.Context, cycle types.Cycle) []types.Sample {
	ps := s.registry.Probes()
	outcomes := make([]outcome, len(ps))

	var wg sync.WaitGroup
	for i, p := range ps {
		wg.Add(1)
		go func(i int, p probes.Probe) {
			defer wg.Done()
			outcomes[i] = runProbe(ctx, p)
		}(i, p)
	}
	wg.Wait()

	samples := make([]types.Sample, len(ps))
	for i, p := range ps {
		o := outcomes[i]
		if o.panicked != nil {
			panic(&InvariantError{Probe: p.Key(), Detail: fmt.Sprintf("panic in Run: %v", o.panicked)})
		}
		if err := validate(p, o.sample); err != nil {
			panic(err)
		}

		sample := o.sample
		sample.Probe = p.Key()
		sample.Timestamp = cycle.Timestamp
		sample.Duration = o.took
		samples[i] = sample
	}
	return samples
}

func runProbe(ctx context.Context, p probes.Probe) outcome {
	pctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicked: r}
			}
		}()
		done <- outcome{sample: p.Run(pctx)}
	}()

	select {
	case o := <-done:
		o.took = time.Since(start)
		return o
	case <-pctx.Done():
		reason := types.ReasonTimeout
		if errors.Is(pctx.Err(), context.Canceled) {
			reason = types.ReasonCanceled
		}
		return outcome{
			sample: types.Failed(p.Key(), p.Kind(), reason),
			took:   time.Since(start),
		}
	}
}

// validate enforces the Sample contract against the probe's declaration
func validate(p probes.Probe, s types.Sample) error {
	fail := func(format string, args ...any) error {
		return &InvariantError{Probe: p.Key(), Detail: fmt.Sprintf(format, args...)}
	}

	if s.Probe != "" && s.Probe != p.Key() {
		return fail("sample labelled %q", s.Probe)
	}
	if s.Kind != p.Kind() {
		return fail("declared %s, returned %s", p.Kind(), s.Kind)
	}

	if !s.OK() {
		if !s.Reason.IsKnown() {
			return fail("unknown failure reason %q", s.Reason)
		}
		if len(s.Scalars) > 0 || len(s.Texts) > 0 {
			return fail("failed sample carries values")
		}
		return nil
	}

	switch s.Kind {
	case types.KindScalar:
		if len(s.Texts) > 0 {
			return fail("scalar sample carries text values")
		}
	case types.KindDescriptive:
		if len(s.Scalars) > 0 {
			return fail("descriptive sample carries numeric values")
		}
	}
	return nil
}
