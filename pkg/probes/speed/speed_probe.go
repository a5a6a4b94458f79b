// Package speed provides the throughput probe backed by a speedtest.net measurement.
package speed

import (
	"context"
	"errors"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/showwin/speedtest-go/speedtest"
)

// Probe and metric keys
const (
	Key             = "throughput"
	KeyDownloadMbps = "download_mbps"
	KeyUploadMbps   = "upload_mbps"
	KeyPingMs       = "ping_ms"
)

// DefaultTimeout bounds a full ping/download/upload run
const DefaultTimeout = 45 * time.Second

var errNoServer = errors.New("no speedtest server available")

// Result is one measurement
type Result struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
}

// Runner performs one measurement
type Runner func(ctx context.Context) (Result, error)

// Probe measures download/upload throughput and latency. It consumes real
// bandwidth and takes seconds, so it gets its own, much larger budget.
type Probe struct {
	run     Runner
	timeout time.Duration
}

// New creates the throughput probe. A nil runner uses speedtest.net.
func New(run Runner, timeout time.Duration) *Probe {
	if run == nil {
		run = SpeedtestRunner
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Probe{run: run, timeout: timeout}
}

// Key returns the probe key
func (p *Probe) Key() string { return Key }

// Kind returns KindScalar
func (p *Probe) Kind() types.Kind { return types.KindScalar }

// Timeout returns the execution budget
func (p *Probe) Timeout() time.Duration { return p.timeout }

// Run performs the measurement. Any failure, including a zero rate in either
// direction, yields a Failed sample so that no placeholder point reaches the series.
func (p *Probe) Run(ctx context.Context) types.Sample {
	res, err := p.run(ctx)
	if err != nil {
		return types.Failed(Key, types.KindScalar, probes.Classify(err))
	}
	if res.DownloadMbps <= 0 || res.UploadMbps <= 0 {
		return types.Failed(Key, types.KindScalar, types.ReasonNotAvailable)
	}

	return types.Scalar(Key, map[string]float64{
		KeyDownloadMbps: res.DownloadMbps,
		KeyUploadMbps:   res.UploadMbps,
		KeyPingMs:       res.PingMs,
	})
}

// SpeedtestRunner measures against the closest speedtest.net server
func SpeedtestRunner(ctx context.Context) (Result, error) {
	client := speedtest.New()

	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return Result{}, err
	}
	targets, err := servers.FindServer([]int{})
	if err != nil {
		return Result{}, err
	}
	if len(targets) == 0 {
		return Result{}, errNoServer
	}

	s := targets[0]
	if err := s.PingTestContext(ctx, nil); err != nil {
		return Result{}, err
	}
	if err := s.DownloadTestContext(ctx); err != nil {
		return Result{}, err
	}
	if err := s.UploadTestContext(ctx); err != nil {
		return Result{}, err
	}

	return Result{
		DownloadMbps: s.DLSpeed.Mbps(),
		UploadMbps:   s.ULSpeed.Mbps(),
		PingMs:       float64(s.Latency) / float64(time.Millisecond),
	}, nil
}

var _ probes.Probe = (*Probe)(nil)
