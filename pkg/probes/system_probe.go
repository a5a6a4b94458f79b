package probes

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/types"
)

// Probe and metric keys
const (
	KeyInterfaces  = "interfaces"
	KeyTraffic     = "traffic"
	KeyBytesSent   = "bytes_sent"
	KeyBytesRecv   = "bytes_recv"
	KeyPacketsSent = "packets_sent"
	KeyPacketsRecv = "packets_recv"
)

// InterfacesProbe reports link state and speed per interface
type InterfacesProbe struct {
	base
	src Sources
}

// NewInterfacesProbe creates the interface status probe
func NewInterfacesProbe(src Sources, timeout time.Duration) *InterfacesProbe {
	return &InterfacesProbe{base: newBase(KeyInterfaces, types.KindDescriptive, timeout), src: src}
}

// Run collects interface state
func (p *InterfacesProbe) Run(ctx context.Context) types.Sample {
	ifaces, err := p.src.Interfaces(ctx)
	if err != nil {
		return p.fail(err)
	}
	if len(ifaces) == 0 {
		return p.fail(ErrNoData)
	}

	entries := make(types.Text, 0, len(ifaces))
	for _, iface := range ifaces {
		status := "Down"
		if slices.Contains(iface.Flags, "up") {
			status = "Up"
		}

		// Speed is best effort: loopback and virtual links have none
		speed := 0
		if p.src.LinkSpeed != nil {
			if s, err := p.src.LinkSpeed(iface.Name); err == nil {
				speed = s
			}
		}
		entries = append(entries, fmt.Sprintf("%s: %s (Speed: %d Mbps)", iface.Name, status, speed))
	}
	return p.texts(map[string]types.Text{KeyInterfaces: entries})
}

// TrafficProbe reports cumulative byte and packet counters summed over all NICs
type TrafficProbe struct {
	base
	src Sources
}

// NewTrafficProbe creates the traffic counter probe
func NewTrafficProbe(src Sources, timeout time.Duration) *TrafficProbe {
	return &TrafficProbe{base: newBase(KeyTraffic, types.KindScalar, timeout), src: src}
}

// Run reads the counters. Unavailable counters produce no points at all.
func (p *TrafficProbe) Run(ctx context.Context) types.Sample {
	counters, err := p.src.IOCounters(ctx)
	if err != nil {
		return p.fail(err)
	}
	if len(counters) == 0 {
		return p.fail(ErrNoData)
	}

	var sent, recv, pktSent, pktRecv uint64
	for _, c := range counters {
		sent += c.BytesSent
		recv += c.BytesRecv
		pktSent += c.PacketsSent
		pktRecv += c.PacketsRecv
	}

	return p.scalars(map[string]float64{
		KeyBytesSent:   float64(sent),
		KeyBytesRecv:   float64(recv),
		KeyPacketsSent: float64(pktSent),
		KeyPacketsRecv: float64(pktRecv),
	})
}

var (
	_ Probe = (*InterfacesProbe)(nil)
	_ Probe = (*TrafficProbe)(nil)
)
