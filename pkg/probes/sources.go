package probes

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Sources are the OS queries the probes are built on. Tests swap them for fakes.
type Sources struct {
	Connections func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
	Interfaces  func(ctx context.Context) (psnet.InterfaceStatList, error)
	IOCounters  func(ctx context.Context) ([]psnet.IOCountersStat, error)
	ProcessName func(ctx context.Context, pid int32) (string, error)
	LinkSpeed   func(iface string) (int, error)
	Hostname    func() (string, error)
	LookupHost  func(ctx context.Context, host string) ([]string, error)
}

// DefaultSources returns sources backed by gopsutil and the host OS
func DefaultSources() Sources {
	return Sources{
		Connections: psnet.ConnectionsWithContext,
		Interfaces:  psnet.InterfacesWithContext,
		IOCounters: func(ctx context.Context) ([]psnet.IOCountersStat, error) {
			return psnet.IOCountersWithContext(ctx, false)
		},
		ProcessName: processName,
		LinkSpeed:   sysfsLinkSpeed,
		Hostname:    os.Hostname,
		LookupHost:  net.DefaultResolver.LookupHost,
	}
}

func processName(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

// sysClassNet is where Linux exposes per-interface link attributes
var sysClassNet = "/sys/class/net"

// sysfsLinkSpeed reads the negotiated link speed in Mbps.
// Virtual and down interfaces report -1 or fail the read; both map to 0.
func sysfsLinkSpeed(iface string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(sysClassNet, iface, "speed"))
	if err != nil {
		return 0, err
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, err
	}
	if speed < 0 {
		speed = 0
	}
	return speed, nil
}
