package probes

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/types"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Probe and metric keys
const (
	KeyActivePorts       = "active_ports"
	KeyConnections       = "connections"
	KeyActiveConnections = "active_connections"
	KeyListeningSockets  = "listening_sockets"
)

const (
	statusEstablished = "ESTABLISHED"
	statusListen      = "LISTEN"
)

// ActivePortsProbe lists established local ports with the owning process name
type ActivePortsProbe struct {
	base
	src Sources
}

// NewActivePortsProbe creates the port ownership probe
func NewActivePortsProbe(src Sources, timeout time.Duration) *ActivePortsProbe {
	return &ActivePortsProbe{base: newBase(KeyActivePorts, types.KindDescriptive, timeout), src: src}
}

// Run enumerates connections. A process that vanished or cannot be inspected
// only degrades its own entry to N/A.
func (p *ActivePortsProbe) Run(ctx context.Context) types.Sample {
	conns, err := p.src.Connections(ctx, "all")
	if err != nil {
		return p.fail(err)
	}

	names := make(map[int32]string)
	entries := make(types.Text, 0, len(conns))
	for _, c := range conns {
		if c.Status != statusEstablished {
			continue
		}

		name, seen := names[c.Pid]
		if !seen {
			name = types.Unavailable
			if c.Pid > 0 {
				if n, err := p.src.ProcessName(ctx, c.Pid); err == nil && n != "" {
					name = n
				}
			}
			names[c.Pid] = name
		}
		entries = append(entries, fmt.Sprintf("%d: %s", c.Laddr.Port, name))
	}

	return p.texts(map[string]types.Text{KeyActivePorts: entries})
}

// ConnectionsProbe lists every socket with its endpoints and state
type ConnectionsProbe struct {
	base
	src Sources
}

// NewConnectionsProbe creates the connection listing probe
func NewConnectionsProbe(src Sources, timeout time.Duration) *ConnectionsProbe {
	return &ConnectionsProbe{base: newBase(KeyConnections, types.KindDescriptive, timeout), src: src}
}

// Run enumerates all connections
func (p *ConnectionsProbe) Run(ctx context.Context) types.Sample {
	conns, err := p.src.Connections(ctx, "all")
	if err != nil {
		return p.fail(err)
	}

	entries := make(types.Text, 0, len(conns))
	for _, c := range conns {
		entries = append(entries, fmt.Sprintf("%s -> %s [%s]", formatAddr(c.Laddr), formatAddr(c.Raddr), c.Status))
	}
	return p.texts(map[string]types.Text{KeyConnections: entries})
}

// ActiveConnectionsProbe counts established connections
type ActiveConnectionsProbe struct {
	base
	src Sources
}

// NewActiveConnectionsProbe creates the established connection counter
func NewActiveConnectionsProbe(src Sources, timeout time.Duration) *ActiveConnectionsProbe {
	return &ActiveConnectionsProbe{base: newBase(KeyActiveConnections, types.KindScalar, timeout), src: src}
}

// Run counts ESTABLISHED connections. An enumeration failure is a gap, not a zero.
func (p *ActiveConnectionsProbe) Run(ctx context.Context) types.Sample {
	conns, err := p.src.Connections(ctx, "all")
	if err != nil {
		return p.fail(err)
	}

	count := 0
	for _, c := range conns {
		if c.Status == statusEstablished {
			count++
		}
	}
	return p.scalars(map[string]float64{KeyActiveConnections: float64(count)})
}

// ListeningSocketsProbe lists inet sockets in LISTEN state
type ListeningSocketsProbe struct {
	base
	src Sources
}

// NewListeningSocketsProbe creates the listening socket probe
func NewListeningSocketsProbe(src Sources, timeout time.Duration) *ListeningSocketsProbe {
	return &ListeningSocketsProbe{base: newBase(KeyListeningSockets, types.KindDescriptive, timeout), src: src}
}

// Run enumerates listening inet sockets
func (p *ListeningSocketsProbe) Run(ctx context.Context) types.Sample {
	conns, err := p.src.Connections(ctx, "inet")
	if err != nil {
		return p.fail(err)
	}

	entries := make(types.Text, 0)
	for _, c := range conns {
		if c.Status != statusListen {
			continue
		}
		entries = append(entries, fmt.Sprintf("Socket %d: %s (LISTEN)", c.Fd, formatAddr(c.Laddr)))
	}
	return p.texts(map[string]types.Text{KeyListeningSockets: entries})
}

func formatAddr(a psnet.Addr) string {
	ip := a.IP
	if ip == "" {
		ip = types.Unavailable
	}
	port := types.Unavailable
	if a.IP != "" || a.Port != 0 {
		port = strconv.FormatUint(uint64(a.Port), 10)
	}
	return ip + ":" + port
}

var (
	_ Probe = (*ActivePortsProbe)(nil)
	_ Probe = (*ConnectionsProbe)(nil)
	_ Probe = (*ActiveConnectionsProbe)(nil)
	_ Probe = (*ListeningSocketsProbe)(nil)
)
