package probes

import (
	"fmt"
	"net/http"
	"time"
)

// Settings configures the introspection probes built by Build
type Settings struct {
	Timeout       time.Duration // budget for local introspection
	LookupTimeout time.Duration // budget for the external address lookup
	GlobalIPURL   string
	ResolvConf    string
	HTTPClient    *http.Client
	Sources       Sources
}

// Names lists the introspection probes in display order
var Names = []string{
	KeyLocalAddress,
	KeyGlobalAddress,
	KeyDNSServers,
	KeyActivePorts,
	KeyActiveConnections,
	KeyConnections,
	KeyInterfaces,
	KeyListeningSockets,
	KeyTraffic,
}

// Build creates the named probes in the order given. An empty list builds all of them.
func Build(names []string, s Settings) ([]Probe, error) {
	if len(names) == 0 {
		names = Names
	}
	if s.Sources.Connections == nil {
		s.Sources = DefaultSources()
	}

	out := make([]Probe, 0, len(names))
	for _, name := range names {
		var p Probe
		switch name {
		case KeyLocalAddress:
			p = NewLocalAddressProbe(s.Sources, s.Timeout)
		case KeyGlobalAddress:
			p = NewGlobalAddressProbe(s.HTTPClient, s.GlobalIPURL, s.LookupTimeout)
		case KeyDNSServers:
			p = NewDNSServersProbe(s.ResolvConf, s.Timeout)
		case KeyActivePorts:
			p = NewActivePortsProbe(s.Sources, s.Timeout)
		case KeyActiveConnections:
			p = NewActiveConnectionsProbe(s.Sources, s.Timeout)
		case KeyConnections:
			p = NewConnectionsProbe(s.Sources, s.Timeout)
		case KeyInterfaces:
			p = NewInterfacesProbe(s.Sources, s.Timeout)
		case KeyListeningSockets:
			p = NewListeningSocketsProbe(s.Sources, s.Timeout)
		case KeyTraffic:
			p = NewTrafficProbe(s.Sources, s.Timeout)
		default:
			return nil, fmt.Errorf("unknown probe %q", name)
		}
		out = append(out, p)
	}
	return out, nil
}
