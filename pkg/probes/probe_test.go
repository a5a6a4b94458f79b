package probes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/types"
	psnet "github.com/shirou/gopsutil/v3/net"
)

func fakeConnections() []psnet.ConnectionStat {
	return []psnet.ConnectionStat{
		{Fd: 3, Laddr: psnet.Addr{IP: "10.0.0.5", Port: 51000}, Raddr: psnet.Addr{IP: "93.184.216.34", Port: 443}, Status: "ESTABLISHED", Pid: 100},
		{Fd: 4, Laddr: psnet.Addr{IP: "10.0.0.5", Port: 51001}, Raddr: psnet.Addr{IP: "140.82.112.3", Port: 22}, Status: "ESTABLISHED", Pid: 200},
		{Fd: 5, Laddr: psnet.Addr{IP: "0.0.0.0", Port: 8080}, Status: "LISTEN", Pid: 100},
		{Fd: 6, Laddr: psnet.Addr{IP: "10.0.0.5", Port: 51002}, Raddr: psnet.Addr{IP: "1.1.1.1", Port: 53}, Status: "TIME_WAIT"},
	}
}

func fakeSources() Sources {
	return Sources{
		Connections: func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error) {
			return fakeConnections(), nil
		},
		Interfaces: func(ctx context.Context) (psnet.InterfaceStatList, error) {
			return psnet.InterfaceStatList{
				{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
				{Name: "eth0", Flags: []string{"up", "broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "fe80::1/64"}, {Addr: "10.0.0.5/24"}}},
				{Name: "wlan0", Flags: []string{"broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "192.168.1.20/16"}}},
			}, nil
		},
		IOCounters: func(ctx context.Context) ([]psnet.IOCountersStat, error) {
			return []psnet.IOCountersStat{{Name: "all", BytesSent: 1000, BytesRecv: 2000, PacketsSent: 10, PacketsRecv: 20}}, nil
		},
		ProcessName: func(ctx context.Context, pid int32) (string, error) {
			if pid == 100 {
				return "nginx", nil
			}
			return "", os.ErrPermission
		},
		LinkSpeed: func(iface string) (int, error) {
			if iface == "eth0" {
				return 1000, nil
			}
			return 0, os.ErrNotExist
		},
		Hostname:   func() (string, error) { return "box", nil },
		LookupHost: func(ctx context.Context, host string) ([]string, error) { return []string{"192.168.1.20"}, nil },
	}
}

func failingSources(err error) Sources {
	src := fakeSources()
	src.Connections = func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error) {
		return nil, err
	}
	src.Interfaces = func(ctx context.Context) (psnet.InterfaceStatList, error) {
		return nil, err
	}
	src.IOCounters = func(ctx context.Context) ([]psnet.IOCountersStat, error) {
		return nil, err
	}
	return src
}

func TestActivePortsProbe(t *testing.T) {
	p := NewActivePortsProbe(fakeSources(), 0)
	s := p.Run(context.Background())

	if !s.OK() {
		t.Fatalf("Expected ok sample, got reason %s", s.Reason)
	}
	got := s.Texts[KeyActivePorts]
	expected := types.Text{"51000: nginx", "51001: N/A"}
	if len(got) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, expected[i], got[i])
		}
	}
}

func TestConnectionsProbe(t *testing.T) {
	s := NewConnectionsProbe(fakeSources(), 0).Run(context.Background())
	got := s.Texts[KeyConnections]

	if len(got) != 4 {
		t.Fatalf("Expected 4 connections, got %d", len(got))
	}
	if got[0] != "10.0.0.5:51000 -> 93.184.216.34:443 [ESTABLISHED]" {
		t.Errorf("Unexpected first entry %q", got[0])
	}
	if got[2] != "0.0.0.0:8080 -> N/A:N/A [LISTEN]" {
		t.Errorf("Expected N/A remote for listener, got %q", got[2])
	}
}

func TestActiveConnectionsProbe(t *testing.T) {
	s := NewActiveConnectionsProbe(fakeSources(), 0).Run(context.Background())
	if s.Kind != types.KindScalar {
		t.Errorf("Expected scalar kind, got %s", s.Kind)
	}
	if v := s.Scalars[KeyActiveConnections]; v != 2 {
		t.Errorf("Expected 2 established connections, got %v", v)
	}
}

func TestListeningSocketsProbe(t *testing.T) {
	s := NewListeningSocketsProbe(fakeSources(), 0).Run(context.Background())
	got := s.Texts[KeyListeningSockets]
	if len(got) != 1 || got[0] != "Socket 5: 0.0.0.0:8080 (LISTEN)" {
		t.Errorf("Unexpected listening sockets %v", got)
	}
}

func TestInterfacesProbe(t *testing.T) {
	s := NewInterfacesProbe(fakeSources(), 0).Run(context.Background())
	got := s.Texts[KeyInterfaces]

	expected := []string{
		"lo: Up (Speed: 0 Mbps)",
		"eth0: Up (Speed: 1000 Mbps)",
		"wlan0: Down (Speed: 0 Mbps)",
	}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d entries, got %v", len(expected), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, expected[i], got[i])
		}
	}
}

func TestTrafficProbe(t *testing.T) {
	s := NewTrafficProbe(fakeSources(), 0).Run(context.Background())

	expected := map[string]float64{
		KeyBytesSent:   1000,
		KeyBytesRecv:   2000,
		KeyPacketsSent: 10,
		KeyPacketsRecv: 20,
	}
	for key, v := range expected {
		if s.Scalars[key] != v {
			t.Errorf("%s: expected %v, got %v", key, v, s.Scalars[key])
		}
	}
}

func TestLocalAddressProbe(t *testing.T) {
	t.Run("prefers hostname address", func(t *testing.T) {
		s := NewLocalAddressProbe(fakeSources(), 0).Run(context.Background())
		if got := s.Texts[KeyLocalIP].String(); got != "192.168.1.20" {
			t.Errorf("Expected 192.168.1.20, got %s", got)
		}
		if got := s.Texts[KeySubnetMask].String(); got != "255.255.0.0" {
			t.Errorf("Expected 255.255.0.0, got %s", got)
		}
	})

	t.Run("falls back to first interface", func(t *testing.T) {
		src := fakeSources()
		src.LookupHost = func(ctx context.Context, host string) ([]string, error) {
			return nil, errors.New("no such host")
		}
		s := NewLocalAddressProbe(src, 0).Run(context.Background())
		if got := s.Texts[KeyLocalIP].String(); got != "10.0.0.5" {
			t.Errorf("Expected 10.0.0.5, got %s", got)
		}
		if got := s.Texts[KeySubnetMask].String(); got != "255.255.255.0" {
			t.Errorf("Expected 255.255.255.0, got %s", got)
		}
	})

	t.Run("no usable address", func(t *testing.T) {
		src := fakeSources()
		src.Interfaces = func(ctx context.Context) (psnet.InterfaceStatList, error) {
			return psnet.InterfaceStatList{{Name: "lo", Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}}}, nil
		}
		s := NewLocalAddressProbe(src, 0).Run(context.Background())
		if s.Reason != types.ReasonNotAvailable {
			t.Errorf("Expected not_available, got %q", s.Reason)
		}
	})
}

func TestProbesFailWithReason(t *testing.T) {
	src := failingSources(fmt.Errorf("open /proc/net/tcp: %w", os.ErrPermission))

	tests := []struct {
		name  string
		probe Probe
	}{
		{"active ports", NewActivePortsProbe(src, 0)},
		{"connections", NewConnectionsProbe(src, 0)},
		{"active connections", NewActiveConnectionsProbe(src, 0)},
		{"listening sockets", NewListeningSocketsProbe(src, 0)},
		{"interfaces", NewInterfacesProbe(src, 0)},
		{"traffic", NewTrafficProbe(src, 0)},
		{"local address", NewLocalAddressProbe(src, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.probe.Run(context.Background())
			if s.OK() {
				t.Fatal("Expected failed sample")
			}
			if s.Reason != types.ReasonPermissionDenied {
				t.Errorf("Expected permission_denied, got %s", s.Reason)
			}
			if s.Kind != tt.probe.Kind() {
				t.Errorf("Expected kind %s, got %s", tt.probe.Kind(), s.Kind)
			}
			if s.Scalars != nil || s.Texts != nil {
				t.Error("Expected no values on failed sample")
			}
		})
	}
}

func TestGlobalAddressProbe(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected types.Reason
	}{
		{"ok", http.StatusOK, "203.0.113.7\n", ""},
		{"bad status", http.StatusServiceUnavailable, "", types.ReasonNotAvailable},
		{"garbage body", http.StatusOK, "<html>", types.ReasonParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewGlobalAddressProbe(srv.Client(), srv.URL, time.Second).Run(context.Background())
			if s.Reason != tt.expected {
				t.Fatalf("Expected reason %q, got %q", tt.expected, s.Reason)
			}
			if tt.expected == "" && s.Texts[KeyGlobalIP].String() != "203.0.113.7" {
				t.Errorf("Expected 203.0.113.7, got %v", s.Texts[KeyGlobalIP])
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		s := NewGlobalAddressProbe(nil, url, time.Second).Run(context.Background())
		if s.Reason != types.ReasonNetworkUnreachable {
			t.Errorf("Expected network_unreachable, got %q", s.Reason)
		}
	})
}

func TestDNSServersProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	content := strings.Join([]string{
		"# generated",
		"search example.internal",
		"nameserver 1.1.1.1",
		"nameserver 8.8.8.8",
		"options ndots:2",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewDNSServersProbe(path, 0).Run(context.Background())
	if got := s.Texts[KeyDNSServers].String(); got != "1.1.1.1, 8.8.8.8" {
		t.Errorf("Expected both nameservers, got %s", got)
	}

	missing := NewDNSServersProbe(filepath.Join(dir, "missing"), 0).Run(context.Background())
	if missing.Reason != types.ReasonNotAvailable {
		t.Errorf("Expected not_available for missing file, got %q", missing.Reason)
	}
}

func TestBuild(t *testing.T) {
	all, err := Build(nil, Settings{Sources: fakeSources()})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(Names) {
		t.Errorf("Expected %d probes, got %d", len(Names), len(all))
	}
	for i, p := range all {
		if p.Key() != Names[i] {
			t.Errorf("Probe %d: expected %s, got %s", i, Names[i], p.Key())
		}
		if p.Timeout() <= 0 {
			t.Errorf("Probe %s has no timeout", p.Key())
		}
	}

	if _, err := Build([]string{"traffic", "bogus"}, Settings{}); err == nil {
		t.Error("Expected error for unknown probe")
	}
}
