package probes

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/types"
	"github.com/miekg/dns"
)

// Probe and metric keys
const (
	KeyLocalAddress  = "local_address"
	KeyLocalIP       = "local_ip"
	KeySubnetMask    = "subnet_mask"
	KeyGlobalAddress = "global_address"
	KeyGlobalIP      = "global_ip"
	KeyDNSServers    = "dns_servers"
)

// Defaults for the address probes
const (
	DefaultGlobalIPURL = "https://api.ipify.org"
	DefaultResolvConf  = "/etc/resolv.conf"
)

// LocalAddressProbe reports the host's primary IPv4 address and its netmask
type LocalAddressProbe struct {
	base
	src Sources
}

// NewLocalAddressProbe creates the local address probe
func NewLocalAddressProbe(src Sources, timeout time.Duration) *LocalAddressProbe {
	return &LocalAddressProbe{base: newBase(KeyLocalAddress, types.KindDescriptive, timeout), src: src}
}

type ifaceAddr struct {
	ip   net.IP
	mask net.IPMask
}

// Run prefers the address the hostname resolves to, falling back to the
// first non-loopback IPv4 address of an interface.
func (p *LocalAddressProbe) Run(ctx context.Context) types.Sample {
	ifaces, err := p.src.Interfaces(ctx)
	if err != nil {
		return p.fail(err)
	}

	var candidates []ifaceAddr
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			ip, ipnet, err := net.ParseCIDR(a.Addr)
			if err != nil || ip.To4() == nil || ip.IsLoopback() {
				continue
			}
			candidates = append(candidates, ifaceAddr{ip: ip, mask: ipnet.Mask})
		}
	}
	if len(candidates) == 0 {
		return p.fail(ErrNoData)
	}

	chosen := candidates[0]
	if resolved := p.hostAddrs(ctx); len(resolved) > 0 {
		for _, c := range candidates {
			if slices.Contains(resolved, c.ip.String()) {
				chosen = c
				break
			}
		}
	}

	return p.texts(map[string]types.Text{
		KeyLocalIP:    {chosen.ip.String()},
		KeySubnetMask: {net.IP(chosen.mask).String()},
	})
}

func (p *LocalAddressProbe) hostAddrs(ctx context.Context) []string {
	if p.src.Hostname == nil || p.src.LookupHost == nil {
		return nil
	}
	host, err := p.src.Hostname()
	if err != nil {
		return nil
	}
	addrs, err := p.src.LookupHost(ctx, host)
	if err != nil {
		return nil
	}
	return addrs
}

// GlobalAddressProbe asks an external service for the public address
type GlobalAddressProbe struct {
	base
	client *http.Client
	url    string
}

// NewGlobalAddressProbe creates the public address probe
func NewGlobalAddressProbe(client *http.Client, url string, timeout time.Duration) *GlobalAddressProbe {
	if client == nil {
		client = http.DefaultClient
	}
	if url == "" {
		url = DefaultGlobalIPURL
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &GlobalAddressProbe{
		base:   newBase(KeyGlobalAddress, types.KindDescriptive, timeout),
		client: client,
		url:    url,
	}
}

// Run performs the lookup
func (p *GlobalAddressProbe) Run(ctx context.Context) types.Sample {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return p.fail(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return p.fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.fail(fmt.Errorf("%w: status %d", ErrNoData, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return p.fail(err)
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return p.fail(fmt.Errorf("%w: %q is not an address", ErrParse, ip))
	}
	return p.texts(map[string]types.Text{KeyGlobalIP: {ip}})
}

// DNSServersProbe reads the configured nameservers
type DNSServersProbe struct {
	base
	path string
}

// NewDNSServersProbe creates the resolver configuration probe
func NewDNSServersProbe(path string, timeout time.Duration) *DNSServersProbe {
	if path == "" {
		path = DefaultResolvConf
	}
	return &DNSServersProbe{base: newBase(KeyDNSServers, types.KindDescriptive, timeout), path: path}
}

// Run parses the resolver configuration
func (p *DNSServersProbe) Run(ctx context.Context) types.Sample {
	if err := ctx.Err(); err != nil {
		return p.fail(err)
	}

	cfg, err := dns.ClientConfigFromFile(p.path)
	if err != nil {
		return p.fail(err)
	}
	return p.texts(map[string]types.Text{KeyDNSServers: types.Text(cfg.Servers)})
}

var (
	_ Probe = (*LocalAddressProbe)(nil)
	_ Probe = (*GlobalAddressProbe)(nil)
	_ Probe = (*DNSServersProbe)(nil)
)
