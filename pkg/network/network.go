// Package network builds the HTTP client every remote call of an archive run goes through.
package network

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Options configure NewClient.
type Options struct {
	// Timeout bounds each request attempt, including reading the body.
	Timeout time.Duration
	// BindAddresses is a comma-separated list of local IPs or interface names. Outgoing
	// connections cycle through them. Empty uses the system default.
	BindAddresses string
}

// NewClient returns an HTTP client honouring proxy settings from the environment.
func NewClient(opts Options) (*http.Client, error) {
	if opts.Timeout < 0 {
		return nil, errors.Errorf("invalid request timeout %s", opts.Timeout)
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(opts.BindAddresses) != "" {
		pool, err := newAddressPool(opts.BindAddresses)
		if err != nil {
			return nil, err
		}
		transport.DialContext = pool.DialContext
	}
	return &http.Client{Transport: transport, Timeout: opts.Timeout}, nil
}

// addressPool hands out local addresses round-robin.
type addressPool struct {
	mu    sync.Mutex
	addrs []*net.TCPAddr
	next  int
}

func newAddressPool(bindAddresses string) (*addressPool, error) {
	pool := &addressPool{}
	for _, part := range strings.Split(bindAddresses, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := resolveBindAddr(part)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve bind address '%s'", part)
		}
		pool.addrs = append(pool.addrs, addr)
	}
	if len(pool.addrs) == 0 {
		return nil, errors.Errorf("no usable addresses could be resolved from '%s'", bindAddresses)
	}
	return pool, nil
}

// Next returns the address for the next connection.
func (p *addressPool) Next() *net.TCPAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.addrs[p.next]
	p.next = (p.next + 1) % len(p.addrs)
	return addr
}

// DialContext dials from the next local address of the pool.
func (p *addressPool) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		LocalAddr: p.Next(),
	}
	return dialer.DialContext(ctx, network, addr)
}

// resolveBindAddr takes a string that can be an IP address or an interface name
// and returns a resolvable *net.TCPAddr.
func resolveBindAddr(addrOrInterface string) (*net.TCPAddr, error) {
	if ip := net.ParseIP(addrOrInterface); ip != nil {
		return &net.TCPAddr{IP: ip}, nil
	}

	iface, err := net.InterfaceByName(addrOrInterface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find network interface '%s'", addrOrInterface)
	}
	addrs, err := iface.Addrs()
	if err != nil || len(addrs) == 0 {
		return nil, errors.Errorf("interface '%s' has no usable addresses", addrOrInterface)
	}

	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			return &net.TCPAddr{IP: ip}, nil
		}
	}
	return nil, errors.Errorf("no usable IPv4 address found for interface '%s'", addrOrInterface)
}
