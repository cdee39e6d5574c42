// Package resolver resolves destination host names to IPv4 addresses with a
// plain DNS query, so the SOCKS5 relay can be handed an address instead of a
// name.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
)

// ErrNoAddress is returned when the server answers without any A record.
var ErrNoAddress = errors.New("no ipv4 address")

type Resolver struct {
	server string
	client *dns.Client
	ttl    time.Duration
	cache  *cache.Cache
}

// New returns a Resolver querying server ("host" or "host:port", port 53 by
// default). Answers are cached for at most ttl; ttl <= 0 disables caching.
func New(server string, timeout, ttl time.Duration) *Resolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	r := &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
		ttl:    ttl,
	}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// LookupIPv4 returns the first A record for host.
func (r *Resolver) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(host); ok {
			return v.(netip.Addr), nil
		}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("dns exchange with %s: %w", r.server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("%w: %s: %s", ErrNoAddress, host, dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.A.To4())
		if !ok {
			continue
		}
		if r.cache != nil {
			r.cache.Set(host, addr, r.expiry(a.Hdr.Ttl))
		}
		return addr, nil
	}

	return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoAddress, host)
}

// expiry caps the record TTL at the configured cache TTL.
func (r *Resolver) expiry(recordTTL uint32) time.Duration {
	d := time.Duration(recordTTL) * time.Second
	if d <= 0 || d > r.ttl {
		return r.ttl
	}
	return d
}
