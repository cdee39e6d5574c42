package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/die-net/socksgate/internal/socks5"
)

// aLongTimeAgo is a past deadline used to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// SOCKS5Dialer dials outbound TCP connections through a SOCKS5 relay using
// the no-auth method and the CONNECT command.
type SOCKS5Dialer struct {
	cfg       Config
	relayAddr string
	direct    Dialer
	resolver  Resolver
}

func NewSOCKS5Dialer(cfg Config, relayAddr string, resolver Resolver) *SOCKS5Dialer {
	return &SOCKS5Dialer{
		cfg:       cfg,
		relayAddr: relayAddr,
		direct:    NewDirectDialer(cfg),
		resolver:  resolver,
	}
}

// RelayAddr returns the relay host:port.
func (f *SOCKS5Dialer) RelayAddr() string {
	return f.relayAddr
}

// DialContext connects to address via the relay.
//
// The destination is parsed before the relay is dialed, so unsupported or
// malformed destinations never reach the relay. If NegotiationTimeout is set,
// a deadline is applied during the handshake and cleared before returning.
func (f *SOCKS5Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("socks5 relay dial %s %s: unsupported network", network, address)
	}

	dst, err := socks5.ParseDestination(address)
	if err != nil {
		return nil, err
	}

	if f.resolver != nil && !dst.IsIPv4() {
		addr, err := f.resolver.LookupIPv4(ctx, dst.Host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", dst.Host, err)
		}
		dst = dst.WithAddr(addr)
	}

	c, err := f.direct.DialContext(ctx, "tcp", f.relayAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRelayUnreachable, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(aLongTimeAgo)
	})

	err = socks5.Connect(c, dst)
	if !stop() || err != nil {
		_ = c.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("socks5 relay %s connect %s: %w", f.relayAddr, dst, err)
	}

	_ = c.SetDeadline(time.Time{})
	return c, nil
}
