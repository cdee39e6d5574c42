package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// ErrRelayUnreachable is returned when the TCP connection to the relay itself
// cannot be established.
var ErrRelayUnreachable = errors.New("relay unreachable")

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver resolves domain names locally so the relay receives an IPv4
// address instead of a name.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (netip.Addr, error)
}

// New validates the relay address and constructs a SOCKS5 dialer for it.
// A nil resolver leaves name resolution to the relay.
func New(cfg Config, relay string, resolver Resolver) (*SOCKS5Dialer, error) {
	host, port, err := net.SplitHostPort(relay)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address: %w", err)
	}
	if host == "" {
		return nil, errors.New("invalid relay address: missing host")
	}
	if n, err := strconv.ParseUint(port, 10, 16); err != nil || n == 0 {
		return nil, fmt.Errorf("invalid relay address: bad port %q", port)
	}

	return NewSOCKS5Dialer(cfg, relay, resolver), nil
}
