package socks5

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	txsocks5 "github.com/txthinking/socks5"
)

// maxDomainLen is the largest name a one-byte SOCKS5 length prefix can carry.
const maxDomainLen = 255

// Destination is a parsed CONNECT target.
type Destination struct {
	// Host is either a dotted IPv4 address or a domain name.
	Host string
	Port uint16

	addr netip.Addr
}

// ParseDestination parses "ip:port" or "host:port".
//
// IPv4 socket addresses are encoded as ATYP IPv4. IPv6 socket addresses and
// bare IPv6 literals fail with ErrUnsupportedAddressFamily. Anything else is
// split at the last ':' into a domain name and a port.
func ParseDestination(s string) (Destination, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		if !ap.Addr().Is4() {
			return Destination{}, fmt.Errorf("%w: %s", ErrUnsupportedAddressFamily, s)
		}
		return Destination{Host: ap.Addr().String(), Port: ap.Port(), addr: ap.Addr()}, nil
	}

	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return Destination{}, fmt.Errorf("%w: missing port in %q", ErrInvalidDestination, s)
	}
	host, portStr := s[:i], s[i+1:]

	if isIPv6Literal(host) {
		return Destination{}, fmt.Errorf("%w: %s", ErrUnsupportedAddressFamily, s)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Destination{}, fmt.Errorf("%w: invalid port in %q", ErrInvalidDestination, s)
	}
	if host == "" {
		return Destination{}, fmt.Errorf("%w: missing host in %q", ErrInvalidDestination, s)
	}
	if len(host) > maxDomainLen {
		return Destination{}, fmt.Errorf("%w: host name longer than %d bytes", ErrInvalidDestination, maxDomainLen)
	}

	return Destination{Host: host, Port: uint16(port)}, nil
}

func isIPv6Literal(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	a, err := netip.ParseAddr(host)
	return err == nil && !a.Is4()
}

// IsIPv4 reports whether d is sent as a binary IPv4 address.
func (d Destination) IsIPv4() bool {
	return d.addr.IsValid()
}

// WithAddr returns a copy of d addressed by the IPv4 address a, keeping the
// port. It is used when a domain name has been resolved locally.
func (d Destination) WithAddr(a netip.Addr) Destination {
	return Destination{Host: a.String(), Port: d.Port, addr: a}
}

func (d Destination) String() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// request builds the CONNECT request for d.
func (d Destination) request() *txsocks5.Request {
	port := []byte{byte(d.Port >> 8), byte(d.Port)}
	if d.IsIPv4() {
		ip := d.addr.As4()
		return txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPIPv4, ip[:], port)
	}
	// NewRequest prepends the length byte for domain names.
	return txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPDomain, []byte(d.Host), port)
}
