package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds the TCP connect to the relay.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the SOCKS5 handshake once connected.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
}
