package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenConfig controls how the proxy's listening socket is set up.
type ListenConfig struct {
	KeepAlive net.KeepAliveConfig
	// ReuseAddr sets SO_REUSEADDR before binding.
	ReuseAddr bool
}

// ListenTCP listens on the given network/address and returns a net.Listener
// that applies cfg.KeepAlive to accepted TCP connections.
func ListenTCP(ctx context.Context, network, addr string, cfg ListenConfig) (net.Listener, error) {
	lc := net.ListenConfig{}
	if cfg.ReuseAddr {
		lc.Control = reuseAddrControl
	}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	tc, ok := conn.(*net.TCPConn)
	if ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}
