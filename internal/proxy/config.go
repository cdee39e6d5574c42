package proxy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/socksgate/internal/dialer"
)

type Config struct {
	// NegotiationTimeout bounds reading the client's request.
	NegotiationTimeout time.Duration
	// IdleTimeout closes a relay after this long without traffic in either
	// direction. Zero disables it.
	IdleTimeout time.Duration

	// MaxConns limits concurrently served connections. Zero is unlimited.
	MaxConns int

	MaxLineBytes   int
	MaxHeaderBytes int

	Dialer dialer.Dialer
	Logger zerolog.Logger
}
