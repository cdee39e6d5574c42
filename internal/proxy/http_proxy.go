package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/die-net/socksgate/internal/dialer"
)

// ErrServerClosed is returned by Serve once the server context is done.
var ErrServerClosed = errors.New("proxy: server closed")

const connectEstablished = "HTTP/1.1 200 OK\r\n\r\n"

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// HTTPProxyServer accepts HTTP proxy connections and relays each one through
// the configured dialer.
//
// It supports:
// - CONNECT tunneling (200 reply, then opaque bidirectional copy)
// - plain requests with an absolute http:// URI (request line rewritten to
// origin form, then bidirectional copy)
//
// Each client connection maps to exactly one upstream connection; there is no
// keep-alive reuse.
type HTTPProxyServer struct {
	ctx    context.Context
	cfg    Config
	dialer dialer.Dialer
	log    zerolog.Logger
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// NewHTTPProxyServer constructs an HTTP proxy server. Canceling ctx stops
// Serve and closes every active connection.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &HTTPProxyServer{ctx: ctx, cfg: cfg, dialer: cfg.Dialer, log: cfg.Logger}
	if cfg.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConns))
	}
	return s
}

// Serve accepts connections on ln until ln is closed or the server context is
// done. Other accept errors are logged and retried with backoff. It waits for
// active connections to finish before returning. The caller is expected to
// close ln when the context is canceled.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	defer s.wg.Wait()

	var delay time.Duration
	for {
		if s.sem != nil {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return ErrServerClosed
			}
		}

		c, err := ln.Accept()
		if err != nil {
			s.release()
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			// Same backoff as net/http.Server for errors like EMFILE.
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.log.Warn().Err(err).Dur("retry", delay).Msg("accept failed")
			if !s.sleep(delay) {
				return ErrServerClosed
			}
			continue
		}
		delay = 0

		s.wg.Go(func() {
			defer s.release()
			s.handle(c)
		})
	}
}

// sleep waits for d and reports false if the server context ended first.
func (s *HTTPProxyServer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *HTTPProxyServer) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *HTTPProxyServer) handle(conn net.Conn) {
	logger := s.log.With().
		Str("conn", uuid.NewString()).
		Str("client", conn.RemoteAddr().String()).
		Logger()

	if err := s.serveConn(conn, logger); err != nil {
		logger.Warn().Err(err).Msg("connection failed")
	}
}

func (s *HTTPProxyServer) serveConn(conn net.Conn, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Owns conn until the relay takes over.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	lr := NewLineReader(conn, s.cfg.MaxLineBytes)
	req, err := ReadRequest(lr, s.cfg.MaxHeaderBytes)
	if err != nil {
		if errors.Is(err, ErrMalformedRequest) || errors.Is(err, ErrLineTooLong) || errors.Is(err, ErrHeaderTooLarge) {
			_ = writeError(conn, http.StatusBadRequest, err)
		}
		return fmt.Errorf("read request: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger = logger.With().Str("dst", req.URL()).Logger()
	logger.Info().Str("method", req.Method).Msg("proxy request")

	up, err := s.dialer.DialContext(ctx, "tcp", req.Target)
	if err != nil {
		_ = writeError(conn, http.StatusBadGateway, err)
		return fmt.Errorf("upstream: %w", err)
	}

	switch req.Kind {
	case KindTunnel:
		_, err = io.WriteString(conn, connectEstablished)
	case KindPlain:
		_, err = up.Write(req.Preamble())
	}
	if err != nil {
		_ = up.Close()
		return fmt.Errorf("prime %s: %w", req.Kind, err)
	}

	client := &bufferedConn{Conn: conn, r: lr}
	sent, received, err := CopyBidirectional(ctx, client, up, s.cfg.IdleTimeout)
	logger.Debug().Int64("sent", sent).Int64("received", received).Msg("relay closed")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// bufferedConn reads through the LineReader so bytes buffered during parsing
// are relayed before anything else from the client.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// writeError simulates http.Error() on the raw client connection.
func writeError(w io.Writer, code int, err error) error {
	_, werr := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
	return werr
}
