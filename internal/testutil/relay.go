package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/txthinking/socks5"
)

// RelayRequest records one CONNECT request seen by a SOCKS5Relay.
type RelayRequest struct {
	Atyp    byte
	Address string
}

// SOCKS5Relay is a loopback SOCKS5 server for tests. It negotiates no-auth,
// answers CONNECT and pipes bytes to whatever Dial returns.
type SOCKS5Relay struct {
	net.Listener

	// Method is the negotiation reply; defaults to socks5.MethodNone.
	Method byte
	// Rep is the CONNECT reply code; defaults to socks5.RepSuccess.
	Rep byte
	// Dial opens the onward connection. Defaults to dialing the requested
	// address directly.
	Dial func(ctx context.Context, address string) (net.Conn, error)

	mu       sync.Mutex
	accepted int
	requests []RelayRequest
	wg       sync.WaitGroup
	ctx      context.Context
}

// NewSOCKS5Relay returns an unstarted relay listening on loopback. Set the
// exported fields, then call Start.
func NewSOCKS5Relay(t *testing.T, ctx context.Context) *SOCKS5Relay {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	r := &SOCKS5Relay{
		Listener: ln,
		Method:   socks5.MethodNone,
		Rep:      socks5.RepSuccess,
		ctx:      ctx,
	}
	t.Cleanup(r.Close)
	return r
}

// StartSOCKS5Relay starts a relay with default behavior.
func StartSOCKS5Relay(t *testing.T, ctx context.Context) *SOCKS5Relay {
	t.Helper()

	r := NewSOCKS5Relay(t, ctx)
	r.Start()
	return r
}

func (r *SOCKS5Relay) Start() {
	if r.Dial == nil {
		r.Dial = func(ctx context.Context, address string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "tcp", address)
		}
	}

	r.wg.Go(func() {
		for {
			c, err := r.Accept()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.accepted++
			r.mu.Unlock()

			r.wg.Go(func() {
				defer c.Close()
				stop := context.AfterFunc(r.ctx, func() { _ = c.Close() })
				defer stop()
				r.serve(c)
			})
		}
	})
}

// Close stops accepting and waits for active sessions to end.
func (r *SOCKS5Relay) Close() {
	_ = r.Listener.Close()
	r.wg.Wait()
}

// Accepted returns how many TCP connections the relay has accepted.
func (r *SOCKS5Relay) Accepted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

// Requests returns the CONNECT requests received so far.
func (r *SOCKS5Relay) Requests() []RelayRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RelayRequest(nil), r.requests...)
}

func (r *SOCKS5Relay) serve(c net.Conn) {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return
	}
	if _, err := socks5.NewNegotiationReply(r.Method).WriteTo(c); err != nil {
		return
	}
	if r.Method != socks5.MethodNone {
		return
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.requests = append(r.requests, RelayRequest{Atyp: req.Atyp, Address: req.Address()})
	r.mu.Unlock()

	if req.Cmd != socks5.CmdConnect {
		_, _ = socks5.NewReply(socks5.RepCommandNotSupported, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return
	}
	if r.Rep != socks5.RepSuccess {
		_, _ = socks5.NewReply(r.Rep, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return
	}

	dst, err := r.Dial(r.ctx, req.Address())
	if err != nil {
		_, _ = socks5.NewReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return
	}
	defer dst.Close()

	if _, err := socks5.NewReply(socks5.RepSuccess, socks5.ATYPIPv4, []byte{127, 0, 0, 1}, []byte{0x04, 0x38}).WriteTo(c); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	_ = c.Close()
	<-done
}
