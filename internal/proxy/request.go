package proxy

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	defaultTunnelPort = "443"
	defaultPlainPort  = "80"

	methodConnect = "CONNECT"
)

// ErrMalformedRequest is returned when the request line does not have the
// shape of a proxy request.
var ErrMalformedRequest = errors.New("malformed proxy request")

type Kind int

const (
	// KindTunnel is a CONNECT request; the stream after the header block is
	// opaque.
	KindTunnel Kind = iota
	// KindPlain is any other method with an absolute http:// URI.
	KindPlain
)

func (k Kind) String() string {
	switch k {
	case KindTunnel:
		return "tunnel"
	case KindPlain:
		return "plain"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Request is what the proxy learns from the start of a client stream.
type Request struct {
	Kind   Kind
	Method string
	// Target is host:port with the default port for Kind applied.
	Target string

	// noPath is set when the absolute URI had no path at all, so the
	// request line continues directly with " HTTP/1.1".
	noPath bool
}

// ReadRequest parses the request from lr.
//
// For CONNECT it consumes the entire header block, so lr is positioned at
// the first tunneled byte. For plain requests it stops right after the host
// part of the URI; the rest of the path, the protocol version and the headers
// remain in lr and are forwarded verbatim after Preamble.
func ReadRequest(lr *LineReader, maxHeaderBytes int) (*Request, error) {
	method, err := lr.ReadUntil(' ')
	if err != nil {
		return nil, fmt.Errorf("read method: %w", err)
	}
	if method == "" {
		return nil, fmt.Errorf("%w: empty method", ErrMalformedRequest)
	}

	if method == methodConnect {
		return readTunnel(lr, maxHeaderBytes)
	}
	return readPlain(lr, method)
}

func readTunnel(lr *LineReader, maxHeaderBytes int) (*Request, error) {
	target, err := lr.ReadUntil(' ')
	if err != nil {
		return nil, fmt.Errorf("read connect target: %w", err)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: empty connect target", ErrMalformedRequest)
	}
	if err := lr.DiscardHeaders(maxHeaderBytes); err != nil {
		return nil, fmt.Errorf("discard connect headers: %w", err)
	}

	return &Request{
		Kind:   KindTunnel,
		Method: methodConnect,
		Target: withDefaultPort(target, defaultTunnelPort),
	}, nil
}

func readPlain(lr *LineReader, method string) (*Request, error) {
	// Drop the scheme ("http:") and the "//" after it.
	if _, err := lr.ReadUntil('/'); err != nil {
		return nil, fmt.Errorf("read scheme: %w", err)
	}
	c, err := lr.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read scheme: %w", err)
	}
	if c != '/' {
		return nil, fmt.Errorf("%w: expected absolute URI", ErrMalformedRequest)
	}

	target, delim, err := lr.ReadUntilAny("/ ")
	if err != nil {
		return nil, fmt.Errorf("read host: %w", err)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: empty host", ErrMalformedRequest)
	}

	return &Request{
		Kind:   KindPlain,
		Method: method,
		Target: withDefaultPort(target, defaultPlainPort),
		noPath: delim == ' ',
	}, nil
}

// Preamble is what must be written upstream before the rest of the client
// stream to rebuild an origin-form request line ("GET /").
func (r *Request) Preamble() []byte {
	if r.noPath {
		return []byte(r.Method + " / ")
	}
	return []byte(r.Method + " /")
}

// URL is the destination in the form used for logging.
func (r *Request) URL() string {
	if r.Kind == KindTunnel {
		return "https://" + r.Target
	}
	return "http://" + r.Target
}

// withDefaultPort appends port when target has none.
func withDefaultPort(target, port string) string {
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	host := target
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return net.JoinHostPort(host, port)
}
