package socks5

import (
	"errors"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrRelayProtocol means the relay did not accept the no-auth method.
	ErrRelayProtocol = errors.New("socks5: relay protocol error")
	// ErrConnectRejected means the relay answered CONNECT with anything other
	// than success with an IPv4 bound address.
	ErrConnectRejected = errors.New("socks5: relay rejected connect")
	// ErrUnsupportedAddressFamily is returned for IPv6 destinations.
	ErrUnsupportedAddressFamily = errors.New("socks5: unsupported address family")
	// ErrInvalidDestination is returned for destinations without a usable
	// host or port.
	ErrInvalidDestination = errors.New("socks5: invalid destination")
)

// connectReplyLen is VER REP RSV ATYP plus a 4-byte IPv4 address and port.
const connectReplyLen = 10

// Connect runs the no-auth negotiation and a CONNECT request for dst over
// conn. On success conn carries the tunneled stream. The caller owns conn in
// both cases.
func Connect(conn net.Conn, dst Destination) error {
	if err := Negotiate(conn); err != nil {
		return err
	}
	return RequestConnect(conn, dst)
}

// Negotiate sends the greeting offering only "no authentication" and checks
// the relay selected it.
func Negotiate(conn net.Conn) error {
	if _, err := txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodNone}).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("%w: read negotiation: %w", ErrRelayProtocol, err)
	}
	if neg.Ver != txsocks5.Ver || neg.Method != txsocks5.MethodNone {
		return fmt.Errorf("%w: unsupported negotiation method: %d", ErrRelayProtocol, neg.Method)
	}
	return nil
}

// RequestConnect sends CONNECT for dst and validates the fixed-size reply.
// The bound address in the reply is ignored.
func RequestConnect(conn net.Conn, dst Destination) error {
	if _, err := dst.request().WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	var rep [connectReplyLen]byte
	if _, err := io.ReadFull(conn, rep[:]); err != nil {
		return fmt.Errorf("%w: read reply: %w", ErrConnectRejected, err)
	}
	if rep[0] != txsocks5.Ver || rep[1] != txsocks5.RepSuccess || rep[2] != 0x00 || rep[3] != txsocks5.ATYPIPv4 {
		return fmt.Errorf("%w: reply % x", ErrConnectRejected, rep[:4])
	}
	return nil
}
