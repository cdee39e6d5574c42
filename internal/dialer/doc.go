// Package dialer provides the outbound dialers used by socksgate.
//
// Dialers implement a small interface (DialContext). The SOCKS5 dialer opens
// a direct TCP connection to the relay and runs the CONNECT handshake over it,
// so the returned net.Conn is already tunneled to the destination.
package dialer
