// Package socks5 implements the client side of the SOCKS5 handshake used to
// open upstream connections through a relay.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 and
// supports only the subset socksgate needs: version 5, the no-authentication
// method, the CONNECT command, and IPv4 or domain-name destinations.
package socks5
