// Package proxy implements the socksgate HTTP proxy listener.
//
// It reads just enough of each client's request line to find the destination,
// opens the upstream through the configured dialer, and then relays bytes in
// both directions. It also holds the shared connection plumbing: the bounded
// line reader, keepalive listeners and bidirectional copy.
package proxy
