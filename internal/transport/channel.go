// Package transport defines the unreliable, unordered datagram channel the
// protocol runs over, plus the concrete channels: UDP for normal operation,
// WebRTC DataChannel and WebSocket adapters for UDP-hostile networks, and
// an in-memory network for tests.
package transport

import (
	"errors"
	"net/netip"
)

// Endpoint is a transport address (IP + port). Its comparability makes it
// the connection-table key; adapters without real addresses use synthetic
// loopback endpoints.
type Endpoint = netip.AddrPort

// ErrWouldBlock signals that a non-blocking send or receive could not make
// progress this tick. It is not a failure; callers retry next tick.
var ErrWouldBlock = errors.New("transport: operation would block")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transport: channel closed")

// DatagramChannel is the packet-oriented transport primitive. All methods
// are non-blocking: SendTo and ReceiveFrom return ErrWouldBlock instead of
// waiting. Delivery is best-effort and unordered; none of the reliability
// bookkeeping lives at this layer.
type DatagramChannel interface {
	// SendTo transmits one datagram to the given endpoint. It returns the
	// number of bytes sent, or ErrWouldBlock when the channel cannot accept
	// more data this tick.
	SendTo(p []byte, to Endpoint) (int, error)

	// ReceiveFrom fills p with the next pending datagram and reports its
	// size and source endpoint, or ErrWouldBlock when nothing is pending.
	ReceiveFrom(p []byte) (int, Endpoint, error)

	// LocalEndpoint returns the bound local address.
	LocalEndpoint() Endpoint

	Close() error
}
