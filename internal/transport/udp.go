package transport

import (
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// UDPChannel is the standard DatagramChannel: a non-blocking UDP socket.
type UDPChannel struct {
	conn  *net.UDPConn
	local Endpoint
}

// ListenUDP binds a UDP socket on the given port. Port 0 binds an ephemeral
// port (the dialer role). Bind failure is fatal to initialization; the
// caller decides whether to retry or abort.
func ListenUDP(port uint16) (*UDPChannel, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind udp port %d", port)
	}

	local, err := netip.ParseAddrPort(conn.LocalAddr().String())
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to parse local udp address")
	}

	return &UDPChannel{conn: conn, local: local}, nil
}

// SendTo transmits one datagram. Kernel buffer exhaustion maps to
// ErrWouldBlock so the caller's queue keeps the packet for the next tick.
func (c *UDPChannel) SendTo(p []byte, to Endpoint) (int, error) {
	n, err := c.conn.WriteToUDPAddrPort(p, to)
	if err != nil {
		if wouldBlock(err) {
			return 0, ErrWouldBlock
		}
		return 0, errors.Wrapf(err, "udp send to %s failed", to)
	}
	return n, nil
}

// ReceiveFrom polls the socket without blocking by arming an immediate read
// deadline; a deadline miss means no datagram is pending.
func (c *UDPChannel) ReceiveFrom(p []byte) (int, Endpoint, error) {
	if err := c.conn.SetReadDeadline(immediateDeadline()); err != nil {
		return 0, Endpoint{}, errors.Wrap(err, "failed to arm read deadline")
	}

	n, from, err := c.conn.ReadFromUDPAddrPort(p)
	if err != nil {
		if os.IsTimeout(err) || wouldBlock(err) {
			return 0, Endpoint{}, ErrWouldBlock
		}
		return 0, Endpoint{}, errors.Wrap(err, "udp receive failed")
	}
	return n, from, nil
}

func (c *UDPChannel) LocalEndpoint() Endpoint { return c.local }

func (c *UDPChannel) Close() error { return c.conn.Close() }

// immediateDeadline returns a deadline just far enough in the future that a
// read drains already-buffered datagrams but gives up almost instantly when
// the socket is empty. An already-expired deadline would fail the read even
// with data pending.
func immediateDeadline() time.Time {
	return time.Now().Add(time.Millisecond)
}

// wouldBlock reports whether err is the kernel's "try again" signal.
func wouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.ENOBUFS)
}
