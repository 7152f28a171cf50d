package transport

import (
	"net/netip"
	"sync"
)

// inboxCapacity bounds pending datagrams per in-memory channel; overflow is
// dropped, matching the lossy transport the protocol is written for.
const inboxCapacity = 256

// datagram is one in-flight message on the in-memory network.
type datagram struct {
	data []byte
	from Endpoint
}

// MemoryNetwork is a process-local datagram fabric used by tests and
// benchmarks: every Open returns a channel addressable by the others,
// with the same non-blocking, best-effort semantics as UDP.
type MemoryNetwork struct {
	mu       sync.Mutex
	channels map[Endpoint]*MemoryChannel
	nextPort uint16
}

// NewMemoryNetwork creates an empty fabric.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		channels: make(map[Endpoint]*MemoryChannel),
		nextPort: 40000,
	}
}

// Open binds a channel on the given port; port 0 picks an unused one.
func (n *MemoryNetwork) Open(port uint16) *MemoryChannel {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		port = n.nextPort
		n.nextPort++
	}

	ep := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
	ch := &MemoryChannel{
		net:   n,
		local: ep,
		inbox: make(chan datagram, inboxCapacity),
	}
	n.channels[ep] = ch
	return ch
}

// deliver drops the datagram when the destination is unknown, closed, or
// its inbox is full — in-memory packet loss.
func (n *MemoryNetwork) deliver(d datagram, to Endpoint) {
	n.mu.Lock()
	dst := n.channels[to]
	n.mu.Unlock()

	if dst == nil {
		return
	}
	select {
	case dst.inbox <- d:
	default:
	}
}

func (n *MemoryNetwork) remove(ep Endpoint) {
	n.mu.Lock()
	delete(n.channels, ep)
	n.mu.Unlock()
}

// MemoryChannel is one endpoint on a MemoryNetwork.
type MemoryChannel struct {
	net   *MemoryNetwork
	local Endpoint
	inbox chan datagram

	mu     sync.Mutex
	closed bool
}

func (c *MemoryChannel) SendTo(p []byte, to Endpoint) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	data := make([]byte, len(p))
	copy(data, p)
	c.net.deliver(datagram{data: data, from: c.local}, to)
	return len(p), nil
}

func (c *MemoryChannel) ReceiveFrom(p []byte) (int, Endpoint, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, Endpoint{}, ErrClosed
	}

	select {
	case d := <-c.inbox:
		n := copy(p, d.data)
		return n, d.from, nil
	default:
		return 0, Endpoint{}, ErrWouldBlock
	}
}

func (c *MemoryChannel) LocalEndpoint() Endpoint { return c.local }

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.net.remove(c.local)
	return nil
}
