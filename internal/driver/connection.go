// Package driver owns the per-peer connection state and the connection-table
// driver that multiplexes one datagram channel across many peers.
package driver

import (
	"time"

	"github.com/google/btree"

	"github.com/1ureka/1ureka.net.sync/internal/protocol"
	"github.com/1ureka/1ureka.net.sync/internal/transport"
	"github.com/1ureka/1ureka.net.sync/internal/util"
)

// State is the connection lifecycle state. Disconnected is terminal: the
// connection is removed from the owning table and never reused.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// heartbeatInterval is how long a connected peer may stay send-idle before
// an unreliable heartbeat is queued to keep the remote timeout sweep quiet.
const heartbeatInterval = 5 * time.Second

// Stats counts per-connection traffic since the connection was created.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
}

// retained is one unacknowledged reliable packet, ordered by sequence.
type retained struct {
	seq uint32
	pkt *protocol.Packet
}

func retainedLess(a, b retained) bool { return a.seq < b.seq }

// Connection tracks one remote peer: lifecycle state, sequencing, the
// reliable retained-set, the outgoing FIFO queue, and timing. All methods
// run on the tick goroutine; there is no internal locking.
type Connection struct {
	endpoint transport.Endpoint
	state    State

	outgoingSeq uint32
	incomingSeq uint32

	reliable *btree.BTreeG[retained]
	outgoing []*protocol.Packet

	clock       time.Duration
	lastSend    time.Duration
	lastReceive time.Duration
	rtt         time.Duration

	tag   any
	stats Stats
}

// NewConnection creates a connection to the given endpoint in the
// Connecting state.
func NewConnection(endpoint transport.Endpoint) *Connection {
	return &Connection{
		endpoint: endpoint,
		state:    StateConnecting,
		reliable: btree.NewG(8, retainedLess),
	}
}

func (c *Connection) Endpoint() transport.Endpoint { return c.endpoint }
func (c *Connection) State() State                 { return c.state }
func (c *Connection) SetState(s State)             { c.state = s }

// Tag is an opaque user value linking the connection to an application
// object (e.g. the peer's avatar id).
func (c *Connection) Tag() any       { return c.tag }
func (c *Connection) SetTag(tag any) { c.tag = tag }

// RTT returns the smoothed round-trip estimate.
func (c *Connection) RTT() time.Duration { return c.rtt }

// IncomingSequence returns the highest sequence number observed from the
// peer. Only the maximum is tracked; gaps and duplicates pass unnoticed.
func (c *Connection) IncomingSequence() uint32 { return c.incomingSeq }

// PendingReliable returns how many reliable packets await acknowledgment.
func (c *Connection) PendingReliable() int { return c.reliable.Len() }

// QueuedPackets returns how many packets await flushing.
func (c *Connection) QueuedPackets() int { return len(c.outgoing) }

func (c *Connection) Stats() Stats { return c.stats }

// nextSequence issues the next outgoing sequence number. Numbers are
// strictly increasing and never reused for the lifetime of the connection.
func (c *Connection) nextSequence() uint32 {
	seq := c.outgoingSeq
	c.outgoingSeq++
	return seq
}

// Send assigns the next sequence number and appends the packet to the
// outgoing queue. Reliable packets are additionally retained, keyed by
// sequence, until the matching acknowledgment arrives. The caller's packet
// is not mutated, so one packet value can be sent to many connections.
func (c *Connection) Send(pkt *protocol.Packet, reliable bool) {
	out := &protocol.Packet{Header: pkt.Header, Body: pkt.Body}
	out.Header.Sequence = c.nextSequence()

	c.outgoing = append(c.outgoing, out)

	if reliable {
		c.reliable.ReplaceOrInsert(retained{seq: out.Header.Sequence, pkt: out})
	}
}

// Flush serializes and sends queued packets in FIFO order. On a would-block
// signal (or any other channel error) it stops; unsent packets stay at the
// head of the queue for the next flush.
func (c *Connection) Flush(ch transport.DatagramChannel) {
	if ch == nil {
		return
	}

	sent := 0
	for _, pkt := range c.outgoing {
		n, err := ch.SendTo(pkt.Marshal(), c.endpoint)
		if err != nil {
			break
		}

		c.stats.PacketsSent++
		c.stats.BytesSent += uint64(n)
		util.Stats.AddSent(n)
		c.lastSend = c.clock
		sent++
	}

	if sent > 0 {
		c.outgoing = c.outgoing[sent:]
	}
}

// Receive updates timing and sequencing for one inbound packet. Every
// packet that is not itself an acknowledgment or heartbeat is answered
// with an unreliable acknowledgment referencing its sequence number.
func (c *Connection) Receive(pkt *protocol.Packet) {
	c.lastReceive = c.clock
	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(protocol.HeaderSize + pkt.Body.Len())
	util.Stats.AddRecv(protocol.HeaderSize + pkt.Body.Len())

	if pkt.Header.Sequence > c.incomingSeq {
		c.incomingSeq = pkt.Header.Sequence
	}

	switch pkt.Header.Type {
	case protocol.TypeAck:
		c.processAck(pkt)
	case protocol.TypeHeartbeat:
		// timing update above is the whole point of a heartbeat
	default:
		c.sendAck(pkt.Header.Sequence)
	}
}

// processAck removes the acknowledged packet from the retained-set and
// folds the round-trip sample into the smoothed estimate.
func (c *Connection) processAck(pkt *protocol.Packet) {
	ackedSeq, err := pkt.Body.ReadUint32()
	if err != nil {
		util.LogDebug("malformed ack from %s: %v", c.endpoint, err)
		return
	}

	if _, ok := c.reliable.Delete(retained{seq: ackedSeq}); ok {
		sample := c.clock - c.lastSend
		c.rtt = time.Duration(float64(c.rtt)*0.9 + float64(sample)*0.1)
	}
}

func (c *Connection) sendAck(sequence uint32) {
	ack := protocol.New(protocol.TypeAck)
	ack.Body.WriteUint32(sequence)
	c.Send(ack, false)
}

// Tick advances the connection clock and queues a heartbeat when the
// connection has been send-idle for too long.
func (c *Connection) Tick(dt time.Duration) {
	c.clock += dt

	if c.state == StateConnected &&
		len(c.outgoing) == 0 &&
		c.clock-c.lastSend >= heartbeatInterval {
		c.Send(protocol.New(protocol.TypeHeartbeat), false)
	}
}

// TimeSinceLastReceive returns connection-clock time since the last inbound
// packet.
func (c *Connection) TimeSinceLastReceive() time.Duration {
	return c.clock - c.lastReceive
}

// IsTimedOut reports whether the peer has been silent longer than threshold.
func (c *Connection) IsTimedOut(threshold time.Duration) bool {
	return c.TimeSinceLastReceive() > threshold
}
