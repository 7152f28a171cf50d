package driver

import (
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/protocol"
	"github.com/1ureka/1ureka.net.sync/internal/transport"
	"github.com/1ureka/1ureka.net.sync/internal/util"
)

// Role selects which side of the protocol the driver plays.
type Role int

const (
	RoleInactive Role = iota
	RoleListener      // authoritative host accepting peers
	RoleDialer        // peer dialing the host
)

// receiveBurst caps datagrams pulled per tick so a flood cannot starve the
// rest of the frame.
const receiveBurst = 100

// DefaultTimeout is the silence threshold before a peer is evicted.
const DefaultTimeout = 30 * time.Second

// Callback signatures for the upward interface.
type (
	ConnectFunc    func(*Connection)
	DisconnectFunc func(*Connection)
	PacketFunc     func(*Connection, *protocol.Packet)
)

// Driver owns exactly one datagram channel and the single authoritative
// table of connections keyed by endpoint. It runs the per-tick
// receive/tick/flush/timeout cycle, consumes connection-control packets
// itself, and forwards everything else to the registered packet callback.
//
// All methods run on the tick goroutine. Connections handed out through
// callbacks or Connections() are owned by the driver and are only valid
// until removed from the table.
type Driver struct {
	role    Role
	channel transport.DatagramChannel
	conns   map[transport.Endpoint]*Connection

	// dialer only: the single outbound connection to the host
	remote *Connection

	maxConns int
	timeout  time.Duration

	onConnect    ConnectFunc
	onDisconnect DisconnectFunc
	onPacket     PacketFunc

	recvBuf []byte
}

// NewListener creates a listening driver on an already-bound channel,
// accepting at most maxConns concurrent peers.
func NewListener(channel transport.DatagramChannel, maxConns int) (*Driver, error) {
	if channel == nil {
		return nil, errors.New("driver: nil channel")
	}
	d := newDriver(RoleListener, channel)
	d.maxConns = maxConns
	util.LogInfo("listening on %s (max %d connections)", channel.LocalEndpoint(), maxConns)
	return d, nil
}

// NewDialer creates a dialing driver on an already-bound channel
// (typically an ephemeral port).
func NewDialer(channel transport.DatagramChannel) (*Driver, error) {
	if channel == nil {
		return nil, errors.New("driver: nil channel")
	}
	return newDriver(RoleDialer, channel), nil
}

func newDriver(role Role, channel transport.DatagramChannel) *Driver {
	return &Driver{
		role:    role,
		channel: channel,
		conns:   make(map[transport.Endpoint]*Connection),
		timeout: DefaultTimeout,
		recvBuf: make([]byte, protocol.MaxPacketSize*2),
	}
}

func (d *Driver) Role() Role { return d.role }

// SetTimeout overrides the silence threshold for the timeout sweep.
func (d *Driver) SetTimeout(timeout time.Duration) { d.timeout = timeout }

// OnConnect registers the connection-established callback.
func (d *Driver) OnConnect(fn ConnectFunc) { d.onConnect = fn }

// OnDisconnect registers the disconnection callback. It fires for peer
// disconnects, deny responses, timeouts and forced disconnects alike.
func (d *Driver) OnDisconnect(fn DisconnectFunc) { d.onDisconnect = fn }

// OnPacket registers the upward callback for non-control packets.
func (d *Driver) OnPacket(fn PacketFunc) { d.onPacket = fn }

// Find returns the connection for an endpoint, or nil.
func (d *Driver) Find(endpoint transport.Endpoint) *Connection {
	return d.conns[endpoint]
}

// Remote returns the dialer's connection to the host, or nil.
func (d *Driver) Remote() *Connection { return d.remote }

// Len returns the number of connections in the table.
func (d *Driver) Len() int { return len(d.conns) }

// Connections returns a derived snapshot of the table. The slice is built
// on demand; the driver keeps no second list that could outlive removal.
func (d *Driver) Connections() []*Connection {
	out := make([]*Connection, 0, len(d.conns))
	for _, c := range d.conns {
		out = append(out, c)
	}
	return out
}

// Connect initiates a connection to the host (dialer role). The connection
// enters the table in Connecting state and a reliable connect request is
// queued; the transition to Connected happens when the accept arrives.
func (d *Driver) Connect(remote transport.Endpoint) (*Connection, error) {
	if d.role != RoleDialer {
		return nil, errors.New("driver: Connect requires the dialer role")
	}
	if d.remote != nil {
		return nil, errors.Errorf("driver: already connecting to %s", d.remote.Endpoint())
	}

	conn := NewConnection(remote)
	d.conns[remote] = conn
	d.remote = conn

	conn.Send(protocol.New(protocol.TypeConnectRequest), true)
	util.LogInfo("connecting to %s", remote)
	return conn, nil
}

// Send queues a packet on one connection.
func (d *Driver) Send(conn *Connection, pkt *protocol.Packet, reliable bool) {
	if conn == nil {
		return
	}
	conn.Send(pkt, reliable)
}

// Broadcast queues a packet on every Connected connection.
func (d *Driver) Broadcast(pkt *protocol.Packet, reliable bool) {
	for _, conn := range d.conns {
		if conn.State() == StateConnected {
			conn.Send(pkt, reliable)
		}
	}
}

// Tick runs one frame of the driver, in fixed order: bounded receive burst,
// per-connection clock advance, flush, then (listener only) timeout sweep.
func (d *Driver) Tick(dt time.Duration) {
	d.receivePackets()

	for _, conn := range d.conns {
		conn.Tick(dt)
	}

	for _, conn := range d.conns {
		conn.Flush(d.channel)
	}

	if d.role == RoleListener {
		d.checkTimeouts()
	}
}

// Disconnect forcibly drops a connection: best-effort disconnect notice,
// disconnection callback, table removal.
func (d *Driver) Disconnect(conn *Connection) {
	if conn == nil || d.conns[conn.Endpoint()] != conn {
		return
	}

	conn.Send(protocol.New(protocol.TypeDisconnect), false)
	conn.Flush(d.channel)
	conn.SetState(StateDisconnected)

	if d.onDisconnect != nil {
		d.onDisconnect(conn)
	}
	d.remove(conn)
}

// Shutdown sends a best-effort disconnect notice to every Connected peer,
// clears the table, and closes the channel.
func (d *Driver) Shutdown() {
	for _, conn := range d.conns {
		if conn.State() == StateConnected {
			conn.Send(protocol.New(protocol.TypeDisconnect), false)
			conn.Flush(d.channel)
		}
		conn.SetState(StateDisconnected)
	}

	d.conns = make(map[transport.Endpoint]*Connection)
	d.remote = nil

	if err := d.channel.Close(); err != nil {
		util.LogDebug("channel close: %v", err)
	}
	util.LogInfo("driver shut down")
}

// ---------------------------------------------------------------------------
// Receive path
// ---------------------------------------------------------------------------

func (d *Driver) receivePackets() {
	for i := 0; i < receiveBurst; i++ {
		n, from, err := d.channel.ReceiveFrom(d.recvBuf)
		if err != nil {
			// would-block means nothing more this tick; anything else
			// (e.g. a closed channel) also ends the burst
			return
		}

		pkt, err := protocol.Unmarshal(d.recvBuf[:n])
		if err != nil {
			util.LogDebug("dropping malformed datagram from %s: %v", from, err)
			continue
		}

		d.handlePacket(from, pkt)
	}
}

func (d *Driver) handlePacket(from transport.Endpoint, pkt *protocol.Packet) {
	conn := d.conns[from]

	switch pkt.Header.Type {
	case protocol.TypeConnectRequest:
		if d.role == RoleListener {
			d.handleConnectRequest(from, pkt)
		}

	case protocol.TypeConnectAccept:
		if d.role == RoleDialer && conn != nil && conn == d.remote {
			conn.Receive(pkt)
			if conn.State() == StateConnecting {
				conn.SetState(StateConnected)
				util.Stats.AddConn()
				util.LogSuccess("connected to %s", from)
				if d.onConnect != nil {
					d.onConnect(conn)
				}
			}
		}

	case protocol.TypeConnectDeny:
		if d.role == RoleDialer && conn != nil && conn == d.remote {
			util.LogWarning("connection denied by %s", from)
			conn.SetState(StateDisconnected)
			if d.onDisconnect != nil {
				d.onDisconnect(conn)
			}
			d.remove(conn)
		}

	case protocol.TypeDisconnect:
		if conn != nil {
			util.LogInfo("peer disconnected: %s", from)
			conn.SetState(StateDisconnected)
			if d.onDisconnect != nil {
				d.onDisconnect(conn)
			}
			d.remove(conn)
		}

	default:
		if conn == nil {
			util.LogDebug("dropping %s from unknown endpoint %s", pkt.Header.Type, from)
			return
		}
		conn.Receive(pkt)
		if d.onPacket != nil {
			d.onPacket(conn, pkt)
		}
	}
}

// handleConnectRequest implements the listener-side accept/deny decision.
// A duplicate request from a known endpoint is ignored; a request past the
// connection cap is denied without creating any state.
func (d *Driver) handleConnectRequest(from transport.Endpoint, pkt *protocol.Packet) {
	if d.conns[from] != nil {
		util.LogDebug("duplicate connect request from %s", from)
		return
	}

	if len(d.conns) >= d.maxConns {
		util.LogWarning("connection denied (table full): %s", from)
		deny := protocol.New(protocol.TypeConnectDeny)
		if _, err := d.channel.SendTo(deny.Marshal(), from); err != nil {
			util.LogDebug("deny send to %s: %v", from, err)
		}
		return
	}

	conn := NewConnection(from)
	conn.SetState(StateConnected)
	d.conns[from] = conn

	conn.Receive(pkt)
	conn.Send(protocol.New(protocol.TypeConnectAccept), true)

	util.Stats.AddConn()
	util.LogSuccess("peer connected: %s (%d/%d)", from, len(d.conns), d.maxConns)
	if d.onConnect != nil {
		d.onConnect(conn)
	}
}

// checkTimeouts evicts every connection silent beyond the threshold.
// Eviction is identical to a peer-initiated disconnect.
func (d *Driver) checkTimeouts() {
	var timedOut []*Connection
	for _, conn := range d.conns {
		if conn.IsTimedOut(d.timeout) {
			timedOut = append(timedOut, conn)
		}
	}

	for _, conn := range timedOut {
		util.LogWarning("connection timed out: %s", conn.Endpoint())
		d.Disconnect(conn)
	}
}

func (d *Driver) remove(conn *Connection) {
	delete(d.conns, conn.Endpoint())
	if conn == d.remote {
		d.remote = nil
	}
	util.Stats.RemoveConn()
}
