// Package netsync wires the driver, replication engine, and RPC dispatcher
// into one tick-driven session. A Manager is an explicit value — create as
// many independent instances as needed (tests run several side by side).
package netsync

import (
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/config"
	"github.com/1ureka/1ureka.net.sync/internal/driver"
	"github.com/1ureka/1ureka.net.sync/internal/protocol"
	"github.com/1ureka/1ureka.net.sync/internal/replication"
	"github.com/1ureka/1ureka.net.sync/internal/rpc"
	"github.com/1ureka/1ureka.net.sync/internal/transport"
	"github.com/1ureka/1ureka.net.sync/internal/util"
	"github.com/1ureka/1ureka.net.sync/internal/world"
)

// Manager is the top-level networking session for one process: exactly one
// driver over one datagram channel, one replication engine, one RPC
// dispatcher, all sharing one world.
type Manager struct {
	cfg config.Config

	drv   *driver.Driver
	world *world.World
	repl  *replication.Engine
	rpc   *rpc.Dispatcher

	onPeerConnected    func(*driver.Connection)
	onPeerDisconnected func(*driver.Connection)
}

// New builds a Manager for the configured role over an already-bound
// channel. For the dialer role the connect request is queued immediately;
// it goes out on the first Tick.
func New(cfg config.Config, w *world.World, channel transport.DatagramChannel) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errors.New("netsync: nil world")
	}

	m := &Manager{
		cfg:   cfg,
		world: w,
		repl:  replication.NewEngine(w, cfg.TickRate),
		rpc:   rpc.NewDispatcher(w),
	}

	var err error
	switch cfg.Role {
	case config.RoleListener:
		m.drv, err = driver.NewListener(channel, cfg.MaxConnections)
	case config.RoleDialer:
		m.drv, err = driver.NewDialer(channel)
	default:
		return nil, errors.New("netsync: inactive role has no session")
	}
	if err != nil {
		return nil, err
	}
	m.drv.SetTimeout(cfg.Timeout())

	if cfg.Role == config.RoleListener && cfg.RelevancyDistance > 0 {
		m.repl.SetRelevance(replication.DistanceRelevance(w, cfg.RelevancyDistance))
	}

	m.drv.OnPacket(m.routePacket)
	m.drv.OnConnect(func(conn *driver.Connection) {
		if m.onPeerConnected != nil {
			m.onPeerConnected(conn)
		}
	})
	m.drv.OnDisconnect(func(conn *driver.Connection) {
		m.repl.RemovePeer(conn.Endpoint())
		if m.onPeerDisconnected != nil {
			m.onPeerDisconnected(conn)
		}
	})

	if cfg.Role == config.RoleDialer {
		remote, err := resolveRemote(cfg, channel)
		if err != nil {
			return nil, err
		}
		if _, err := m.drv.Connect(remote); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// OpenChannel binds the UDP channel the configured role needs: the listen
// port for a listener, an ephemeral port for a dialer.
func OpenChannel(cfg config.Config) (transport.DatagramChannel, error) {
	if cfg.Role == config.RoleListener {
		return transport.ListenUDP(cfg.ListenPort)
	}
	return transport.ListenUDP(0)
}

// pointToPoint is implemented by channels that carry exactly one peer and
// already know its endpoint (the WebRTC and WebSocket adapters).
type pointToPoint interface {
	RemoteEndpoint() transport.Endpoint
}

// resolveRemote picks the dialer's target: a point-to-point channel knows
// its peer; anything else goes through address resolution.
func resolveRemote(cfg config.Config, channel transport.DatagramChannel) (transport.Endpoint, error) {
	if p2p, ok := channel.(pointToPoint); ok {
		return p2p.RemoteEndpoint(), nil
	}
	return cfg.RemoteEndpoint()
}

// Accessors for the composed parts.
func (m *Manager) Driver() *driver.Driver           { return m.drv }
func (m *Manager) World() *world.World              { return m.world }
func (m *Manager) Replication() *replication.Engine { return m.repl }
func (m *Manager) RPC() *rpc.Dispatcher             { return m.rpc }

// OnPeerConnected registers the application connect callback.
func (m *Manager) OnPeerConnected(fn func(*driver.Connection)) { m.onPeerConnected = fn }

// OnPeerDisconnected registers the application disconnect callback.
func (m *Manager) OnPeerDisconnected(fn func(*driver.Connection)) { m.onPeerDisconnected = fn }

// Tick runs one frame: network I/O, object updates, then (listener only)
// a replication pass over every replicable object in the world.
func (m *Manager) Tick(dt time.Duration) {
	m.drv.Tick(dt)
	m.world.Tick(dt)

	if m.drv.Role() == driver.RoleListener {
		for _, obj := range m.world.All() {
			m.repl.Register(obj)
		}
		m.repl.Tick(dt, m.drv)
	}
}

// Unregister stops replicating an object and tells every peer that saw it
// to destroy its mirror. Call before (or instead of) world destruction.
func (m *Manager) Unregister(obj replication.Object) {
	m.repl.Unregister(obj, m.drv)
}

// Shutdown closes the session: best-effort disconnect notices, table
// cleared, channel closed.
func (m *Manager) Shutdown() {
	m.drv.Shutdown()
}

// routePacket forwards non-control packets to the engine that owns the
// type code. Acks and heartbeats were already consumed by the connection.
func (m *Manager) routePacket(conn *driver.Connection, pkt *protocol.Packet) {
	switch pkt.Header.Type {
	case protocol.TypeSpawn, protocol.TypeDestroy, protocol.TypeUpdate:
		m.repl.HandleInbound(conn, pkt)
	case protocol.TypeRPCHost, protocol.TypeRPCPeer, protocol.TypeRPCAll:
		m.rpc.HandleInbound(conn, pkt)
	case protocol.TypeAck, protocol.TypeHeartbeat:
		// reliability bookkeeping lives in the connection
	default:
		util.LogDebug("unhandled packet type %s from %s", pkt.Header.Type, conn.Endpoint())
	}
}
