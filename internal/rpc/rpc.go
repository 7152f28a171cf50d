// Package rpc implements named remote procedure calls against replicated
// objects: a direction-tagged handler registry on the receive side and
// reliable call senders on the transmit side.
package rpc

import (
	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/codec"
	"github.com/1ureka/1ureka.net.sync/internal/driver"
	"github.com/1ureka/1ureka.net.sync/internal/protocol"
	"github.com/1ureka/1ureka.net.sync/internal/replication"
	"github.com/1ureka/1ureka.net.sync/internal/util"
)

// Direction tags who may invoke a function and where it executes.
type Direction uint8

const (
	// ToHost: invoked by a peer, executed on the authoritative host.
	ToHost Direction = iota
	// ToPeer: invoked by the host, executed on one named peer.
	ToPeer
	// ToAll: invoked by the host, executed on every connected peer.
	ToAll
)

func (d Direction) String() string {
	switch d {
	case ToHost:
		return "to-host"
	case ToPeer:
		return "to-peer"
	case ToAll:
		return "to-all"
	}
	return "unknown"
}

// wireType maps a direction to the packet type its calls travel as.
func (d Direction) wireType() protocol.Type {
	switch d {
	case ToPeer:
		return protocol.TypeRPCPeer
	case ToAll:
		return protocol.TypeRPCAll
	default:
		return protocol.TypeRPCHost
	}
}

// Handler executes one call against its target object. params is a view
// over the caller-supplied parameter bytes; the handler owns its decoding.
type Handler func(target replication.Object, params *codec.Buffer)

// Resolver locates call targets by net id (the object registry boundary).
type Resolver interface {
	ByID(id uint32) (replication.Object, bool)
}

type entry struct {
	direction Direction
	handler   Handler
}

// Dispatcher holds the function registry and routes inbound RPC packets to
// their handlers.
type Dispatcher struct {
	resolver Resolver
	registry map[string]entry
}

// NewDispatcher creates an empty dispatcher resolving targets through
// resolver.
func NewDispatcher(resolver Resolver) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		registry: make(map[string]entry),
	}
}

// Register records a function's direction and handler together. Duplicate
// names are rejected so a direction can never be silently redefined.
func (dp *Dispatcher) Register(name string, direction Direction, handler Handler) error {
	if name == "" {
		return errors.New("rpc: empty function name")
	}
	if handler == nil {
		return errors.New("rpc: nil handler")
	}
	if _, exists := dp.registry[name]; exists {
		return errors.Errorf("rpc: function %q already registered", name)
	}

	dp.registry[name] = entry{direction: direction, handler: handler}
	util.LogDebug("registered rpc %q (%s)", name, direction)
	return nil
}

// ---------------------------------------------------------------------------
// Outbound calls
// ---------------------------------------------------------------------------

// CallHost invokes a to-host function from a peer. params may be nil.
func (dp *Dispatcher) CallHost(d *driver.Driver, objectID uint32, name string, params *codec.Buffer) error {
	if d.Role() != driver.RoleDialer {
		return errors.New("rpc: CallHost requires the dialer role")
	}
	conn := d.Remote()
	if conn == nil || conn.State() != driver.StateConnected {
		return errors.New("rpc: not connected to host")
	}

	d.Send(conn, buildCall(protocol.TypeRPCHost, objectID, name, params), true)
	return nil
}

// CallPeer invokes a to-peer function on one named connection (host role).
func (dp *Dispatcher) CallPeer(d *driver.Driver, conn *driver.Connection, objectID uint32, name string, params *codec.Buffer) error {
	if d.Role() != driver.RoleListener {
		return errors.New("rpc: CallPeer requires the listener role")
	}
	if conn == nil || conn.State() != driver.StateConnected {
		return errors.New("rpc: peer not connected")
	}

	d.Send(conn, buildCall(protocol.TypeRPCPeer, objectID, name, params), true)
	return nil
}

// CallAll invokes a to-all function on every connected peer (host role).
func (dp *Dispatcher) CallAll(d *driver.Driver, objectID uint32, name string, params *codec.Buffer) error {
	if d.Role() != driver.RoleListener {
		return errors.New("rpc: CallAll requires the listener role")
	}

	d.Broadcast(buildCall(protocol.TypeRPCAll, objectID, name, params), true)
	return nil
}

// buildCall serializes {object id, function name, raw parameter bytes}.
func buildCall(t protocol.Type, objectID uint32, name string, params *codec.Buffer) *protocol.Packet {
	pkt := protocol.New(t)
	pkt.Body.WriteUint32(objectID)
	pkt.Body.WriteString(name)
	if params != nil {
		pkt.Body.Write(params.Bytes())
	}
	return pkt
}

// ---------------------------------------------------------------------------
// Inbound dispatch
// ---------------------------------------------------------------------------

// HandleInbound decodes and executes one RPC packet. Every failure mode —
// unknown object, unregistered function, wire type not matching the
// registered direction — drops the call with a diagnostic and nothing else.
func (dp *Dispatcher) HandleInbound(conn *driver.Connection, pkt *protocol.Packet) {
	objectID, err := pkt.Body.ReadUint32()
	if err != nil {
		util.LogDebug("malformed rpc from %s: %v", conn.Endpoint(), err)
		return
	}
	name, err := pkt.Body.ReadString()
	if err != nil {
		util.LogDebug("malformed rpc from %s: %v", conn.Endpoint(), err)
		return
	}

	target, ok := dp.resolver.ByID(objectID)
	if !ok {
		util.LogDebug("rpc %q: unknown object %d", name, objectID)
		return
	}

	ent, ok := dp.registry[name]
	if !ok {
		util.LogDebug("rpc %q not registered", name)
		return
	}

	if pkt.Header.Type != ent.direction.wireType() {
		util.LogWarning("rpc %q: wire type %s does not match registered direction %s",
			name, pkt.Header.Type, ent.direction)
		return
	}

	rest, err := pkt.Body.Read(pkt.Body.Remaining())
	if err != nil {
		util.LogDebug("malformed rpc from %s: %v", conn.Endpoint(), err)
		return
	}
	ent.handler(target, codec.FromBytes(rest))
}
