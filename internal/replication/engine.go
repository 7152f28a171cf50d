package replication

import (
	"bytes"
	"time"

	"github.com/1ureka/1ureka.net.sync/internal/codec"
	"github.com/1ureka/1ureka.net.sync/internal/driver"
	"github.com/1ureka/1ureka.net.sync/internal/protocol"
	"github.com/1ureka/1ureka.net.sync/internal/transport"
	"github.com/1ureka/1ureka.net.sync/internal/util"
)

// Object is what the engine needs from a replicable application object.
// The concrete registry (internal/world) provides the implementation.
type Object interface {
	NetID() uint32
	SetNetID(id uint32)
	TypeName() string

	Replicates() bool
	SetReplicates(bool)

	Position() codec.Vec3
	SetPosition(codec.Vec3)
	Rotation() codec.Quat
	SetRotation(codec.Quat)

	// Properties returns the declared properties in declaration order.
	Properties() []Property
	// Property looks up one declared property by name.
	Property(name string) (Property, bool)

	// OnReplicated is called after an inbound update has been applied.
	OnReplicated()
}

// Registry is the engine's boundary to the external object registry.
type Registry interface {
	// SpawnWithID instantiates an object by type name under a
	// host-assigned net id.
	SpawnWithID(typeName string, id uint32) (Object, error)
	DestroyByID(id uint32)
	ByID(id uint32) (Object, bool)
}

// RelevanceFunc decides whether an object should be replicated to a peer.
type RelevanceFunc func(obj Object, conn *driver.Connection) bool

// AlwaysRelevant replicates every object to every peer.
func AlwaysRelevant(Object, *driver.Connection) bool { return true }

// objectState is the per-(peer, object) replication state: whether the
// object has been announced and the last value sent per property.
type objectState struct {
	spawned   bool
	snapshots map[string][]byte
}

// Engine computes per-peer deltas for the host and applies inbound
// replication packets for peers. Single-threaded, driven by Tick.
type Engine struct {
	registry Registry

	interval time.Duration
	elapsed  time.Duration

	relevance RelevanceFunc

	objects map[uint32]Object
	states  map[transport.Endpoint]map[uint32]*objectState
}

// NewEngine creates an engine replicating at tickRate Hz through registry.
func NewEngine(registry Registry, tickRate float64) *Engine {
	if tickRate <= 0 {
		tickRate = 30
	}
	return &Engine{
		registry:  registry,
		interval:  time.Duration(float64(time.Second) / tickRate),
		relevance: AlwaysRelevant,
		objects:   make(map[uint32]Object),
		states:    make(map[transport.Endpoint]map[uint32]*objectState),
	}
}

// SetRelevance replaces the relevance predicate.
func (e *Engine) SetRelevance(fn RelevanceFunc) {
	if fn == nil {
		fn = AlwaysRelevant
	}
	e.relevance = fn
}

// DistanceRelevance builds a predicate that replicates an object only when
// it is within maxDistance of the peer's own object. The peer's object is
// resolved through the connection tag (a net id set by the application);
// peers without a tag see everything.
func DistanceRelevance(registry Registry, maxDistance float32) RelevanceFunc {
	return func(obj Object, conn *driver.Connection) bool {
		id, ok := conn.Tag().(uint32)
		if !ok {
			return true
		}
		viewpoint, ok := registry.ByID(id)
		if !ok {
			return true
		}
		return obj.Position().Sub(viewpoint.Position()).Length() <= maxDistance
	}
}

// Register adds an object to the replicable set. Objects not flagged
// replicable are ignored.
func (e *Engine) Register(obj Object) {
	if obj == nil || !obj.Replicates() {
		return
	}
	e.objects[obj.NetID()] = obj
}

// Unregister removes an object from the replicable set, sends a destroy to
// every peer it was announced to, and clears its snapshots.
func (e *Engine) Unregister(obj Object, d *driver.Driver) {
	if obj == nil {
		return
	}
	id := obj.NetID()
	delete(e.objects, id)

	for endpoint, states := range e.states {
		state, ok := states[id]
		if !ok {
			continue
		}
		if state.spawned {
			if conn := d.Find(endpoint); conn != nil && conn.State() == driver.StateConnected {
				e.sendDestroy(id, conn, d)
			}
		}
		delete(states, id)
	}
}

// RemovePeer drops all replication state for a disconnected peer.
func (e *Engine) RemovePeer(endpoint transport.Endpoint) {
	delete(e.states, endpoint)
}

// Tick accumulates frame time and, once per replication interval,
// replicates the object set to every Connected peer.
func (e *Engine) Tick(dt time.Duration, d *driver.Driver) {
	if d == nil || d.Role() != driver.RoleListener {
		return
	}

	e.elapsed += dt
	if e.elapsed < e.interval {
		return
	}
	e.elapsed = 0

	for _, conn := range d.Connections() {
		if conn.State() == driver.StateConnected {
			e.replicateTo(conn, d)
		}
	}
}

// replicateTo runs one replication pass for a single peer: announce
// anything newly relevant, then diff every declared property against the
// peer's snapshot and send only what changed.
func (e *Engine) replicateTo(conn *driver.Connection, d *driver.Driver) {
	for _, obj := range e.objects {
		if !e.relevance(obj, conn) {
			continue
		}

		state := e.stateFor(conn.Endpoint(), obj.NetID())

		if !state.spawned {
			e.sendSpawn(obj, conn, d)
			state.spawned = true
			// the spawn carries the object as it is now; snapshot it so
			// the first update only reports genuine changes
			for _, prop := range obj.Properties() {
				state.snapshots[prop.Name] = RawBytes(prop)
			}
			continue
		}

		e.sendUpdate(obj, state, conn, d)
	}
}

func (e *Engine) sendSpawn(obj Object, conn *driver.Connection, d *driver.Driver) {
	pkt := protocol.New(protocol.TypeSpawn)
	pkt.Body.WriteUint32(obj.NetID())
	pkt.Body.WriteString(obj.TypeName())
	pkt.Body.WriteVec3(obj.Position())
	pkt.Body.WriteQuat(obj.Rotation())
	d.Send(conn, pkt, true)
}

func (e *Engine) sendDestroy(id uint32, conn *driver.Connection, d *driver.Driver) {
	pkt := protocol.New(protocol.TypeDestroy)
	pkt.Body.WriteUint32(id)
	d.Send(conn, pkt, true)
}

// sendUpdate emits one update packet carrying every property whose current
// encoding differs byte-wise from the peer's snapshot. No changes, no
// packet.
func (e *Engine) sendUpdate(obj Object, state *objectState, conn *driver.Connection, d *driver.Driver) {
	type change struct {
		prop Property
		raw  []byte
	}

	var changes []change
	for _, prop := range obj.Properties() {
		raw := RawBytes(prop)
		if !bytes.Equal(raw, state.snapshots[prop.Name]) {
			changes = append(changes, change{prop: prop, raw: raw})
		}
	}

	if len(changes) == 0 {
		return
	}

	pkt := protocol.New(protocol.TypeUpdate)
	pkt.Body.WriteUint32(obj.NetID())
	pkt.Body.WriteUint32(uint32(len(changes)))
	for _, ch := range changes {
		pkt.Body.WriteString(ch.prop.Name)
		pkt.Body.WriteUint8(uint8(ch.prop.Kind()))
		pkt.Body.Write(ch.raw)
		state.snapshots[ch.prop.Name] = ch.raw
	}

	d.Send(conn, pkt, true)
}

func (e *Engine) stateFor(endpoint transport.Endpoint, id uint32) *objectState {
	states := e.states[endpoint]
	if states == nil {
		states = make(map[uint32]*objectState)
		e.states[endpoint] = states
	}
	state := states[id]
	if state == nil {
		state = &objectState{snapshots: make(map[string][]byte)}
		states[id] = state
	}
	return state
}

// ---------------------------------------------------------------------------
// Inbound handling (peer side)
// ---------------------------------------------------------------------------

// HandleInbound applies one replication packet received from the host.
func (e *Engine) HandleInbound(conn *driver.Connection, pkt *protocol.Packet) {
	var err error
	switch pkt.Header.Type {
	case protocol.TypeSpawn:
		err = e.handleSpawn(pkt)
	case protocol.TypeDestroy:
		err = e.handleDestroy(pkt)
	case protocol.TypeUpdate:
		err = e.handleUpdate(pkt)
	}
	if err != nil {
		util.LogDebug("dropping %s from %s: %v", pkt.Header.Type, conn.Endpoint(), err)
	}
}

func (e *Engine) handleSpawn(pkt *protocol.Packet) error {
	id, err := pkt.Body.ReadUint32()
	if err != nil {
		return err
	}
	typeName, err := pkt.Body.ReadString()
	if err != nil {
		return err
	}
	position, err := pkt.Body.ReadVec3()
	if err != nil {
		return err
	}
	rotation, err := pkt.Body.ReadQuat()
	if err != nil {
		return err
	}

	obj, err := e.registry.SpawnWithID(typeName, id)
	if err != nil {
		return err
	}
	obj.SetPosition(position)
	obj.SetRotation(rotation)
	obj.SetReplicates(true)
	return nil
}

func (e *Engine) handleDestroy(pkt *protocol.Packet) error {
	id, err := pkt.Body.ReadUint32()
	if err != nil {
		return err
	}
	e.registry.DestroyByID(id)
	return nil
}

// handleUpdate decodes each (name, kind, value) tuple exactly once and
// branches immediately — values for unknown names or mismatched kinds are
// stepped over, never failing the whole packet.
func (e *Engine) handleUpdate(pkt *protocol.Packet) error {
	id, err := pkt.Body.ReadUint32()
	if err != nil {
		return err
	}
	count, err := pkt.Body.ReadUint32()
	if err != nil {
		return err
	}

	obj, found := e.registry.ByID(id)
	if !found {
		util.LogDebug("update for unknown object %d", id)
	}

	for i := uint32(0); i < count; i++ {
		name, err := pkt.Body.ReadString()
		if err != nil {
			return err
		}
		kindTag, err := pkt.Body.ReadUint8()
		if err != nil {
			return err
		}
		kind := Kind(kindTag)

		if !found {
			if err := Discard(kind, pkt.Body); err != nil {
				return err
			}
			continue
		}

		prop, ok := obj.Property(name)
		if !ok || prop.Kind() != kind {
			if !ok {
				util.LogDebug("update for unknown property %q on object %d", name, id)
			}
			if err := Discard(kind, pkt.Body); err != nil {
				return err
			}
			continue
		}

		if err := prop.Decode(pkt.Body); err != nil {
			return err
		}
	}

	if found {
		obj.OnReplicated()
	}
	return nil
}
