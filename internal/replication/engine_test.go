package replication

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/codec"
	"github.com/1ureka/1ureka.net.sync/internal/driver"
	"github.com/1ureka/1ureka.net.sync/internal/protocol"
	"github.com/1ureka/1ureka.net.sync/internal/transport"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// testObject is a minimal Object with a health and a name property.
type testObject struct {
	id         uint32
	replicates bool
	position   codec.Vec3
	rotation   codec.Quat

	health int32
	label  string

	props      []Property
	replicated int
}

func newTestObject(id uint32) *testObject {
	o := &testObject{id: id, health: 100, label: "unit"}
	o.props = []Property{
		{Name: "health", Value: Int32{P: &o.health}},
		{Name: "label", Value: String{P: &o.label}},
	}
	return o
}

func (o *testObject) NetID() uint32            { return o.id }
func (o *testObject) SetNetID(id uint32)       { o.id = id }
func (o *testObject) TypeName() string         { return "unit" }
func (o *testObject) Replicates() bool         { return o.replicates }
func (o *testObject) SetReplicates(v bool)     { o.replicates = v }
func (o *testObject) Position() codec.Vec3     { return o.position }
func (o *testObject) SetPosition(p codec.Vec3) { o.position = p }
func (o *testObject) Rotation() codec.Quat     { return o.rotation }
func (o *testObject) SetRotation(r codec.Quat) { o.rotation = r }
func (o *testObject) Properties() []Property   { return o.props }
func (o *testObject) OnReplicated()            { o.replicated++ }

func (o *testObject) Property(name string) (Property, bool) {
	for _, p := range o.props {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// testRegistry is an in-memory Registry that only knows the "unit" type.
type testRegistry struct {
	objects map[uint32]*testObject
}

func newTestRegistry() *testRegistry {
	return &testRegistry{objects: make(map[uint32]*testObject)}
}

func (r *testRegistry) SpawnWithID(typeName string, id uint32) (Object, error) {
	if typeName != "unit" {
		return nil, errors.Errorf("unknown type %q", typeName)
	}
	if _, exists := r.objects[id]; exists {
		return nil, errors.Errorf("id %d already in use", id)
	}
	o := newTestObject(id)
	o.health = 0
	o.label = ""
	r.objects[id] = o
	return o, nil
}

func (r *testRegistry) DestroyByID(id uint32) { delete(r.objects, id) }

func (r *testRegistry) ByID(id uint32) (Object, bool) {
	o, ok := r.objects[id]
	if !ok {
		return nil, false
	}
	return o, true
}

// session is a connected host/peer pair with an engine on each side.
type session struct {
	server *driver.Driver
	client *driver.Driver

	hostEngine *Engine
	peerEngine *Engine
	peerReg    *testRegistry

	spawns, updates, destroys int
}

func newSession(t *testing.T) *session {
	t.Helper()

	net := transport.NewMemoryNetwork()
	hostCh := net.Open(0)

	server, err := driver.NewListener(hostCh, 4)
	if err != nil {
		t.Fatalf("NewListener failed: %v", err)
	}
	client, err := driver.NewDialer(net.Open(0))
	if err != nil {
		t.Fatalf("NewDialer failed: %v", err)
	}
	if _, err := client.Connect(hostCh.LocalEndpoint()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	s := &session{
		server:     server,
		client:     client,
		hostEngine: NewEngine(newTestRegistry(), 30),
		peerReg:    newTestRegistry(),
	}
	s.peerEngine = NewEngine(s.peerReg, 30)

	client.OnPacket(func(conn *driver.Connection, pkt *protocol.Packet) {
		switch pkt.Header.Type {
		case protocol.TypeSpawn:
			s.spawns++
		case protocol.TypeUpdate:
			s.updates++
		case protocol.TypeDestroy:
			s.destroys++
		default:
			return
		}
		s.peerEngine.HandleInbound(conn, pkt)
	})

	s.pump()
	if server.Len() != 1 {
		t.Fatal("handshake did not complete")
	}
	return s
}

// pump ticks both drivers enough for queued packets to settle.
func (s *session) pump() {
	for i := 0; i < 6; i++ {
		s.client.Tick(16 * time.Millisecond)
		s.server.Tick(16 * time.Millisecond)
	}
}

// replicate runs one full replication interval on the host and delivers it.
func (s *session) replicate() {
	s.hostEngine.Tick(time.Second, s.server)
	s.pump()
}

// ---------------------------------------------------------------------------
// Host → peer flow
// ---------------------------------------------------------------------------

// TestSpawnThenDeltaUpdates walks the core replication flow: the first pass
// announces the object, an unchanged object generates no traffic, and a
// change produces exactly one update that lands on the mirror.
func TestSpawnThenDeltaUpdates(t *testing.T) {
	s := newSession(t)

	obj := newTestObject(1)
	obj.SetReplicates(true)
	obj.SetPosition(codec.Vec3{X: 10})
	s.hostEngine.Register(obj)

	s.replicate()
	if s.spawns != 1 {
		t.Fatalf("spawns: got %d, want 1", s.spawns)
	}
	mirror, ok := s.peerReg.objects[1]
	if !ok {
		t.Fatal("mirror not spawned on the peer")
	}
	if mirror.Position().X != 10 {
		t.Errorf("mirror position: got %v", mirror.Position())
	}
	if !mirror.Replicates() {
		t.Error("mirror not flagged replicable")
	}

	// Nothing changed; the spawn snapshot must suppress a first update.
	s.replicate()
	if s.updates != 0 {
		t.Fatalf("updates for an unchanged object: got %d, want 0", s.updates)
	}

	obj.health = 55
	s.replicate()
	if s.updates != 1 {
		t.Fatalf("updates after one change: got %d, want 1", s.updates)
	}
	if mirror.health != 55 {
		t.Errorf("mirror health: got %d, want 55", mirror.health)
	}
	if mirror.replicated == 0 {
		t.Error("OnReplicated never fired on the mirror")
	}

	// The new value becomes the snapshot; no repeat next interval.
	s.replicate()
	if s.updates != 1 {
		t.Errorf("update repeated without a change: got %d", s.updates)
	}
}

// TestNonReplicableIgnored verifies that Register drops objects without the
// replicates flag.
func TestNonReplicableIgnored(t *testing.T) {
	s := newSession(t)

	obj := newTestObject(1)
	s.hostEngine.Register(obj)
	s.replicate()

	if s.spawns != 0 {
		t.Errorf("spawns for a non-replicable object: got %d", s.spawns)
	}
}

// TestUnregisterSendsDestroy verifies that unregistering an announced
// object destroys its mirror on every peer that saw it.
func TestUnregisterSendsDestroy(t *testing.T) {
	s := newSession(t)

	obj := newTestObject(1)
	obj.SetReplicates(true)
	s.hostEngine.Register(obj)
	s.replicate()
	if _, ok := s.peerReg.objects[1]; !ok {
		t.Fatal("mirror not spawned")
	}

	s.hostEngine.Unregister(obj, s.server)
	s.pump()

	if s.destroys != 1 {
		t.Errorf("destroys: got %d, want 1", s.destroys)
	}
	if _, ok := s.peerReg.objects[1]; ok {
		t.Error("mirror still alive after destroy")
	}

	// Unregistering again must be a no-op.
	s.hostEngine.Unregister(obj, s.server)
	s.pump()
	if s.destroys != 1 {
		t.Errorf("destroy repeated: got %d", s.destroys)
	}
}

// TestRemovePeerForgetsAnnouncements verifies that dropping a peer's state
// makes the next pass re-announce from scratch.
func TestRemovePeerForgetsAnnouncements(t *testing.T) {
	s := newSession(t)

	obj := newTestObject(1)
	obj.SetReplicates(true)
	s.hostEngine.Register(obj)
	s.replicate()
	if s.spawns != 1 {
		t.Fatalf("spawns: got %d, want 1", s.spawns)
	}

	s.hostEngine.RemovePeer(s.client.Remote().Endpoint())
	s.replicate()

	if s.spawns != 2 {
		t.Errorf("spawns after state drop: got %d, want 2", s.spawns)
	}
}

// TestUpdateCarriesOnlyChangedProperties decodes an update off the wire and
// verifies it names just the property that moved.
func TestUpdateCarriesOnlyChangedProperties(t *testing.T) {
	s := newSession(t)

	var captured *protocol.Packet
	s.client.OnPacket(func(_ *driver.Connection, pkt *protocol.Packet) {
		if pkt.Header.Type == protocol.TypeUpdate {
			captured = pkt
		}
	})

	obj := newTestObject(1)
	obj.SetReplicates(true)
	s.hostEngine.Register(obj)
	s.replicate()

	obj.health = 42 // label stays
	s.replicate()

	if captured == nil {
		t.Fatal("no update captured")
	}
	id, _ := captured.Body.ReadUint32()
	count, _ := captured.Body.ReadUint32()
	if id != 1 || count != 1 {
		t.Fatalf("update header: id=%d count=%d, want id=1 count=1", id, count)
	}
	name, _ := captured.Body.ReadString()
	if name != "health" {
		t.Errorf("changed property: got %q, want \"health\"", name)
	}
}

// ---------------------------------------------------------------------------
// Inbound robustness
// ---------------------------------------------------------------------------

// TestInboundUpdateSkipsUnknowns verifies that values for unknown
// properties and mismatched kinds are stepped over without poisoning the
// rest of the packet.
func TestInboundUpdateSkipsUnknowns(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.SpawnWithID("unit", 1); err != nil {
		t.Fatalf("SpawnWithID failed: %v", err)
	}
	engine := NewEngine(reg, 30)
	conn := driver.NewConnection(transport.Endpoint{})

	pkt := protocol.New(protocol.TypeUpdate)
	pkt.Body.WriteUint32(1) // object id
	pkt.Body.WriteUint32(3) // three entries
	// 1: unknown property name
	pkt.Body.WriteString("mana")
	pkt.Body.WriteUint8(uint8(KindFloat32))
	pkt.Body.WriteFloat32(1.5)
	// 2: known name, wrong kind
	pkt.Body.WriteString("health")
	pkt.Body.WriteUint8(uint8(KindFloat64))
	pkt.Body.WriteFloat64(2.5)
	// 3: valid
	pkt.Body.WriteString("health")
	pkt.Body.WriteUint8(uint8(KindInt32))
	pkt.Body.WriteInt32(77)

	engine.HandleInbound(conn, pkt)

	mirror := reg.objects[1]
	if mirror.health != 77 {
		t.Errorf("health: got %d, want 77 (skips misaligned the cursor)", mirror.health)
	}
	if mirror.replicated != 1 {
		t.Errorf("OnReplicated calls: got %d, want 1", mirror.replicated)
	}
}

// TestInboundUpdateForUnknownObject verifies that a whole update for an
// object the registry does not know is discarded cleanly.
func TestInboundUpdateForUnknownObject(t *testing.T) {
	engine := NewEngine(newTestRegistry(), 30)
	conn := driver.NewConnection(transport.Endpoint{})

	pkt := protocol.New(protocol.TypeUpdate)
	pkt.Body.WriteUint32(99)
	pkt.Body.WriteUint32(1)
	pkt.Body.WriteString("health")
	pkt.Body.WriteUint8(uint8(KindInt32))
	pkt.Body.WriteInt32(1)

	engine.HandleInbound(conn, pkt) // must not panic
}

// TestInboundSpawnUnknownType verifies that a spawn naming an unregistered
// type is dropped without side effects.
func TestInboundSpawnUnknownType(t *testing.T) {
	reg := newTestRegistry()
	engine := NewEngine(reg, 30)
	conn := driver.NewConnection(transport.Endpoint{})

	pkt := protocol.New(protocol.TypeSpawn)
	pkt.Body.WriteUint32(1)
	pkt.Body.WriteString("dragon")
	pkt.Body.WriteVec3(codec.Vec3{})
	pkt.Body.WriteQuat(codec.IdentityQuat)

	engine.HandleInbound(conn, pkt)

	if len(reg.objects) != 0 {
		t.Errorf("registry gained %d objects from a bad spawn", len(reg.objects))
	}
}

// ---------------------------------------------------------------------------
// Relevance
// ---------------------------------------------------------------------------

// TestDistanceRelevance verifies the distance predicate, including the
// untagged-peer and unknown-viewpoint fallbacks.
func TestDistanceRelevance(t *testing.T) {
	reg := newTestRegistry()
	viewpoint, err := reg.SpawnWithID("unit", 7)
	if err != nil {
		t.Fatalf("SpawnWithID failed: %v", err)
	}
	viewpoint.SetPosition(codec.Vec3{X: 0})

	relevant := DistanceRelevance(reg, 100)

	near := newTestObject(2)
	near.SetPosition(codec.Vec3{X: 60, Y: 80}) // distance 100, inclusive

	far := newTestObject(3)
	far.SetPosition(codec.Vec3{X: 101})

	tagged := driver.NewConnection(transport.Endpoint{})
	tagged.SetTag(uint32(7))

	if !relevant(near, tagged) {
		t.Error("object at the boundary should be relevant")
	}
	if relevant(far, tagged) {
		t.Error("object past the boundary should not be relevant")
	}

	untagged := driver.NewConnection(transport.Endpoint{})
	if !relevant(far, untagged) {
		t.Error("untagged peer should see everything")
	}

	stale := driver.NewConnection(transport.Endpoint{})
	stale.SetTag(uint32(999))
	if !relevant(far, stale) {
		t.Error("peer with an unknown viewpoint should see everything")
	}
}
