package world

import (
	"testing"
	"time"

	"github.com/1ureka/1ureka.net.sync/internal/codec"
	"github.com/1ureka/1ureka.net.sync/internal/replication"
)

// crate is a small concrete object exercising the embed pattern plus every
// optional hook.
type crate struct {
	BaseObject

	Weight int32

	updates   int
	spawned   bool
	destroyed bool
}

func newCrate() *crate {
	c := &crate{Weight: 10}
	c.DeclareProperty("weight", replication.Int32{P: &c.Weight})
	return c
}

func (c *crate) TypeName() string        { return "crate" }
func (c *crate) Update(dt time.Duration) { c.updates++ }
func (c *crate) OnSpawn()                { c.spawned = true }
func (c *crate) OnDestroy()              { c.destroyed = true }

// TestSpawnAssignsIDs verifies host-side spawning: ids start at 1, are
// unique, and the spawn hook fires.
func TestSpawnAssignsIDs(t *testing.T) {
	w := New()

	a := newCrate()
	b := newCrate()
	w.Spawn(a)
	w.Spawn(b)

	if a.NetID() != 1 || b.NetID() != 2 {
		t.Errorf("ids: got %d and %d, want 1 and 2", a.NetID(), b.NetID())
	}
	if !a.spawned || !b.spawned {
		t.Error("OnSpawn did not fire")
	}
	if w.Len() != 2 {
		t.Errorf("Len: got %d, want 2", w.Len())
	}

	got, ok := w.ByID(a.NetID())
	if !ok || got != replication.Object(a) {
		t.Error("ByID did not return the spawned object")
	}
}

// TestSpawnWithID verifies peer-side spawning by type name, including the
// unknown-type and id-collision failures.
func TestSpawnWithID(t *testing.T) {
	w := New()
	w.RegisterType("crate", func() replication.Object { return newCrate() })

	obj, err := w.SpawnWithID("crate", 42)
	if err != nil {
		t.Fatalf("SpawnWithID failed: %v", err)
	}
	if obj.NetID() != 42 {
		t.Errorf("id: got %d, want 42", obj.NetID())
	}

	if _, err := w.SpawnWithID("barrel", 43); err == nil {
		t.Error("unknown type accepted")
	}
	if _, err := w.SpawnWithID("crate", 42); err == nil {
		t.Error("id collision accepted")
	}
	if w.Len() != 1 {
		t.Errorf("failed spawns leaked objects: Len=%d", w.Len())
	}
}

// TestDeferredDestroy verifies that destruction lands at the end of the
// tick, fires the destroy hook once, and deduplicates repeated requests.
func TestDeferredDestroy(t *testing.T) {
	w := New()
	c := newCrate()
	w.Spawn(c)

	w.DestroyByID(c.NetID())
	w.DestroyByID(c.NetID()) // duplicate request
	if w.Len() != 1 {
		t.Fatal("object destroyed before the tick")
	}

	w.Tick(16 * time.Millisecond)

	if w.Len() != 0 {
		t.Errorf("Len after tick: got %d, want 0", w.Len())
	}
	if !c.destroyed {
		t.Error("OnDestroy did not fire")
	}

	// A second tick must not re-destroy or panic.
	w.Tick(16 * time.Millisecond)
}

// TestDestroyUnknownIgnored verifies that destroying an id the world does
// not know is a no-op.
func TestDestroyUnknownIgnored(t *testing.T) {
	w := New()
	w.DestroyByID(99)
	w.Tick(time.Millisecond)
}

// TestTickUpdatesObjects verifies that Updatable objects get their per-tick
// hook while plain objects are left alone.
func TestTickUpdatesObjects(t *testing.T) {
	w := New()
	c := newCrate()
	w.Spawn(c)

	w.Tick(16 * time.Millisecond)
	w.Tick(16 * time.Millisecond)

	if c.updates != 2 {
		t.Errorf("updates: got %d, want 2", c.updates)
	}
}

// TestDeclareProperty verifies declaration order, lookup, and that
// redeclaring a name replaces the accessor in place.
func TestDeclareProperty(t *testing.T) {
	c := newCrate()
	var label string
	c.DeclareProperty("label", replication.String{P: &label})

	props := c.Properties()
	if len(props) != 2 || props[0].Name != "weight" || props[1].Name != "label" {
		t.Fatalf("declaration order: got %v", props)
	}

	// Redeclare weight; order must not change.
	var altWeight int32
	c.DeclareProperty("weight", replication.Int32{P: &altWeight})
	props = c.Properties()
	if props[0].Name != "weight" || len(props) != 2 {
		t.Errorf("redeclare broke ordering: got %v", props)
	}

	prop, ok := c.Property("weight")
	if !ok {
		t.Fatal("Property lookup failed")
	}
	altWeight = 77
	raw := replication.RawBytes(prop)
	b := codec.FromBytes(raw)
	if v, _ := b.ReadInt32(); v != 77 {
		t.Errorf("replaced accessor not in effect: got %d", v)
	}
}

// TestDefaultRotationIsIdentity verifies that an object that never set a
// rotation reports the identity quaternion, not the zero value.
func TestDefaultRotationIsIdentity(t *testing.T) {
	c := newCrate()
	if c.Rotation() != codec.IdentityQuat {
		t.Errorf("Rotation: got %+v, want identity", c.Rotation())
	}

	q := codec.Quat{W: 0.5, X: 0.5, Y: 0.5, Z: 0.5}
	c.SetRotation(q)
	if c.Rotation() != q {
		t.Errorf("Rotation after set: got %+v, want %+v", c.Rotation(), q)
	}
}
