package world

import (
	"github.com/1ureka/1ureka.net.sync/internal/codec"
	"github.com/1ureka/1ureka.net.sync/internal/replication"
)

// BaseObject carries the networking state every replicable object needs:
// net id, transform, the replicate flag, and the declared property table.
// Concrete types embed it and add their own TypeName plus properties:
//
//	type Player struct {
//		world.BaseObject
//		Health int32
//	}
//
//	func NewPlayer() *Player {
//		p := &Player{Health: 100}
//		p.DeclareProperty("Health", replication.Int32{P: &p.Health})
//		return p
//	}
//
//	func (p *Player) TypeName() string { return "Player" }
type BaseObject struct {
	id         uint32
	replicates bool

	position codec.Vec3
	rotation codec.Quat

	propOrder []replication.Property
	propIndex map[string]replication.Property
}

func (o *BaseObject) NetID() uint32      { return o.id }
func (o *BaseObject) SetNetID(id uint32) { o.id = id }

func (o *BaseObject) Replicates() bool     { return o.replicates }
func (o *BaseObject) SetReplicates(v bool) { o.replicates = v }

func (o *BaseObject) Position() codec.Vec3     { return o.position }
func (o *BaseObject) SetPosition(p codec.Vec3) { o.position = p }

func (o *BaseObject) Rotation() codec.Quat {
	if o.rotation == (codec.Quat{}) {
		return codec.IdentityQuat
	}
	return o.rotation
}
func (o *BaseObject) SetRotation(r codec.Quat) { o.rotation = r }

// DeclareProperty binds a named value accessor to this object. Declare
// once, in the constructor; redeclaring a name replaces the accessor but
// keeps the original declaration order.
func (o *BaseObject) DeclareProperty(name string, value replication.Value) {
	if o.propIndex == nil {
		o.propIndex = make(map[string]replication.Property)
	}

	prop := replication.Property{Name: name, Value: value}
	if _, exists := o.propIndex[name]; exists {
		for i := range o.propOrder {
			if o.propOrder[i].Name == name {
				o.propOrder[i] = prop
				break
			}
		}
	} else {
		o.propOrder = append(o.propOrder, prop)
	}
	o.propIndex[name] = prop
}

// Properties returns the declared properties in declaration order, keeping
// the wire layout of update packets deterministic.
func (o *BaseObject) Properties() []replication.Property { return o.propOrder }

// Property looks up a declared property by name.
func (o *BaseObject) Property(name string) (replication.Property, bool) {
	prop, ok := o.propIndex[name]
	return prop, ok
}

// OnReplicated is a no-op by default; concrete types override it to react
// to applied updates.
func (o *BaseObject) OnReplicated() {}
