// Package world is the object registry: it creates objects by type name,
// tracks them by net id, updates them once per tick, and destroys them at
// the end of the tick in which destruction was requested.
package world

import (
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/replication"
	"github.com/1ureka/1ureka.net.sync/internal/util"
)

// Factory builds a fresh, id-less object of one registered type.
type Factory func() replication.Object

// Updatable is implemented by objects that want a per-tick update hook.
type Updatable interface {
	Update(dt time.Duration)
}

// Optional lifecycle hooks.
type (
	spawnHook   interface{ OnSpawn() }
	destroyHook interface{ OnDestroy() }
)

// World owns all application objects. It satisfies replication.Registry
// and the RPC resolver boundary. Not safe for concurrent use; everything
// runs on the tick goroutine.
type World struct {
	factories map[string]Factory
	objects   map[uint32]replication.Object

	nextID         uint32
	pendingDestroy []uint32
}

// New creates an empty world. Net ids start at 1; id 0 means "not
// networked".
func New() *World {
	return &World{
		factories: make(map[string]Factory),
		objects:   make(map[uint32]replication.Object),
		nextID:    1,
	}
}

// RegisterType makes typeName spawnable by name (required before a remote
// spawn for that type can be honored).
func (w *World) RegisterType(typeName string, factory Factory) {
	w.factories[typeName] = factory
	util.LogDebug("registered object type %q", typeName)
}

// Spawn adds an object under a freshly generated net id (host side).
func (w *World) Spawn(obj replication.Object) replication.Object {
	if obj == nil {
		return nil
	}
	obj.SetNetID(w.generateID())
	w.adopt(obj)
	return obj
}

// SpawnWithID instantiates a registered type under a host-assigned id
// (peer side, driven by inbound spawn packets).
func (w *World) SpawnWithID(typeName string, id uint32) (replication.Object, error) {
	factory, ok := w.factories[typeName]
	if !ok {
		return nil, errors.Errorf("world: type %q not registered", typeName)
	}
	if _, exists := w.objects[id]; exists {
		return nil, errors.Errorf("world: net id %d already in use", id)
	}

	obj := factory()
	obj.SetNetID(id)
	w.adopt(obj)
	return obj, nil
}

func (w *World) adopt(obj replication.Object) {
	w.objects[obj.NetID()] = obj
	if hook, ok := obj.(spawnHook); ok {
		hook.OnSpawn()
	}
}

// DestroyByID schedules the object for destruction at the end of the
// current tick. Unknown ids are ignored.
func (w *World) DestroyByID(id uint32) {
	if _, ok := w.objects[id]; !ok {
		return
	}
	for _, pending := range w.pendingDestroy {
		if pending == id {
			return
		}
	}
	w.pendingDestroy = append(w.pendingDestroy, id)
}

// ByID returns the object with the given net id.
func (w *World) ByID(id uint32) (replication.Object, bool) {
	obj, ok := w.objects[id]
	return obj, ok
}

// All returns a derived snapshot of every live object.
func (w *World) All() []replication.Object {
	out := make([]replication.Object, 0, len(w.objects))
	for _, obj := range w.objects {
		out = append(out, obj)
	}
	return out
}

// Len returns the number of live objects.
func (w *World) Len() int { return len(w.objects) }

// Tick updates every object, then destroys whatever was scheduled during
// the tick.
func (w *World) Tick(dt time.Duration) {
	for _, obj := range w.objects {
		if up, ok := obj.(Updatable); ok {
			up.Update(dt)
		}
	}

	for _, id := range w.pendingDestroy {
		obj, ok := w.objects[id]
		if !ok {
			continue
		}
		if hook, ok := obj.(destroyHook); ok {
			hook.OnDestroy()
		}
		delete(w.objects, id)
	}
	w.pendingDestroy = w.pendingDestroy[:0]
}

func (w *World) generateID() uint32 {
	id := w.nextID
	w.nextID++
	return id
}
