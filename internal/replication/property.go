// Package replication implements delta-based state replication: announcing
// objects to peers, detecting changed properties against per-peer
// snapshots, and applying inbound spawn/destroy/update packets.
package replication

import (
	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/codec"
)

// Kind tags the wire encoding of a property value.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindVec3
	KindQuat
)

// ErrKindMismatch is returned when an inbound value's kind tag does not
// match the declared property.
var ErrKindMismatch = errors.New("replication: value kind mismatch")

// Value is a tagged accessor bound to one live value on an object. Each
// kind bundles its own encode and decode, so property handling never deals
// in untyped pointers or byte sizes.
type Value interface {
	Kind() Kind
	// Encode appends the current live value to b.
	Encode(b *codec.Buffer)
	// Decode reads one value of this kind from b into the live value.
	Decode(b *codec.Buffer) error
}

// Property is one declared replicated property: a name plus its bound
// value accessor. Declared once per object instance.
type Property struct {
	Name string
	Value
}

// RawBytes returns the wire encoding of the current value. It is the
// byte-wise comparison key for delta detection.
func RawBytes(v Value) []byte {
	b := codec.New()
	v.Encode(b)
	return b.Bytes()
}

// SetRawBytes sets the live value from a previously captured encoding.
func SetRawBytes(v Value, raw []byte) error {
	return v.Decode(codec.FromBytes(raw))
}

// Discard consumes one encoded value of the given kind without applying it
// anywhere. Used to step over values for properties the local object does
// not declare.
func Discard(kind Kind, b *codec.Buffer) error {
	var err error
	switch kind {
	case KindBool:
		_, err = b.ReadBool()
	case KindInt32, KindUint32:
		_, err = b.ReadUint32()
	case KindInt64, KindUint64:
		_, err = b.ReadUint64()
	case KindFloat32:
		_, err = b.ReadFloat32()
	case KindFloat64:
		_, err = b.ReadFloat64()
	case KindString:
		_, err = b.ReadString()
	case KindVec3:
		_, err = b.ReadVec3()
	case KindQuat:
		_, err = b.ReadQuat()
	default:
		err = errors.Errorf("replication: unknown value kind %d", kind)
	}
	return err
}

// ---------------------------------------------------------------------------
// Per-kind accessors
// ---------------------------------------------------------------------------

// Bool binds a replicated bool.
type Bool struct{ P *bool }

func (v Bool) Kind() Kind             { return KindBool }
func (v Bool) Encode(b *codec.Buffer) { b.WriteBool(*v.P) }
func (v Bool) Decode(b *codec.Buffer) error {
	x, err := b.ReadBool()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Int32 binds a replicated int32.
type Int32 struct{ P *int32 }

func (v Int32) Kind() Kind             { return KindInt32 }
func (v Int32) Encode(b *codec.Buffer) { b.WriteInt32(*v.P) }
func (v Int32) Decode(b *codec.Buffer) error {
	x, err := b.ReadInt32()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Uint32 binds a replicated uint32.
type Uint32 struct{ P *uint32 }

func (v Uint32) Kind() Kind             { return KindUint32 }
func (v Uint32) Encode(b *codec.Buffer) { b.WriteUint32(*v.P) }
func (v Uint32) Decode(b *codec.Buffer) error {
	x, err := b.ReadUint32()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Int64 binds a replicated int64.
type Int64 struct{ P *int64 }

func (v Int64) Kind() Kind             { return KindInt64 }
func (v Int64) Encode(b *codec.Buffer) { b.WriteInt64(*v.P) }
func (v Int64) Decode(b *codec.Buffer) error {
	x, err := b.ReadInt64()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Uint64 binds a replicated uint64.
type Uint64 struct{ P *uint64 }

func (v Uint64) Kind() Kind             { return KindUint64 }
func (v Uint64) Encode(b *codec.Buffer) { b.WriteUint64(*v.P) }
func (v Uint64) Decode(b *codec.Buffer) error {
	x, err := b.ReadUint64()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Float32 binds a replicated float32.
type Float32 struct{ P *float32 }

func (v Float32) Kind() Kind             { return KindFloat32 }
func (v Float32) Encode(b *codec.Buffer) { b.WriteFloat32(*v.P) }
func (v Float32) Decode(b *codec.Buffer) error {
	x, err := b.ReadFloat32()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Float64 binds a replicated float64.
type Float64 struct{ P *float64 }

func (v Float64) Kind() Kind             { return KindFloat64 }
func (v Float64) Encode(b *codec.Buffer) { b.WriteFloat64(*v.P) }
func (v Float64) Decode(b *codec.Buffer) error {
	x, err := b.ReadFloat64()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// String binds a replicated string.
type String struct{ P *string }

func (v String) Kind() Kind             { return KindString }
func (v String) Encode(b *codec.Buffer) { b.WriteString(*v.P) }
func (v String) Decode(b *codec.Buffer) error {
	x, err := b.ReadString()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Vec3 binds a replicated three-component vector.
type Vec3 struct{ P *codec.Vec3 }

func (v Vec3) Kind() Kind             { return KindVec3 }
func (v Vec3) Encode(b *codec.Buffer) { b.WriteVec3(*v.P) }
func (v Vec3) Decode(b *codec.Buffer) error {
	x, err := b.ReadVec3()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}

// Quat binds a replicated rotation.
type Quat struct{ P *codec.Quat }

func (v Quat) Kind() Kind             { return KindQuat }
func (v Quat) Encode(b *codec.Buffer) { b.WriteQuat(*v.P) }
func (v Quat) Decode(b *codec.Buffer) error {
	x, err := b.ReadQuat()
	if err != nil {
		return err
	}
	*v.P = x
	return nil
}
