// Package codec implements the binary wire format used by every packet
// payload: a growable byte buffer with independent write and read cursors.
// All multi-byte values are little-endian on the wire.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned by every Read* method when fewer bytes remain
// than the value requires. The read cursor is left untouched on failure.
var ErrShortBuffer = errors.New("codec: read past end of buffer")

// Buffer is an append-only byte buffer with separate write and read cursors.
// Writing always appends at the end; reading consumes from the front and is
// bounds-checked against the written region, never the underlying capacity.
// The zero value is ready to use.
type Buffer struct {
	data []byte
	read int
}

// New creates an empty Buffer with a small default capacity.
func New() *Buffer {
	return &Buffer{data: make([]byte, 0, 256)}
}

// NewSize creates an empty Buffer with the given initial capacity.
func NewSize(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromBytes creates a Buffer holding a copy of data, with the read cursor
// at the start. The copy keeps the Buffer independent of the caller's slice.
func FromBytes(data []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(data))}
	copy(b.data, data)
	return b
}

// Bytes returns the written region of the buffer. The slice aliases the
// internal storage and is invalidated by the next write.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.read }

// CanRead reports whether n more bytes can be read.
func (b *Buffer) CanRead(n int) bool { return b.read+n <= len(b.data) }

// ResetRead rewinds the read cursor to the start so the buffer can be
// reparsed from the beginning.
func (b *Buffer) ResetRead() { b.read = 0 }

// Reset discards all written data and rewinds both cursors.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.read = 0
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// Write appends raw bytes, growing the buffer as needed.
func (b *Buffer) Write(p []byte) {
	b.data = append(b.data, p...)
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

func (b *Buffer) WriteInt8(v int8)   { b.WriteUint8(uint8(v)) }
func (b *Buffer) WriteUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) WriteInt16(v int16) { b.WriteUint16(uint16(v)) }
func (b *Buffer) WriteUint16(v uint16) {
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
}

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }
func (b *Buffer) WriteUint32(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

func (b *Buffer) WriteInt64(v int64) { b.WriteUint64(uint64(v)) }
func (b *Buffer) WriteUint64(v uint64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
}

func (b *Buffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }
func (b *Buffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

// WriteString appends a length-prefixed string: a uint32 byte count
// followed by the raw bytes.
func (b *Buffer) WriteString(v string) {
	b.WriteUint32(uint32(len(v)))
	b.data = append(b.data, v...)
}

// WriteVec3 appends the three components as float32s.
func (b *Buffer) WriteVec3(v Vec3) {
	b.WriteFloat32(v.X)
	b.WriteFloat32(v.Y)
	b.WriteFloat32(v.Z)
}

// WriteQuat appends the four components as float32s, scalar first.
func (b *Buffer) WriteQuat(q Quat) {
	b.WriteFloat32(q.W)
	b.WriteFloat32(q.X)
	b.WriteFloat32(q.Y)
	b.WriteFloat32(q.Z)
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// Read consumes and returns the next n bytes. The returned slice aliases
// the internal storage; copy it if it must outlive the buffer.
func (b *Buffer) Read(n int) ([]byte, error) {
	if !b.CanRead(n) {
		return nil, ErrShortBuffer
	}
	p := b.data[b.read : b.read+n]
	b.read += n
	return p, nil
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

func (b *Buffer) ReadInt8() (int8, error) {
	v, err := b.ReadUint8()
	return int8(v), err
}

func (b *Buffer) ReadUint8() (uint8, error) {
	if !b.CanRead(1) {
		return 0, ErrShortBuffer
	}
	v := b.data[b.read]
	b.read++
	return v, nil
}

func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString consumes a length-prefixed string. The declared length is
// checked against the remaining bytes before anything is consumed past the
// prefix, so a lying prefix cannot drag the cursor out of bounds.
func (b *Buffer) ReadString() (string, error) {
	length, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	p, err := b.Read(int(length))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (b *Buffer) ReadVec3() (Vec3, error) {
	var v Vec3
	var err error
	if v.X, err = b.ReadFloat32(); err != nil {
		return Vec3{}, err
	}
	if v.Y, err = b.ReadFloat32(); err != nil {
		return Vec3{}, err
	}
	if v.Z, err = b.ReadFloat32(); err != nil {
		return Vec3{}, err
	}
	return v, nil
}

func (b *Buffer) ReadQuat() (Quat, error) {
	var q Quat
	var err error
	if q.W, err = b.ReadFloat32(); err != nil {
		return Quat{}, err
	}
	if q.X, err = b.ReadFloat32(); err != nil {
		return Quat{}, err
	}
	if q.Y, err = b.ReadFloat32(); err != nil {
		return Quat{}, err
	}
	if q.Z, err = b.ReadFloat32(); err != nil {
		return Quat{}, err
	}
	return q, nil
}
