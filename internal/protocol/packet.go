// Package protocol defines the packet format and type codes shared by every
// peer: a fixed 12-byte header followed by an opaque codec payload.
package protocol

import (
	"errors"
	"fmt"

	"github.com/1ureka/1ureka.net.sync/internal/codec"
)

// Magic identifies the protocol; datagrams that do not open with it are
// discarded before any further decoding.
const Magic uint32 = 0x53594E43 // "SYNC"

// HeaderSize is the fixed header size:
// Magic(4) + Sequence(4) + Type(2) + Length(2).
const HeaderSize = 12

// MaxPacketSize bounds a single serialized packet, header included.
const MaxPacketSize = 1024

// Type is the packet type code carried in the header.
type Type uint16

// Packet type constants. The numeric grouping is part of the wire format:
// 0x single digits are connection control, 10s are reliability, 20s are
// replication, 30s are RPC.
const (
	TypeConnectRequest Type = 0
	TypeConnectAccept  Type = 1
	TypeConnectDeny    Type = 2
	TypeDisconnect     Type = 3

	TypeAck       Type = 10
	TypeHeartbeat Type = 11

	TypeSpawn   Type = 20
	TypeDestroy Type = 21
	TypeUpdate  Type = 22

	TypeRPCHost Type = 30
	TypeRPCPeer Type = 31
	TypeRPCAll  Type = 32
)

// String returns a short name for log output.
func (t Type) String() string {
	switch t {
	case TypeConnectRequest:
		return "connect-request"
	case TypeConnectAccept:
		return "connect-accept"
	case TypeConnectDeny:
		return "connect-deny"
	case TypeDisconnect:
		return "disconnect"
	case TypeAck:
		return "ack"
	case TypeHeartbeat:
		return "heartbeat"
	case TypeSpawn:
		return "spawn"
	case TypeDestroy:
		return "destroy"
	case TypeUpdate:
		return "update"
	case TypeRPCHost:
		return "rpc-host"
	case TypeRPCPeer:
		return "rpc-peer"
	case TypeRPCAll:
		return "rpc-all"
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// IsRPC reports whether t is one of the three RPC type codes.
func (t Type) IsRPC() bool {
	return t == TypeRPCHost || t == TypeRPCPeer || t == TypeRPCAll
}

// Decoding errors.
var (
	ErrBadMagic  = errors.New("protocol: bad magic")
	ErrTruncated = errors.New("protocol: declared payload exceeds buffer")
)

// Header is the fixed 12-byte packet header.
type Header struct {
	Magic    uint32
	Sequence uint32
	Type     Type
	Length   uint16 // payload length in bytes
}

// Packet is one protocol message: a header plus a codec buffer body.
// Packets are transient; they are built per send or receive and only
// outlive a tick inside a connection's reliable retained-set.
type Packet struct {
	Header Header
	Body   *codec.Buffer
}

// New creates an empty packet of the given type with a fresh body buffer.
func New(t Type) *Packet {
	return &Packet{
		Header: Header{Magic: Magic, Type: t},
		Body:   codec.New(),
	}
}

// Encode serializes the packet into out. The header's Length field is
// recomputed from the current body size before it is written, so the two
// can never disagree on the wire.
func (p *Packet) Encode(out *codec.Buffer) {
	p.Header.Length = uint16(p.Body.Len())

	out.WriteUint32(p.Header.Magic)
	out.WriteUint32(p.Header.Sequence)
	out.WriteUint16(uint16(p.Header.Type))
	out.WriteUint16(p.Header.Length)
	out.Write(p.Body.Bytes())
}

// Marshal serializes the packet into a fresh byte slice.
func (p *Packet) Marshal() []byte {
	out := codec.NewSize(HeaderSize + p.Body.Len())
	p.Encode(out)
	return out.Bytes()
}

// Decode reads one packet from in. It fails with ErrBadMagic when the
// magic does not match and with ErrTruncated when the header declares more
// payload than in still holds. On success the body is an independent
// buffer with its read cursor at its own start.
func Decode(in *codec.Buffer) (*Packet, error) {
	var h Header
	var err error

	if h.Magic, err = in.ReadUint32(); err != nil {
		return nil, err
	}
	if h.Magic != Magic {
		return nil, ErrBadMagic
	}
	if h.Sequence, err = in.ReadUint32(); err != nil {
		return nil, err
	}
	t, err := in.ReadUint16()
	if err != nil {
		return nil, err
	}
	h.Type = Type(t)
	if h.Length, err = in.ReadUint16(); err != nil {
		return nil, err
	}

	if !in.CanRead(int(h.Length)) {
		return nil, ErrTruncated
	}
	payload, err := in.Read(int(h.Length))
	if err != nil {
		return nil, err
	}

	return &Packet{Header: h, Body: codec.FromBytes(payload)}, nil
}

// Unmarshal decodes one packet from a raw datagram.
func Unmarshal(data []byte) (*Packet, error) {
	return Decode(codec.FromBytes(data))
}
