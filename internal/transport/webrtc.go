package transport

import (
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// highWaterMark pauses sending (ErrWouldBlock) while the DataChannel's
// SCTP buffer holds more than this many bytes.
const highWaterMark = 256 * 1024

// STUN servers for ICE candidate gathering. No TURN — the adapter targets
// direct P2P connectivity with zero infrastructure cost.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// NewPeerConnection creates a PeerConnection configured with Google STUN
// servers. Signaling (offer/answer + ICE exchange) is up to the caller.
func NewPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// NewUnreliableDataChannel creates a pre-negotiated DataChannel with
// ordering and retransmission disabled, giving the unordered best-effort
// delivery the protocol expects. Negotiated mode (ID 0) lets both sides
// create the channel independently without relying on OnDataChannel.
func NewUnreliableDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	maxRetransmits := uint16(0)
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("netsync", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}

// DataChannelAdapter presents an open, unreliable DataChannel as a
// point-to-point DatagramChannel. The channel has no real transport
// addresses, so the caller assigns synthetic local and remote endpoints;
// every received datagram is attributed to the remote endpoint.
type DataChannelAdapter struct {
	dc     *webrtc.DataChannel
	local  Endpoint
	remote Endpoint
	inbox  chan []byte
}

// NewDataChannelAdapter wraps dc. Inbound messages beyond the inbox
// capacity are dropped; the transport is lossy by contract.
func NewDataChannelAdapter(dc *webrtc.DataChannel, local, remote Endpoint) *DataChannelAdapter {
	a := &DataChannelAdapter{
		dc:     dc,
		local:  local,
		remote: remote,
		inbox:  make(chan []byte, inboxCapacity),
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case a.inbox <- msg.Data:
		default:
		}
	})

	return a
}

// SendTo ignores the destination endpoint — the channel is point-to-point.
func (a *DataChannelAdapter) SendTo(p []byte, _ Endpoint) (int, error) {
	if a.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return 0, ErrClosed
	}
	if a.dc.BufferedAmount() > highWaterMark {
		return 0, ErrWouldBlock
	}
	if err := a.dc.Send(p); err != nil {
		return 0, errors.Wrap(err, "datachannel send failed")
	}
	return len(p), nil
}

func (a *DataChannelAdapter) ReceiveFrom(p []byte) (int, Endpoint, error) {
	select {
	case data := <-a.inbox:
		return copy(p, data), a.remote, nil
	default:
		return 0, Endpoint{}, ErrWouldBlock
	}
}

func (a *DataChannelAdapter) LocalEndpoint() Endpoint { return a.local }

// RemoteEndpoint returns the synthetic endpoint of the single peer.
func (a *DataChannelAdapter) RemoteEndpoint() Endpoint { return a.remote }

func (a *DataChannelAdapter) Close() error { return a.dc.Close() }
