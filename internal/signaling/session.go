package signaling

import (
	"context"
	"encoding/json"
	"net/netip"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/transport"
	"github.com/1ureka/1ureka.net.sync/internal/util"
)

// Synthetic endpoints for the point-to-point DataChannel; it has no real
// transport addresses, but the connection table still needs stable keys.
var (
	hostEndpoint = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 1)
	peerEndpoint = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 2)
)

// session drives one SDP/ICE exchange over an established WebSocket until
// the DataChannel opens.
type session struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	ws   *websocket.Conn
	wsMu sync.Mutex

	open     chan struct{}
	openOnce sync.Once
}

func newSession(ws *websocket.Conn) (*session, error) {
	pc, err := transport.NewPeerConnection()
	if err != nil {
		return nil, errors.Wrap(err, "signaling: peer connection failed")
	}
	dc, err := transport.NewUnreliableDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "signaling: data channel failed")
	}

	s := &session{pc: pc, dc: dc, ws: ws, open: make(chan struct{})}

	dc.OnOpen(func() {
		s.openOnce.Do(func() { close(s.open) })
	})

	// Trickle ICE: forward every candidate as it is found.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		s.send(message{Type: msgCandidate, Candidate: string(data)})
	})

	return s, nil
}

// send writes one signaling message; failures after the channel opened are
// expected (the link is being torn down) and ignored.
func (s *session) send(msg message) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if err := s.ws.WriteJSON(msg); err != nil {
		select {
		case <-s.open:
		default:
			util.LogDebug("signaling send: %v", err)
		}
	}
}

// watch consumes signaling messages until the link dies. The answering
// side responds to the offer inline.
func (s *session) watch() error {
	for {
		var msg message
		if err := s.ws.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case msgOffer:
			if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			answer, err := s.pc.CreateAnswer(nil)
			if err != nil {
				return err
			}
			if err := s.pc.SetLocalDescription(answer); err != nil {
				return err
			}
			s.send(message{Type: msgAnswer, SDP: answer.SDP})

		case msgAnswer:
			if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case msgCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				continue
			}
			if err := s.pc.AddICECandidate(init); err != nil {
				util.LogDebug("signaling: add candidate: %v", err)
			}
		}
	}
}

// establish runs the exchange to completion. The offering side kicks it off;
// both sides then wait for the DataChannel to open.
func (s *session) establish(ctx context.Context, offerer bool) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.watch() }()

	if offerer {
		offer, err := s.pc.CreateOffer(nil)
		if err != nil {
			return errors.Wrap(err, "signaling: create offer failed")
		}
		if err := s.pc.SetLocalDescription(offer); err != nil {
			return errors.Wrap(err, "signaling: set local description failed")
		}
		s.send(message{Type: msgOffer, SDP: offer.SDP})
	}

	select {
	case <-s.open:
		s.ws.Close()
		return nil

	case err := <-errCh:
		// The read loop dying right as the channel opened is a race we
		// resolve in the channel's favor.
		select {
		case <-s.open:
			s.ws.Close()
			return nil
		default:
		}
		s.pc.Close()
		return errors.Wrap(err, "signaling failed")

	case <-ctx.Done():
		s.pc.Close()
		return ctx.Err()
	}
}

// EstablishAsHost serves one signaling exchange on addr (empty for an
// ephemeral port) and returns the open transport. The peer needs the
// printed pin to get through.
func EstablishAsHost(ctx context.Context, addr string) (transport.DatagramChannel, error) {
	srv := newServer()
	port, err := srv.start(addr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	util.LogInfo("signaling on port %d, peers connect with -signal \"ws://<host>:%d/ws?pin=%s\"",
		port, port, srv.pin)

	ws, err := srv.waitForPeer(ctx)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	s, err := newSession(ws)
	if err != nil {
		return nil, err
	}
	if err := s.establish(ctx, true); err != nil {
		return nil, err
	}

	util.LogSuccess("data channel established")
	return transport.NewDataChannelAdapter(s.dc, hostEndpoint, peerEndpoint), nil
}

// EstablishAsClient dials a host's signaling URL and returns the open
// transport.
func EstablishAsClient(ctx context.Context, url string) (transport.DatagramChannel, error) {
	ws, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	s, err := newSession(ws)
	if err != nil {
		return nil, err
	}
	if err := s.establish(ctx, false); err != nil {
		return nil, err
	}

	util.LogSuccess("data channel established")
	return transport.NewDataChannelAdapter(s.dc, peerEndpoint, hostEndpoint), nil
}
