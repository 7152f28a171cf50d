package transport

import (
	"context"
	"net/netip"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocketAdapter frames one datagram per binary WebSocket message. It is
// the fallback for networks that block both UDP and WebRTC; the underlying
// TCP stream is ordered and reliable, which the protocol simply does not
// rely on.
type WebSocketAdapter struct {
	conn   *websocket.Conn
	local  Endpoint
	remote Endpoint

	inbox  chan []byte
	outbox chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// DialWebSocket connects to a WebSocket URL and wraps the connection.
func DialWebSocket(ctx context.Context, url string) (*WebSocketAdapter, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "websocket dial %s failed", url)
	}
	return NewWebSocketAdapter(conn), nil
}

// NewWebSocketAdapter wraps an established connection (dialed or upgraded).
// Reader and writer goroutines bridge the blocking websocket API to the
// non-blocking DatagramChannel contract.
func NewWebSocketAdapter(conn *websocket.Conn) *WebSocketAdapter {
	a := &WebSocketAdapter{
		conn:   conn,
		local:  endpointFromAddr(conn.LocalAddr().String()),
		remote: endpointFromAddr(conn.RemoteAddr().String()),
		inbox:  make(chan []byte, inboxCapacity),
		outbox: make(chan []byte, inboxCapacity),
		done:   make(chan struct{}),
	}

	go a.readLoop()
	go a.writeLoop()

	return a
}

func (a *WebSocketAdapter) readLoop() {
	for {
		kind, data, err := a.conn.ReadMessage()
		if err != nil {
			a.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case a.inbox <- data:
		default:
			// inbox full — drop, the transport contract is best-effort
		}
	}
}

func (a *WebSocketAdapter) writeLoop() {
	for {
		select {
		case data := <-a.outbox:
			if err := a.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				a.Close()
				return
			}
		case <-a.done:
			return
		}
	}
}

// SendTo ignores the destination endpoint — the connection is
// point-to-point. A full outbox reports ErrWouldBlock.
func (a *WebSocketAdapter) SendTo(p []byte, _ Endpoint) (int, error) {
	select {
	case <-a.done:
		return 0, ErrClosed
	default:
	}

	data := make([]byte, len(p))
	copy(data, p)

	select {
	case a.outbox <- data:
		return len(p), nil
	default:
		return 0, ErrWouldBlock
	}
}

func (a *WebSocketAdapter) ReceiveFrom(p []byte) (int, Endpoint, error) {
	select {
	case <-a.done:
		return 0, Endpoint{}, ErrClosed
	default:
	}

	select {
	case data := <-a.inbox:
		return copy(p, data), a.remote, nil
	default:
		return 0, Endpoint{}, ErrWouldBlock
	}
}

func (a *WebSocketAdapter) LocalEndpoint() Endpoint { return a.local }

// RemoteEndpoint returns the endpoint of the single peer.
func (a *WebSocketAdapter) RemoteEndpoint() Endpoint { return a.remote }

func (a *WebSocketAdapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.conn.Close()
	})
	return nil
}

// endpointFromAddr parses "ip:port"; unparsable addresses fall back to a
// loopback placeholder so the adapter still has a usable table key.
func endpointFromAddr(addr string) Endpoint {
	ep, err := netip.ParseAddrPort(addr)
	if err != nil {
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 0)
	}
	return ep
}
