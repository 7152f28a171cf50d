package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPair upgrades a test-server connection and dials it, returning both
// ends wrapped as datagram channels.
func wsPair(t *testing.T) (server, client *WebSocketAdapter) {
	t.Helper()

	serverCh := make(chan *WebSocketAdapter, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverCh <- NewWebSocketAdapter(conn)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWebSocket(ctx, url)
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never arrived")
	}
	t.Cleanup(func() { server.Close() })

	return server, client
}

// TestWebSocketAdapterRoundTrip exchanges one datagram each way and checks
// payload integrity and source attribution.
func TestWebSocketAdapterRoundTrip(t *testing.T) {
	server, client := wsPair(t)

	out := []byte{9, 8, 7, 6, 5}
	if _, err := client.SendTo(out, server.LocalEndpoint()); err != nil {
		t.Fatalf("client SendTo failed: %v", err)
	}
	got, from := receiveEventually(t, server)
	if !bytes.Equal(got, out) {
		t.Errorf("server payload: got %x, want %x", got, out)
	}
	if from != server.RemoteEndpoint() {
		t.Errorf("server source: got %v, want %v", from, server.RemoteEndpoint())
	}

	back := []byte("pong")
	if _, err := server.SendTo(back, client.LocalEndpoint()); err != nil {
		t.Fatalf("server SendTo failed: %v", err)
	}
	got, from = receiveEventually(t, client)
	if !bytes.Equal(got, back) {
		t.Errorf("client payload: got %q, want %q", got, back)
	}
	if from != client.RemoteEndpoint() {
		t.Errorf("client source: got %v, want %v", from, client.RemoteEndpoint())
	}
}

// TestWebSocketAdapterWouldBlock verifies the non-blocking receive path.
func TestWebSocketAdapterWouldBlock(t *testing.T) {
	_, client := wsPair(t)

	_, _, err := client.ReceiveFrom(make([]byte, 64))
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("got %v, want ErrWouldBlock", err)
	}
}

// TestWebSocketAdapterClose verifies that a closed adapter rejects further
// traffic with ErrClosed.
func TestWebSocketAdapterClose(t *testing.T) {
	server, client := wsPair(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := client.SendTo([]byte{1}, server.LocalEndpoint()); !errors.Is(err, ErrClosed) {
		t.Errorf("SendTo after close: got %v, want ErrClosed", err)
	}
	if _, _, err := client.ReceiveFrom(make([]byte, 64)); !errors.Is(err, ErrClosed) {
		t.Errorf("ReceiveFrom after close: got %v, want ErrClosed", err)
	}

	// The peer notices the TCP teardown and closes its own end.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := server.ReceiveFrom(make([]byte, 64)); errors.Is(err, ErrClosed) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("server never observed the disconnect")
}
