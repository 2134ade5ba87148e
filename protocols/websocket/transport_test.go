package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/voicebridge/pkg/interfaces"
)

// newEchoServer starts a websocket server that accepts the realtime
// subprotocol and echoes every text frame back. The handshake headers of
// the last upgrade are sent on headers.
func newEchoServer(t *testing.T, headers chan<- http.Header) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{"realtime"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if headers != nil {
			headers <- r.Header.Clone()
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) Config {
	var cfg Config
	cfg.Server.URL = "ws" + strings.TrimPrefix(url, "http")
	cfg.Server.Subprotocol = "realtime"
	cfg.Server.ProtocolVersion = 1
	cfg.Auth.AccessToken = "secret"
	cfg.Device.MAC = "aa:bb"
	cfg.Device.UUID = "client-1"
	return cfg
}

func TestWSProtocol_ConnectNegotiatesSubprotocol(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := newEchoServer(t, headers)

	p, err := NewWebSocketProtocol(testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewWebSocketProtocol: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := p.Subprotocol(); got != "realtime" {
		t.Errorf("Subprotocol() = %q, want realtime", got)
	}

	h := <-headers
	tests := []struct {
		header string
		want   string
	}{
		{"Authorization", "Bearer secret"},
		{"Protocol-Version", "1"},
		{"Device-Id", "aa:bb"},
		{"Client-Id", "client-1"},
	}
	for _, tt := range tests {
		if got := h.Get(tt.header); got != tt.want {
			t.Errorf("header %s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestWSProtocol_SendReceive(t *testing.T) {
	srv := newEchoServer(t, nil)
	p, err := NewWebSocketProtocol(testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewWebSocketProtocol: %v", err)
	}
	defer p.Close()
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := p.Send([]byte(`{"type":"ping"}`), interfaces.MsgText); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p.TrySend([]byte(`{"type":"pong"}`), interfaces.MsgText); err != nil {
		t.Fatalf("TrySend: %v", err)
	}

	for _, want := range []string{`{"type":"ping"}`, `{"type":"pong"}`} {
		select {
		case msg := <-p.Receive():
			if msg.Type != interfaces.MsgText {
				t.Errorf("message type = %v, want text", msg.Type)
			}
			if string(msg.Payload) != want {
				t.Errorf("payload = %s, want %s", msg.Payload, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestWSProtocol_ServerCloseClosesReceive(t *testing.T) {
	srv := newEchoServer(t, nil)
	p, err := NewWebSocketProtocol(testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewWebSocketProtocol: %v", err)
	}
	defer p.Close()
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := p.Send([]byte("bye"), interfaces.MsgText); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-p.Receive():
			if !ok {
				if err := p.Send([]byte("x"), interfaces.MsgText); !errors.Is(err, interfaces.ErrTransportClosed) {
					t.Errorf("Send after loss = %v, want ErrTransportClosed", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("receive channel not closed after server hung up")
		}
	}
}

func TestWSProtocol_TrySendNeverBlocks(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.SendQueue = 1
	p, err := NewWebSocketProtocol(cfg, nil)
	if err != nil {
		t.Fatalf("NewWebSocketProtocol: %v", err)
	}

	if err := p.TrySend([]byte("a"), interfaces.MsgText); err != nil {
		t.Fatalf("first TrySend: %v", err)
	}
	if err := p.TrySend([]byte("b"), interfaces.MsgText); !errors.Is(err, interfaces.ErrSendQueueFull) {
		t.Fatalf("second TrySend = %v, want ErrSendQueueFull", err)
	}

	_ = p.Close()
	if err := p.TrySend([]byte("c"), interfaces.MsgText); !errors.Is(err, interfaces.ErrTransportClosed) {
		t.Fatalf("TrySend after Close = %v, want ErrTransportClosed", err)
	}
}

func TestWSProtocol_ConnectFailure(t *testing.T) {
	p, err := NewWebSocketProtocol(testConfig("http://127.0.0.1:1"), nil)
	if err != nil {
		t.Fatalf("NewWebSocketProtocol: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Connect(ctx); !errors.Is(err, interfaces.ErrConnectionFailed) {
		t.Fatalf("Connect = %v, want ErrConnectionFailed", err)
	}
}

func TestNewWebSocketProtocol_RequiresURL(t *testing.T) {
	if _, err := NewWebSocketProtocol(Config{}, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}
