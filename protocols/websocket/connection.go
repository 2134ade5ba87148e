package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 10 * time.Second

// handshakeHeaders builds the upgrade request headers sent to the voice service.
func handshakeHeaders(cfg Config) http.Header {
	headers := http.Header{}
	if cfg.Auth.AccessToken != "" {
		headers.Set("Authorization", "Bearer "+cfg.Auth.AccessToken)
	}
	if cfg.Server.ProtocolVersion > 0 {
		headers.Set("Protocol-Version", strconv.Itoa(cfg.Server.ProtocolVersion))
	}
	if cfg.Device.MAC != "" {
		headers.Set("Device-Id", cfg.Device.MAC)
	}
	if cfg.Device.UUID != "" {
		headers.Set("Client-Id", cfg.Device.UUID)
	}
	return headers
}

func dial(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	timeout := cfg.Server.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	if cfg.Server.Subprotocol != "" {
		dialer.Subprotocols = []string{cfg.Server.Subprotocol}
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.Server.URL, handshakeHeaders(cfg))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", cfg.Server.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.Server.URL, err)
	}
	return conn, nil
}
