package livechan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// wsURL converts an HTTP(S) endpoint to its WebSocket form.
func wsURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	return u.String(), nil
}

// WSTransport subscribes over a WebSocket carrying the same JSON envelopes as
// SSE text frames. Used where buffering proxies break event streams.
type WSTransport struct {
	// HandshakeTimeout bounds the upgrade. Defaults to 30s.
	HandshakeTimeout time.Duration
}

// Name implements Transport.
func (t *WSTransport) Name() string { return "websocket" }

// Dial implements Transport.
func (t *WSTransport) Dial(ctx context.Context, endpoint string, header http.Header) (Stream, error) {
	target, err := wsURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("convert URL: %w", err)
	}

	timeout := t.HandshakeTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			body := make([]byte, 256)
			n, _ := resp.Body.Read(body)
			return nil, fmt.Errorf("websocket connection failed: %s - %s", resp.Status, string(body[:n]))
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}

	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

// Next returns the payload of the next text frame.
func (s *wsStream) Next() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			// Binary and control frames are not part of this protocol
			continue
		}
		return data, nil
	}
}

// Close implements Stream.
func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	return s.conn.Close()
}
