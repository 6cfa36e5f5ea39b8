package livechan

import (
	"context"
	"fmt"
	"net/http"
)

// Stream is a single live subscription delivering raw JSON frames.
type Stream interface {
	// Next blocks until the next frame arrives or the stream fails.
	Next() ([]byte, error)

	// Close tears the stream down. A blocked Next unblocks with an error.
	Close() error
}

// Transport dials the backend event endpoint and hands back a Stream.
type Transport interface {
	// Name reports the transport scheme for logs.
	Name() string

	// Dial opens the subscription. The context bounds the lifetime of the
	// stream, not just the handshake.
	Dial(ctx context.Context, endpoint string, header http.Header) (Stream, error)
}

// TransportFor returns the transport registered under the given config name.
func TransportFor(name string) (Transport, error) {
	switch name {
	case "", "sse":
		return &SSETransport{}, nil
	case "websocket", "ws":
		return &WSTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown live transport %q", name)
	}
}
