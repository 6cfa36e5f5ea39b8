package livechan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSETransport subscribes via a long-lived HTTP GET serving text/event-stream.
type SSETransport struct {
	// Client overrides the default HTTP client. A streaming client must not
	// carry an overall Timeout; the dial context bounds the subscription.
	Client *http.Client
}

// Name implements Transport.
func (t *SSETransport) Name() string { return "sse" }

// Dial implements Transport.
func (t *SSETransport) Dial(ctx context.Context, endpoint string, header http.Header) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build subscribe request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event stream connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := make([]byte, 256)
		n, _ := resp.Body.Read(body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("event stream connection failed: %s - %s", resp.Status, string(body[:n]))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("event stream has content type %q, want text/event-stream", ct)
	}

	return &sseStream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// sseStream parses text/event-stream framing. Only data fields matter here;
// event, id and retry fields are tolerated and ignored, comment lines serve
// as keep-alives.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Next returns the payload of the next non-empty event.
func (s *sseStream) Next() ([]byte, error) {
	var data []byte
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Blank line ends the event. Comment-only events carry no data.
			if len(data) > 0 {
				return data, nil
			}

		case strings.HasPrefix(line, ":"):
			// Keep-alive comment

		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)

		default:
			// event:, id:, retry: fields are not used by this protocol
		}
	}
}

// Close implements Stream.
func (s *sseStream) Close() error {
	return s.body.Close()
}
