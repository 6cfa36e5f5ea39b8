// Package backend is the HTTP client for the ingestion console backend.
// It implements the engine's outbound ports: job dispatch, snapshot query,
// processing-state rehydration and document upload.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docsync/docsync/pkg/proto"
)

// Client is a client for the console backend REST API.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client

	// stream has no overall timeout; uploads and dispatch streams are
	// bounded by their context instead.
	stream *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default 30s timeout for plain API requests.
// Uploads and dispatch streams are unaffected.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// NewClient creates a new backend client. The auth token may be empty for
// deployments without a gateway in front of the backend.
func NewClient(baseURL, authToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		stream: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the backend.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// EventsURL joins a live channel stream path onto the base URL. An empty
// path selects the default stream.
func (c *Client) EventsURL(path string) string {
	if path == "" {
		path = "/events/processing-updates"
	}
	return c.baseURL + path
}

// Dispatch asks the backend to process files already uploaded to a bucket.
// A 2xx status means the batch was accepted; progress and completion are
// reported on the live channel, never by this call.
func (c *Client) Dispatch(ctx context.Context, bucket string, files []string) error {
	body, err := json.Marshal(proto.DispatchRequest{Bucket: bucket, Files: files})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/process-documents", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", bucket, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return c.parseError(resp)
	}

	// The endpoint streams per-file progress lines for as long as the job
	// runs; the server aborts the job if the reader goes away. Drain in
	// the background so acceptance returns immediately.
	go func() {
		n, err := io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		log.Debug().Str("bucket", bucket).Int64("stream_bytes", n).Err(err).
			Msg("dispatch stream finished")
	}()

	return nil
}

// ListIndexedDocuments returns every bucket's indexed documents, keyed by
// bucket then file name.
func (c *Client) ListIndexedDocuments(ctx context.Context) (map[string]proto.BucketDocuments, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/companies-with-documents", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result proto.SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("snapshot query rejected: %s", result.Error)
	}

	return result.Data, nil
}

// ProcessingStates returns the backend's current processing records keyed
// by document id. Used to rehydrate the store after a refresh or a
// reconnect.
func (c *Client) ProcessingStates(ctx context.Context) (map[string]proto.StateUpdate, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/document-processing-states", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result map[string]proto.StateUpdate
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}

// UploadDocument streams one file to a bucket as a multipart POST.
// Progress callbacks carry integer percentages: 0-99 track bytes handed to
// the wire, 100 fires exactly once after the backend accepts the upload.
func (c *Client) UploadDocument(ctx context.Context, bucket, name string, r io.Reader, size int64, progress func(percent int)) error {
	src := &progressReader{r: r, size: size, report: progress}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	path := "/api/companies/" + url.PathEscape(bucket) + "/documents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseError(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	if progress != nil {
		progress(100)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp proto.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Text() != "" {
		return fmt.Errorf("backend: %s", errResp.Text())
	}

	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
}

// progressReader counts bytes read from the multipart source and reports
// monotone integer percentages, capped at 99 until the backend confirms.
type progressReader struct {
	r      io.Reader
	size   int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.report != nil && p.size > 0 {
		p.read += int64(n)
		pct := int(p.read * 100 / p.size)
		if pct > 99 {
			pct = 99
		}
		if pct > p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
