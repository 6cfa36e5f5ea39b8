package backend

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog/log"

	"github.com/docsync/docsync/internal/metrics"
	"github.com/docsync/docsync/internal/uploader"
	"github.com/docsync/docsync/pkg/bytesize"
)

// Sink feeds queued uploads through the client, reading file contents from
// fs. It satisfies the upload queue's sink port.
type Sink struct {
	client  *Client
	fs      billy.Filesystem
	maxSize int64
	metrics *metrics.Metrics
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithMaxFileSize rejects files larger than n bytes before any bytes move.
// Zero means no limit.
func WithMaxFileSize(n int64) SinkOption {
	return func(s *Sink) { s.maxSize = n }
}

// WithMetrics counts uploaded bytes on m.
func WithMetrics(m *metrics.Metrics) SinkOption {
	return func(s *Sink) { s.metrics = m }
}

// NewSink returns a sink uploading through client from fs.
func NewSink(client *Client, fs billy.Filesystem, opts ...SinkOption) *Sink {
	s := &Sink{client: client, fs: fs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload streams the file named by spec.Path to spec.Bucket.
func (s *Sink) Upload(ctx context.Context, spec uploader.Spec, progress func(percent int)) error {
	info, err := s.fs.Stat(spec.Path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", spec.Path, err)
	}
	if s.maxSize > 0 && info.Size() > s.maxSize {
		return fmt.Errorf("%s is %s, over the %s upload limit",
			spec.Name, bytesize.Format(info.Size()), bytesize.Format(s.maxSize))
	}

	f, err := s.fs.Open(spec.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", spec.Path, err)
	}
	defer func() { _ = f.Close() }()

	log.Debug().Str("bucket", spec.Bucket).Str("file", spec.Name).
		Str("size", bytesize.Format(info.Size())).Msg("uploading document")

	if err := s.client.UploadDocument(ctx, spec.Bucket, spec.Name, f, info.Size(), progress); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.UploadedBytes.Add(float64(info.Size()))
	}
	return nil
}
