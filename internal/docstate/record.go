// Package docstate holds the authoritative in-memory model of per-document
// processing state. It merges optimistic records seeded at dispatch time
// with server-confirmed records pushed over the live channel, deduplicates
// them by (bucket, file name), and keeps the per-bucket index snapshots
// used to compute sync status.
package docstate

import (
	"fmt"
	"strings"
	"time"

	"github.com/docsync/docsync/pkg/proto"
)

// maxRecordLogs bounds the per-record message log.
const maxRecordLogs = 32

// Record tracks one document moving through the processing pipeline.
// Key is either a backend-issued document id or an optimistic key built by
// OptimisticKey before the backend has seen the document.
type Record struct {
	Key      string
	Bucket   string
	FileName string

	Queued     bool
	Processing bool
	Failed     bool
	Error      string

	Progress    int // 0-100 across the whole pipeline
	CurrentStep string
	StepDetail  string
	Steps       map[string]proto.StepProgress

	CurrentPage    int
	TotalPages     int
	CompletedPages int

	Logs []string

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Terminal reports whether the record reached a final state: a hard
// failure, or processing that ran to completion.
func (r *Record) Terminal() bool {
	if r.Failed {
		return true
	}
	return !r.Processing && !r.Queued && !r.CompletedAt.IsZero()
}

// Active is the dedup notion: at most one active record may exist per
// (bucket, file name) pair.
func (r *Record) Active() bool { return !r.Terminal() }

// Optimistic reports whether the record still carries a client-generated
// key, i.e. no backend event has confirmed it yet.
func (r *Record) Optimistic() bool { return IsOptimisticKey(r.Key) }

// PreferOver resolves duplicate records for the same (bucket, file name):
// higher progress wins, ties break on more completed pages. Arrival order
// is deliberately not a tiebreaker.
func (r *Record) PreferOver(other *Record) bool {
	if r.Progress != other.Progress {
		return r.Progress > other.Progress
	}
	return r.CompletedPages > other.CompletedPages
}

func (r *Record) appendLogs(lines []string) {
	if len(lines) == 0 {
		return
	}
	r.Logs = append(r.Logs, lines...)
	if n := len(r.Logs); n > maxRecordLogs {
		r.Logs = append(r.Logs[:0:0], r.Logs[n-maxRecordLogs:]...)
	}
}

// clone returns a deep copy safe to hand to readers.
func (r *Record) clone() Record {
	out := *r
	if r.Steps != nil {
		out.Steps = make(map[string]proto.StepProgress, len(r.Steps))
		for k, v := range r.Steps {
			out.Steps[k] = v
		}
	}
	if r.Logs != nil {
		out.Logs = append([]string(nil), r.Logs...)
	}
	return out
}

// OptimisticKey builds the provisional document key used between dispatch
// and the first backend-confirmed event for the same file.
func OptimisticKey(bucket, file string, now time.Time) string {
	return fmt.Sprintf("temp:%s:%s:%d", bucket, file, now.UnixNano())
}

// IsOptimisticKey reports whether key was generated by OptimisticKey.
func IsOptimisticKey(key string) bool { return strings.HasPrefix(key, "temp:") }

// BucketSnapshot is the authoritative "already indexed" view for one
// bucket, replaced wholesale by snapshot queries or per bucket by live
// index-update events.
type BucketSnapshot struct {
	Bucket      string
	Documents   map[string]proto.IndexedDocument
	RefreshedAt time.Time
}

// Contains reports whether the named document is present in the index.
func (s *BucketSnapshot) Contains(name string) bool {
	_, ok := s.Documents[name]
	return ok
}

func (s *BucketSnapshot) clone() BucketSnapshot {
	out := BucketSnapshot{Bucket: s.Bucket, RefreshedAt: s.RefreshedAt}
	out.Documents = make(map[string]proto.IndexedDocument, len(s.Documents))
	for k, v := range s.Documents {
		doc := v
		doc.Pages = append([]int(nil), v.Pages...)
		out.Documents[k] = doc
	}
	return out
}
