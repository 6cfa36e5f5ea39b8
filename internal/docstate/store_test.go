package docstate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/pkg/proto"
)

// testStore returns a store with a controllable clock.
func testStore(grace time.Duration) (*Store, *time.Time) {
	s := New(grace)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSeedOptimistic(t *testing.T) {
	s, _ := testStore(time.Minute)

	keys := s.SeedOptimistic("acme", []string{"a.pdf", "b.pdf"})
	require.Len(t, keys, 2)
	for _, key := range keys {
		assert.True(t, IsOptimisticKey(key))
	}

	rec, ok := s.ActiveRecord("acme", "a.pdf")
	require.True(t, ok)
	assert.True(t, rec.Queued)
	assert.True(t, rec.Processing)
	assert.Equal(t, 0, rec.Progress)
}

func TestSeedOptimisticNeverDuplicates(t *testing.T) {
	s, _ := testStore(time.Minute)

	first := s.SeedOptimistic("acme", []string{"a.pdf"})
	second := s.SeedOptimistic("acme", []string{"a.pdf"})

	assert.Equal(t, first, second)
	assert.Len(t, s.AllRecords(), 1)
}

func TestServerEventSupersedesOptimistic(t *testing.T) {
	s, _ := testStore(time.Minute)
	keys := s.SeedOptimistic("acme", []string{"a.pdf"})
	require.Len(t, keys, 1)

	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Processing: proto.Bool(true),
			Progress:   proto.Int(10),
		},
	})

	// The optimistic record is deleted, never kept alongside.
	_, ok := s.Record(keys[0])
	assert.False(t, ok)

	rec, ok := s.ActiveRecord("acme", "a.pdf")
	require.True(t, ok)
	assert.Equal(t, "doc-1", rec.Key)
	assert.Equal(t, 10, rec.Progress)
	assert.Len(t, s.AllRecords(), 1)
}

func TestPageProgressOutrunsBulkUpdate(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Processing: proto.Bool(true),
			TotalPages: proto.Int(10),
		},
	})

	s.ApplyProgress(proto.Envelope{
		Type:           proto.TypePageCompleted,
		DocID:          "doc-1",
		FileName:       "a.pdf",
		Page:           5,
		TotalPages:     10,
		CompletedPages: 5,
	})

	rec, _ := s.Record("doc-1")
	assert.Equal(t, 5, rec.CompletedPages)
	assert.Equal(t, 50, rec.Progress)

	// A slower bulk update for the same key must not roll counters back.
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:         "acme",
			FileName:       "a.pdf",
			Processing:     proto.Bool(true),
			CompletedPages: proto.Int(3),
			Progress:       proto.Int(30),
		},
	})

	rec, _ = s.Record("doc-1")
	assert.Equal(t, 5, rec.CompletedPages)
	assert.Equal(t, 50, rec.Progress)
}

func TestProgressMatchesActiveRecordByFileName(t *testing.T) {
	s, _ := testStore(time.Minute)
	keys := s.SeedOptimistic("acme", []string{"a.pdf"})

	// The backend keys page events by its own doc id, which the client
	// has never seen while the record is still optimistic.
	s.ApplyProgress(proto.Envelope{
		Type:           proto.TypePageCompleted,
		DocID:          "doc-unknown",
		FileName:       "a.pdf",
		Page:           2,
		TotalPages:     4,
		CompletedPages: 2,
	})

	rec, ok := s.Record(keys[0])
	require.True(t, ok)
	assert.Equal(t, 2, rec.CompletedPages)
	assert.Equal(t, 4, rec.TotalPages)
	assert.True(t, rec.Processing)
	assert.False(t, rec.Queued)
	assert.Equal(t, 50, rec.Progress)
}

func TestProgressAmbiguousFileNameIsDropped(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.SeedOptimistic("acme", []string{"a.pdf"})
	s.SeedOptimistic("globex", []string{"a.pdf"})

	s.ApplyProgress(proto.Envelope{
		Type:           proto.TypePageCompleted,
		DocID:          "doc-x",
		FileName:       "a.pdf",
		Page:           2,
		TotalPages:     4,
		CompletedPages: 2,
	})

	for _, rec := range s.AllRecords() {
		assert.Zero(t, rec.CompletedPages, "ambiguous page event must not touch %s/%s", rec.Bucket, rec.FileName)
	}
}

func TestDuplicateActiveRecordsCollapse(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-old": {
			Bucket:         "acme",
			FileName:       "a.pdf",
			Processing:     proto.Bool(true),
			Progress:       proto.Int(60),
			CompletedPages: proto.Int(6),
		},
	})

	// A second key for the same pair with lower progress loses.
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-new": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Processing: proto.Bool(true),
			Progress:   proto.Int(10),
		},
	})

	recs := s.Records("acme")
	require.Len(t, recs, 1)
	assert.Equal(t, "doc-old", recs[0].Key)

	// A higher-progress key wins.
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-new2": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Processing: proto.Bool(true),
			Progress:   proto.Int(90),
		},
	})

	recs = s.Records("acme")
	require.Len(t, recs, 1)
	assert.Equal(t, "doc-new2", recs[0].Key)
}

func TestMarkDispatchFailedRemovesOnlyOptimistic(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.SeedOptimistic("acme", []string{"a.pdf", "b.pdf"})
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-b": {Bucket: "acme", FileName: "b.pdf", Processing: proto.Bool(true)},
	})

	s.MarkDispatchFailed("acme", []string{"a.pdf", "b.pdf"})

	_, ok := s.ActiveRecord("acme", "a.pdf")
	assert.False(t, ok)

	rec, ok := s.ActiveRecord("acme", "b.pdf")
	require.True(t, ok)
	assert.Equal(t, "doc-b", rec.Key)
}

func TestErrorRecordsNeedManualDismissal(t *testing.T) {
	s, clock := testStore(time.Minute)
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Processing: proto.Bool(false),
			Failed:     proto.Bool(true),
			Error:      "ocr crashed on page 3",
		},
	})

	rec, ok := s.Record("doc-1")
	require.True(t, ok)
	assert.True(t, rec.Failed)
	assert.Equal(t, "ocr crashed on page 3", rec.Error)
	assert.False(t, rec.CompletedAt.IsZero())

	// The pair has no active record left, so a re-dispatch is allowed.
	_, active := s.ActiveRecord("acme", "a.pdf")
	assert.False(t, active)

	*clock = clock.Add(time.Hour)
	assert.Zero(t, s.Sweep(), "failed records survive the sweep")

	assert.True(t, s.DismissError("doc-1"))
	_, ok = s.Record("doc-1")
	assert.False(t, ok)
	assert.False(t, s.DismissError("doc-1"))
}

func TestSweepRemovesCompletedAfterGrace(t *testing.T) {
	s, clock := testStore(30 * time.Second)
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:         "acme",
			FileName:       "a.pdf",
			Processing:     proto.Bool(false),
			Queued:         proto.Bool(false),
			Progress:       proto.Int(100),
			CompletionTime: "2025-06-01T10:00:00Z",
		},
	})
	s.SeedOptimistic("acme", []string{"b.pdf"})

	assert.Zero(t, s.Sweep())

	*clock = clock.Add(29 * time.Second)
	assert.Zero(t, s.Sweep())

	*clock = clock.Add(2 * time.Second)
	assert.Equal(t, 1, s.Sweep())

	// The active record is untouched.
	recs := s.AllRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, "b.pdf", recs[0].FileName)
}

func TestTerminalRecordRestartsOnNewDispatch(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:         "acme",
			FileName:       "a.pdf",
			Processing:     proto.Bool(false),
			Progress:       proto.Int(100),
			CompletionTime: "2025-06-01T09:00:00Z",
		},
	})
	_, active := s.ActiveRecord("acme", "a.pdf")
	require.False(t, active)

	// The backend reuses document keys, so a re-dispatch arrives under
	// the same key with fresh counters.
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Queued:     proto.Bool(true),
			Processing: proto.Bool(true),
			Progress:   proto.Int(0),
		},
	})

	rec, ok := s.ActiveRecord("acme", "a.pdf")
	require.True(t, ok)
	assert.Equal(t, 0, rec.Progress)
	assert.True(t, rec.Processing)
	assert.True(t, rec.CompletedAt.IsZero())
}

func TestStepChangeRestartsPageCounters(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:         "acme",
			FileName:       "a.pdf",
			Processing:     proto.Bool(true),
			CurrentStep:    proto.StepOCR,
			CurrentPage:    proto.Int(12),
			TotalPages:     proto.Int(12),
			CompletedPages: proto.Int(12),
			Progress:       proto.Int(33),
		},
	})

	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:         "acme",
			FileName:       "a.pdf",
			Processing:     proto.Bool(true),
			CurrentStep:    proto.StepEmbedding,
			CurrentPage:    proto.Int(1),
			TotalPages:     proto.Int(12),
			CompletedPages: proto.Int(1),
		},
	})

	rec, _ := s.Record("doc-1")
	assert.Equal(t, proto.StepEmbedding, rec.CurrentStep)
	assert.Equal(t, 1, rec.CurrentPage)
	assert.Equal(t, 1, rec.CompletedPages)
	// Overall pipeline progress still never regresses.
	assert.Equal(t, 33, rec.Progress)
}

func TestStepsMergeMonotonically(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Processing: proto.Bool(true),
			Steps: map[string]proto.StepProgress{
				proto.StepOCR: {CurrentPage: 8, TotalPages: 12, CompletedPages: 8},
			},
		},
	})
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:     "acme",
			FileName:   "a.pdf",
			Processing: proto.Bool(true),
			Steps: map[string]proto.StepProgress{
				proto.StepOCR: {CurrentPage: 5, CompletedPages: 5},
			},
		},
	})

	rec, _ := s.Record("doc-1")
	ocr := rec.Steps[proto.StepOCR]
	assert.Equal(t, 8, ocr.CurrentPage)
	assert.Equal(t, 8, ocr.CompletedPages)
	assert.Equal(t, 12, ocr.TotalPages)
}

func TestRecordLogsAreBounded(t *testing.T) {
	s, _ := testStore(time.Minute)
	logs := make([]string, maxRecordLogs+18)
	for i := range logs {
		logs[i] = fmt.Sprintf("line %d", i)
	}
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-1": {Bucket: "acme", FileName: "a.pdf", Processing: proto.Bool(true), Logs: logs},
	})

	rec, _ := s.Record("doc-1")
	require.Len(t, rec.Logs, maxRecordLogs)
	assert.Equal(t, logs[len(logs)-1], rec.Logs[len(rec.Logs)-1])
}

func TestSnapshotReadsAreCopies(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.ApplySnapshot("acme", proto.BucketDocuments{
		"a.pdf": {DocID: "doc-1", Pages: []int{1, 2}},
	})

	snap, ok := s.Snapshot("acme")
	require.True(t, ok)
	snap.Documents["b.pdf"] = proto.IndexedDocument{DocID: "doc-2"}
	doc := snap.Documents["a.pdf"]
	doc.Pages[0] = 99

	again, _ := s.Snapshot("acme")
	assert.Len(t, again.Documents, 1)
	assert.Equal(t, []int{1, 2}, again.Documents["a.pdf"].Pages)
}

func TestApplySnapshotMergesIncrementally(t *testing.T) {
	s, now := testStore(time.Minute)
	s.ApplySnapshot("acme", proto.BucketDocuments{"a.pdf": {DocID: "d1"}})

	*now = now.Add(time.Minute)
	s.ApplySnapshot("acme", proto.BucketDocuments{"b.pdf": {DocID: "d2"}})

	snap, ok := s.Snapshot("acme")
	require.True(t, ok)
	assert.Len(t, snap.Documents, 2, "a push keeps documents it does not name")
	assert.Equal(t, *now, snap.RefreshedAt)
}

func TestReplaceSnapshotsDropsStaleBuckets(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.ApplySnapshot("acme", proto.BucketDocuments{"a.pdf": {DocID: "d1"}})
	s.ApplySnapshot("globex", proto.BucketDocuments{"x.pdf": {DocID: "d2"}})

	s.ReplaceSnapshots(map[string]proto.BucketDocuments{
		"acme": {"a.pdf": {DocID: "d1"}, "c.pdf": {DocID: "d3"}},
	})

	assert.Equal(t, []string{"acme"}, s.SnapshotBuckets())
	snap, _ := s.Snapshot("acme")
	assert.Len(t, snap.Documents, 2)
}

func TestOnChangeFiresOnlyOnRealChanges(t *testing.T) {
	s, _ := testStore(time.Minute)
	var calls int
	s.SetOnChange(func() { calls++ })

	s.SeedOptimistic("acme", []string{"a.pdf"})
	assert.Equal(t, 1, calls)

	// Re-seeding the same file changes nothing.
	s.SeedOptimistic("acme", []string{"a.pdf"})
	assert.Equal(t, 1, calls)

	s.MarkDispatchFailed("acme", []string{"missing.pdf"})
	assert.Equal(t, 1, calls)
}

func TestParseEventTime(t *testing.T) {
	ts, ok := parseEventTime("2025-06-01T10:00:00.123456")
	require.True(t, ok, "backend isoformat timestamps carry no zone")
	assert.Equal(t, 2025, ts.Year())

	ts, ok = parseEventTime("2025-06-01T10:00:00Z")
	require.True(t, ok)
	assert.Equal(t, time.UTC, ts.Location())

	_, ok = parseEventTime("not a time")
	assert.False(t, ok)
}

func TestCounts(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.SeedOptimistic("acme", []string{"a.pdf", "b.pdf"})
	s.ApplyStates(map[string]proto.StateUpdate{
		"doc-c": {Bucket: "acme", FileName: "c.pdf", Failed: proto.Bool(true)},
	})

	total, active, failed := s.Counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, active)
	assert.Equal(t, 1, failed)
}
