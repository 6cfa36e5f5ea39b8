package docstate

import (
	"sort"
	"sync"
	"time"

	"github.com/docsync/docsync/pkg/proto"
)

type fileKey struct {
	bucket string
	file   string
}

// Store is the single source of truth for processing records and bucket
// snapshots. All mutation goes through its methods; reads return copies.
// Live events, snapshot refreshes and dispatch rollbacks interleave
// arbitrarily, so every merge is idempotent and counters never move
// backwards within a pipeline step.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*Record
	active    map[fileKey]string // (bucket, file) -> key of the active record
	snapshots map[string]*BucketSnapshot

	grace time.Duration
	now   func() time.Time

	onChange func()
}

// New creates an empty store. gracePeriod bounds how long completed
// records linger before Sweep removes them.
func New(gracePeriod time.Duration) *Store {
	return &Store{
		records:   make(map[string]*Record),
		active:    make(map[fileKey]string),
		snapshots: make(map[string]*BucketSnapshot),
		grace:     gracePeriod,
		now:       time.Now,
	}
}

// SetOnChange registers a callback fired after every mutation that changed
// state. The callback runs outside the store lock.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify(changed bool) {
	if !changed {
		return
	}
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SeedOptimistic creates one queued record per file so the view reflects a
// dispatch before the backend confirms it. Files that already have an
// active record keep it; seeding never duplicates. Returns the keys now
// covering the files.
func (s *Store) SeedOptimistic(bucket string, files []string) []string {
	s.mu.Lock()
	keys := make([]string, 0, len(files))
	changed := false
	for _, f := range files {
		fk := fileKey{bucket, f}
		if key, ok := s.active[fk]; ok {
			keys = append(keys, key)
			continue
		}
		now := s.now()
		rec := &Record{
			Key:        OptimisticKey(bucket, f, now),
			Bucket:     bucket,
			FileName:   f,
			Queued:     true,
			Processing: true,
			CreatedAt:  now,
		}
		s.records[rec.Key] = rec
		s.active[fk] = rec.Key
		keys = append(keys, rec.Key)
		changed = true
	}
	s.mu.Unlock()
	s.notify(changed)
	return keys
}

// ApplyStates merges a bulk states_updated payload. Records named by the
// payload are created or merged; records it does not mention are left
// alone (removal is Sweep's job). A server-keyed update supersedes any
// optimistic record for the same (bucket, file): the optimistic record is
// deleted outright, never merged.
func (s *Store) ApplyStates(states map[string]proto.StateUpdate) {
	if len(states) == 0 {
		return
	}
	s.mu.Lock()
	changed := false
	for key, u := range states {
		if s.applyState(key, u) {
			changed = true
		}
	}
	s.mu.Unlock()
	s.notify(changed)
}

func (s *Store) applyState(key string, u proto.StateUpdate) bool {
	if key == "" || IsOptimisticKey(key) {
		return false
	}
	rec, ok := s.records[key]

	bucket := u.Bucket
	file := u.FileName
	if ok {
		if bucket == "" {
			bucket = rec.Bucket
		}
		if file == "" {
			file = rec.FileName
		}
	}

	// First confirmed sighting of this document: drop the optimistic
	// record tracking the same file.
	if !ok && bucket != "" && file != "" {
		fk := fileKey{bucket, file}
		if prevKey, exists := s.active[fk]; exists && IsOptimisticKey(prevKey) {
			delete(s.records, prevKey)
			delete(s.active, fk)
		}
	}

	if !ok {
		rec = &Record{Key: key, Bucket: bucket, FileName: file, CreatedAt: s.now()}
		s.records[key] = rec
	} else if rec.Terminal() && updateActive(u) {
		// Same document key dispatched again: start over.
		*rec = Record{Key: key, Bucket: bucket, FileName: file, CreatedAt: s.now()}
	}

	mergeUpdate(rec, u, s.now())

	if rec.Bucket == "" || rec.FileName == "" {
		return true
	}
	fk := fileKey{rec.Bucket, rec.FileName}
	if rec.Active() {
		if prevKey, exists := s.active[fk]; exists && prevKey != rec.Key {
			if prev := s.records[prevKey]; prev != nil && prev.Active() {
				if prev.PreferOver(rec) {
					delete(s.records, rec.Key)
					return true
				}
				delete(s.records, prevKey)
			}
		}
		s.active[fk] = rec.Key
	} else if s.active[fk] == rec.Key {
		delete(s.active, fk)
	}
	return true
}

func updateActive(u proto.StateUpdate) bool {
	if u.Queued != nil && *u.Queued {
		return true
	}
	return u.Processing != nil && *u.Processing
}

func mergeUpdate(r *Record, u proto.StateUpdate, now time.Time) {
	if u.Bucket != "" {
		r.Bucket = u.Bucket
	}
	if u.FileName != "" {
		r.FileName = u.FileName
	}
	if u.Queued != nil {
		r.Queued = *u.Queued
	}
	if u.Processing != nil {
		r.Processing = *u.Processing
	}
	if u.Failed != nil {
		r.Failed = *u.Failed
	}
	if u.Error != "" {
		r.Error = u.Error
	}
	if u.Message != "" {
		r.StepDetail = u.Message
	}

	stepChanged := u.CurrentStep != "" && u.CurrentStep != r.CurrentStep
	if u.CurrentStep != "" {
		r.CurrentStep = u.CurrentStep
	}

	// Progress only moves forward; page counters restart when the
	// pipeline enters a new step.
	if u.Progress != nil && *u.Progress > r.Progress {
		r.Progress = *u.Progress
	}
	if u.CurrentPage != nil && (stepChanged || *u.CurrentPage > r.CurrentPage) {
		r.CurrentPage = *u.CurrentPage
	}
	if u.TotalPages != nil && (stepChanged || *u.TotalPages > 0) {
		r.TotalPages = *u.TotalPages
	}
	if u.CompletedPages != nil && (stepChanged || *u.CompletedPages > r.CompletedPages) {
		r.CompletedPages = *u.CompletedPages
	}

	for name, sp := range u.Steps {
		if r.Steps == nil {
			r.Steps = make(map[string]proto.StepProgress)
		}
		old := r.Steps[name]
		if sp.CompletedPages < old.CompletedPages {
			sp.CompletedPages = old.CompletedPages
		}
		if sp.CurrentPage < old.CurrentPage {
			sp.CurrentPage = old.CurrentPage
		}
		if sp.TotalPages == 0 {
			sp.TotalPages = old.TotalPages
		}
		if sp.Message == "" {
			sp.Message = old.Message
		}
		r.Steps[name] = sp
	}

	if len(u.Logs) > 0 {
		// The backend sends the full accumulated log each time.
		r.Logs = r.Logs[:0]
		r.appendLogs(u.Logs)
	}

	if u.StartTime != "" {
		if ts, ok := parseEventTime(u.StartTime); ok {
			r.CreatedAt = ts
		}
	}
	if u.CompletionTime != "" {
		if ts, ok := parseEventTime(u.CompletionTime); ok {
			r.CompletedAt = ts
		} else if r.CompletedAt.IsZero() {
			r.CompletedAt = now
		}
	}
	if r.Failed && r.CompletedAt.IsZero() {
		r.CompletedAt = now
	}
}

// parseEventTime accepts RFC 3339 as well as the backend's zone-less
// isoformat timestamps.
func parseEventTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ApplyProgress applies a page_started or page_completed event. Events are
// matched by document key when the store already tracks it, otherwise by
// file name against the active record, since the backend does not know
// which optimistic key the client minted.
func (s *Store) ApplyProgress(ev proto.Envelope) {
	if ev.Type != proto.TypePageStarted && ev.Type != proto.TypePageCompleted {
		return
	}
	s.mu.Lock()
	rec := s.records[ev.DocID]
	if rec == nil && ev.FileName != "" {
		rec = s.activeByFile(ev.FileName)
	}
	if rec == nil || rec.Terminal() {
		s.mu.Unlock()
		return
	}

	// A page event proves the document left the queue.
	changed := false
	if rec.Queued || !rec.Processing {
		rec.Processing = true
		rec.Queued = false
		changed = true
	}
	if ev.Page > rec.CurrentPage {
		rec.CurrentPage = ev.Page
		changed = true
	}
	if ev.TotalPages > 0 && ev.TotalPages != rec.TotalPages {
		rec.TotalPages = ev.TotalPages
		changed = true
	}
	if ev.Type == proto.TypePageCompleted {
		done := ev.CompletedPages
		if done == 0 {
			done = ev.Page
		}
		if done > rec.CompletedPages {
			rec.CompletedPages = done
			changed = true
		}
		if rec.TotalPages > 0 {
			p := rec.CompletedPages * 100 / rec.TotalPages
			if p > 100 {
				p = 100
			}
			if p > rec.Progress {
				rec.Progress = p
				changed = true
			}
		}
	}
	s.mu.Unlock()
	s.notify(changed)
}

// activeByFile resolves a file name to its single active record. Ambiguous
// matches (the same file name active in several buckets) resolve to nil.
func (s *Store) activeByFile(file string) *Record {
	var found *Record
	for fk, key := range s.active {
		if fk.file != file {
			continue
		}
		if found != nil {
			return nil
		}
		found = s.records[key]
	}
	return found
}

// MarkDispatchFailed rolls back the optimistic records for a batch whose
// dispatch call failed; no events will ever arrive for them. Server-keyed
// records are left untouched.
func (s *Store) MarkDispatchFailed(bucket string, files []string) {
	s.mu.Lock()
	changed := false
	for _, f := range files {
		fk := fileKey{bucket, f}
		key, ok := s.active[fk]
		if !ok || !IsOptimisticKey(key) {
			continue
		}
		delete(s.records, key)
		delete(s.active, fk)
		changed = true
	}
	s.mu.Unlock()
	s.notify(changed)
}

// ApplySnapshot merges newly indexed documents into one bucket's snapshot,
// as pushed by live index-update events. Names the event does not carry
// stay; removals only reconcile through ReplaceSnapshots.
func (s *Store) ApplySnapshot(bucket string, docs proto.BucketDocuments) {
	s.mu.Lock()
	if snap, ok := s.snapshots[bucket]; ok {
		for name, doc := range docs {
			snap.Documents[name] = doc
		}
		snap.RefreshedAt = s.now()
	} else {
		s.setSnapshot(bucket, docs)
	}
	s.mu.Unlock()
	s.notify(true)
}

// ReplaceSnapshots swaps the entire snapshot set for the result of a full
// snapshot query.
func (s *Store) ReplaceSnapshots(all map[string]proto.BucketDocuments) {
	s.mu.Lock()
	s.snapshots = make(map[string]*BucketSnapshot, len(all))
	for bucket, docs := range all {
		s.setSnapshot(bucket, docs)
	}
	s.mu.Unlock()
	s.notify(true)
}

func (s *Store) setSnapshot(bucket string, docs proto.BucketDocuments) {
	snap := &BucketSnapshot{
		Bucket:      bucket,
		Documents:   make(map[string]proto.IndexedDocument, len(docs)),
		RefreshedAt: s.now(),
	}
	for name, doc := range docs {
		snap.Documents[name] = doc
	}
	s.snapshots[bucket] = snap
}

// Sweep drops completed records older than the grace period and returns
// how many were removed. Failed records are only removed by DismissError.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for key, rec := range s.records {
		if !rec.Terminal() || rec.Failed {
			continue
		}
		doneAt := rec.CompletedAt
		if doneAt.IsZero() {
			doneAt = rec.CreatedAt
		}
		if now.Sub(doneAt) < s.grace {
			continue
		}
		delete(s.records, key)
		fk := fileKey{rec.Bucket, rec.FileName}
		if s.active[fk] == key {
			delete(s.active, fk)
		}
		removed++
	}
	s.mu.Unlock()
	s.notify(removed > 0)
	return removed
}

// DismissError removes a failed record.
func (s *Store) DismissError(key string) bool {
	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok || !rec.Failed {
		s.mu.Unlock()
		return false
	}
	delete(s.records, key)
	fk := fileKey{rec.Bucket, rec.FileName}
	if s.active[fk] == key {
		delete(s.active, fk)
	}
	s.mu.Unlock()
	s.notify(true)
	return true
}

// Record returns a copy of the record with the given key.
func (s *Store) Record(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// ActiveRecord returns a copy of the active record for (bucket, file).
func (s *Store) ActiveRecord(bucket, file string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.active[fileKey{bucket, file}]
	if !ok {
		return Record{}, false
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Records returns copies of all records for a bucket, ordered by file name
// then creation time.
func (s *Store) Records(bucket string) []Record {
	s.mu.RLock()
	out := make([]Record, 0, 8)
	for _, rec := range s.records {
		if rec.Bucket == bucket {
			out = append(out, rec.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FileName != out[j].FileName {
			return out[i].FileName < out[j].FileName
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AllRecords returns copies of every record, ordered by bucket then file.
func (s *Store) AllRecords() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		if out[i].FileName != out[j].FileName {
			return out[i].FileName < out[j].FileName
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Snapshot returns a copy of the bucket's index snapshot.
func (s *Store) Snapshot(bucket string) (BucketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[bucket]
	if !ok {
		return BucketSnapshot{}, false
	}
	return snap.clone(), true
}

// SnapshotBuckets lists buckets with a known index snapshot, sorted.
func (s *Store) SnapshotBuckets() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.snapshots))
	for bucket := range s.snapshots {
		out = append(out, bucket)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Counts reports how many records are held in total, how many are active
// and how many are failed.
func (s *Store) Counts() (total, active, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total = len(s.records)
	for _, rec := range s.records {
		if rec.Failed {
			failed++
		} else if rec.Active() {
			active++
		}
	}
	return total, active, failed
}
