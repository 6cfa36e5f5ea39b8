package docstate

import "sort"

// FileLister provides the local document names for a bucket.
type FileLister interface {
	List(bucket string) ([]string, error)
}

// Status is the derived sync state of one bucket. It is never stored;
// Calculator recomputes it from the store on every call.
type Status struct {
	SyncedCount int
	TotalCount  int
	IsSynced    bool
	HasUnsynced bool
}

// Calculator projects sync status from the store and the local file
// listing. It holds no state of its own: identical inputs yield identical
// outputs, and nothing is cached, since stale answers here would gate
// destructive actions.
type Calculator struct {
	store  *Store
	lister FileLister
}

// NewCalculator builds a calculator over the given store and listing.
func NewCalculator(store *Store, lister FileLister) *Calculator {
	return &Calculator{store: store, lister: lister}
}

// StatusFor computes the sync status of one bucket: how many of its local
// files are present in the bucket's index snapshot.
func (c *Calculator) StatusFor(bucket string) (Status, error) {
	files, err := c.lister.List(bucket)
	if err != nil {
		return Status{}, err
	}

	var st Status
	st.TotalCount = len(files)

	snap, ok := c.store.Snapshot(bucket)
	if ok {
		for _, f := range files {
			if snap.Contains(f) {
				st.SyncedCount++
			}
		}
	}

	st.IsSynced = st.TotalCount > 0 && st.SyncedCount == st.TotalCount
	st.HasUnsynced = st.SyncedCount < st.TotalCount
	return st, nil
}

// UnsyncedFiles returns the bucket's local files missing from its index
// snapshot, sorted.
func (c *Calculator) UnsyncedFiles(bucket string) ([]string, error) {
	files, err := c.lister.List(bucket)
	if err != nil {
		return nil, err
	}

	snap, hasSnap := c.store.Snapshot(bucket)
	out := make([]string, 0, len(files))
	for _, f := range files {
		if hasSnap && snap.Contains(f) {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// IsAnyProcessing reports whether any record in the bucket is queued or
// processing. Buckets in this state are not eligible for re-dispatch.
func (c *Calculator) IsAnyProcessing(bucket string) bool {
	for _, rec := range c.store.Records(bucket) {
		if rec.Queued || rec.Processing {
			return true
		}
	}
	return false
}

// IsAnyError reports whether the bucket holds an undismissed failed record.
func (c *Calculator) IsAnyError(bucket string) bool {
	for _, rec := range c.store.Records(bucket) {
		if rec.Failed {
			return true
		}
	}
	return false
}
