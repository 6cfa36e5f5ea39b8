// Package uploader runs file uploads strictly one at a time, in arrival
// order, through a pluggable sink. Failures never halt the queue.
package uploader

import (
	"fmt"
	"path/filepath"
	"time"
)

// Status is the lifecycle state of an upload task.
type Status int

const (
	StatusQueued Status = iota
	StatusUploading
	StatusCompleted
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusUploading:
		return "uploading"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Finished reports whether the task has left the queue's working set.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Spec is the part of a task the sink needs to perform the upload.
type Spec struct {
	Bucket string
	Path   string
	Name   string
}

// Task is one file upload unit. Tasks are owned by the Queue; reads
// return copies.
type Task struct {
	ID         string
	Bucket     string
	Path       string
	Name       string
	Status     Status
	Progress   int
	Error      string
	EnqueuedAt time.Time
}

// Spec returns the sink-facing view of the task.
func (t Task) Spec() Spec {
	return Spec{Bucket: t.Bucket, Path: t.Path, Name: t.Name}
}

func newTask(id, bucket, path string, now time.Time) *Task {
	return &Task{
		ID:         id,
		Bucket:     bucket,
		Path:       path,
		Name:       filepath.Base(path),
		Status:     StatusQueued,
		EnqueuedAt: now,
	}
}

// StateError reports an operation applied to a task in the wrong status.
type StateError struct {
	ID     string
	Status Status
	Op     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s upload task %s while %s", e.Op, e.ID, e.Status)
}
