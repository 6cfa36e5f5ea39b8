// Package proto defines the wire messages exchanged with the ingestion
// console backend: live-channel event envelopes and REST payloads. The
// backend owns every shape here; this package mirrors it, never extends it.
package proto

// Event types carried in Envelope.Type. Wire strings are the backend's.
const (
	TypeConnected      = "connected"
	TypeStatesUpdated  = "states_updated"
	TypePageStarted    = "page_started"
	TypePageCompleted  = "page_completed"
	TypeIndexUpdated   = "qdrant_data_updated"
	TypeIndexingStatus = "indexing_status"
)

// Pipeline steps reported in StateUpdate.CurrentStep and as Steps keys.
const (
	StepOCR       = "ocr"
	StepEmbedding = "embedding"
	StepIngestion = "ingestion"
)

// KnownType reports whether t is an envelope type this client understands.
// Unknown types are dropped by the channel reader, never treated as errors.
func KnownType(t string) bool {
	switch t {
	case TypeConnected, TypeStatesUpdated, TypePageStarted,
		TypePageCompleted, TypeIndexUpdated, TypeIndexingStatus:
		return true
	}
	return false
}

// Envelope is the tagged union pushed on the live channel. Type selects
// which of the remaining fields carry data; the rest stay zero.
type Envelope struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`

	// states_updated
	States map[string]StateUpdate `json:"states,omitempty"`

	// page_started and page_completed
	DocID          string `json:"doc_id,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	Page           int    `json:"page,omitempty"`
	TotalPages     int    `json:"total_pages,omitempty"`
	CompletedPages int    `json:"completed_pages,omitempty"`

	// qdrant_data_updated
	Context string                     `json:"context,omitempty"`
	Data    map[string]BucketDocuments `json:"data,omitempty"`
}

// BucketDocuments maps file name to its index entry within one bucket.
type BucketDocuments map[string]IndexedDocument

// StateUpdate is one backend processing record, pushed in states_updated
// events and returned by the processing-states query. Pointer fields
// distinguish absent from zero so partial updates merge instead of erase.
// The backend emits isError/errorMessage in camelCase, the rest snake_case.
type StateUpdate struct {
	DocID          string                  `json:"doc_id,omitempty"`
	Bucket         string                  `json:"company_id,omitempty"`
	FileName       string                  `json:"file_name,omitempty"`
	Processing     *bool                   `json:"is_processing,omitempty"`
	Queued         *bool                   `json:"is_queued,omitempty"`
	Progress       *int                    `json:"progress,omitempty"`
	Message        string                  `json:"message,omitempty"`
	CurrentStep    string                  `json:"current_step,omitempty"`
	CurrentPage    *int                    `json:"current_page,omitempty"`
	TotalPages     *int                    `json:"total_pages,omitempty"`
	CompletedPages *int                    `json:"completed_pages,omitempty"`
	Failed         *bool                   `json:"isError,omitempty"`
	Error          string                  `json:"errorMessage,omitempty"`
	Steps          map[string]StepProgress `json:"steps,omitempty"`
	Logs           []string                `json:"logs,omitempty"`
	StartTime      string                  `json:"start_time,omitempty"`
	CompletionTime string                  `json:"completion_time,omitempty"`
}

// Terminal reports whether the update describes a finished document:
// either a hard failure or processing that ran to completion.
func (s StateUpdate) Terminal() bool {
	if s.Failed != nil && *s.Failed {
		return true
	}
	done := s.Processing != nil && !*s.Processing
	queued := s.Queued != nil && *s.Queued
	return done && !queued && s.CompletionTime != ""
}

// StepProgress is per-step page accounting inside a StateUpdate.
type StepProgress struct {
	CurrentPage    int    `json:"current_page,omitempty"`
	TotalPages     int    `json:"total_pages,omitempty"`
	CompletedPages int    `json:"completed_pages,omitempty"`
	Message        string `json:"message,omitempty"`
}

// IndexedDocument is one document's entry in the remote index.
type IndexedDocument struct {
	DocID      string `json:"doc_id"`
	UploadTime string `json:"upload_time,omitempty"`
	Pages      []int  `json:"pages,omitempty"`
}

// PageCount returns the number of indexed pages.
func (d IndexedDocument) PageCount() int { return len(d.Pages) }

// SnapshotResponse wraps the companies-with-documents query.
type SnapshotResponse struct {
	Success bool                       `json:"success"`
	Data    map[string]BucketDocuments `json:"data,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

// DispatchRequest asks the backend to process files already present in a
// bucket's knowledge directory. Acceptance is not completion; progress
// arrives on the live channel.
type DispatchRequest struct {
	Bucket string   `json:"company_id"`
	Files  []string `json:"files"`
}

// ErrorResponse is the backend's error body. Plain handlers return
// {"detail": ...}; the snapshot endpoint returns {"success": false,
// "error": ...}. Both are tolerated.
type ErrorResponse struct {
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Text returns whichever error field the backend populated.
func (e ErrorResponse) Text() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error
}

// Bool and Int build pointers for optional wire fields.
func Bool(v bool) *bool { return &v }

// Int is the *int counterpart of Bool.
func Int(v int) *int { return &v }
