// Package models defines the domain types for Dagaz.
package models

import "time"

// PageStatus is the lifecycle state of a single captured page.
type PageStatus string

// Page lifecycle states. A page advances captured → preprocessing →
// transcribing → structured → filed; error is reachable from any
// non-terminal state and filed is terminal.
const (
	PageCaptured      PageStatus = "captured"
	PagePreprocessing PageStatus = "preprocessing"
	PageTranscribing  PageStatus = "transcribing"
	PageStructured    PageStatus = "structured"
	PageFiled         PageStatus = "filed"
	PageError         PageStatus = "error"
)

// Valid reports whether s is a known page status.
func (s PageStatus) Valid() bool {
	switch s {
	case PageCaptured, PagePreprocessing, PageTranscribing, PageStructured, PageFiled, PageError:
		return true
	}
	return false
}

// Terminal reports whether a page in this state is done being processed.
func (s PageStatus) Terminal() bool {
	return s == PageFiled
}

// BatchStatus is the lifecycle state of a capture batch.
type BatchStatus string

// Batch lifecycle states. A batch advances open → queued → processing →
// done|error; user retry moves it back to queued.
const (
	BatchOpen       BatchStatus = "open"
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchDone       BatchStatus = "done"
	BatchError      BatchStatus = "error"
)

// Valid reports whether s is a known batch status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchOpen, BatchQueued, BatchProcessing, BatchDone, BatchError:
		return true
	}
	return false
}

// Display returns the user-facing label for a batch status. An errored
// batch awaiting retry is shown as "blocked".
func (s BatchStatus) Display() string {
	if s == BatchError {
		return "blocked"
	}
	return string(s)
}

// Page is one captured notebook page and its derived payloads.
// The raw image is immutable once written; the page itself is immutable
// once filed.
type Page struct {
	ID                string     `json:"id"`
	BatchID           string     `json:"batch_id"`
	CreatedAt         time.Time  `json:"created_at"`
	Status            PageStatus `json:"status"`
	RawImagePath      string     `json:"raw_image_path"`
	EnhancedImagePath string     `json:"enhanced_image_path,omitempty"`
	Transcript        string     `json:"transcript,omitempty"`
	TranscriptJSON    string     `json:"transcript_json,omitempty"`
	StructuredMD      string     `json:"structured_md,omitempty"`
	StructuredJSON    string     `json:"structured_json,omitempty"`
	Confidence        float64    `json:"confidence,omitempty"`
	PageNumber        int        `json:"page_number,omitempty"`
	NotePath          string     `json:"note_path,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// ImagePath returns the best available image for processing: the enhanced
// image when present, otherwise the raw capture.
func (p Page) ImagePath() string {
	if p.EnhancedImagePath != "" {
		return p.EnhancedImagePath
	}
	return p.RawImagePath
}

// Batch is a group of pages captured in one session.
type Batch struct {
	ID         string      `json:"id"`
	NotebookID string      `json:"notebook_id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Status     BatchStatus `json:"status"`
}

// NoteMetadata is a lightweight representation returned by storage list
// operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
