package api

import (
	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"Ideas/compost.md" validate:"required"`
	Content string `json:"content" example:"# Compost\nLayers" validate:"required"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListResponse wraps the ledger listing.
type NoteListResponse struct {
	Notes []index.Entry `json:"notes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchHit `json:"results" validate:"required"`
}

// ScanUploadResponse is returned after a successful scan upload.
type ScanUploadResponse struct {
	Batch models.Batch  `json:"batch" validate:"required"`
	Pages []models.Page `json:"pages" validate:"required"`
}

// BatchListResponse wraps a batch listing with display labels.
type BatchListResponse struct {
	Batches []BatchSummary `json:"batches" validate:"required"`
}

// BatchSummary is one batch in a list response.
type BatchSummary struct {
	models.Batch
	Display string `json:"display_status" example:"blocked"`
}
