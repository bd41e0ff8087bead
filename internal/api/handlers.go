package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/noteservice"
	"github.com/starford/dagaz/internal/vault"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note path from the URL (everything after /api/notes/).
// Supports encoded slashes from OpenAPI clients (e.g. Ideas%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List indexed notes
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes := h.svc.ListNotes(r.Context())
	if notes == nil {
		notes = []index.Entry{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a single note by path
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get note failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	h.applyWrite(w, r, vault.FileOperation{
		Action:  vault.ActionCreate,
		Path:    req.Path,
		Content: req.Content,
	}, http.StatusCreated)
}

// UpdateNote handles PUT /api/notes/*.
//
//	@Summary		Update a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string				true	"Note path"
//	@Param			If-Match	header	string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body	UpdateNoteRequest	true	"Updated content"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		existing, err := h.svc.GetNote(r.Context(), path)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorBody("not found"))
			} else {
				writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			}
			return
		}
		if existing.Checksum != ifMatch {
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
			return
		}
	}

	h.applyWrite(w, r, vault.FileOperation{
		Action:  vault.ActionUpdate,
		Path:    path,
		Content: req.Content,
	}, http.StatusOK)
}

// applyWrite runs a create/update operation and responds with the
// resulting note detail.
func (h *Handler) applyWrite(w http.ResponseWriter, r *http.Request, op vault.FileOperation, okStatus int) {
	if err := h.svc.ApplyOperation(r.Context(), op); err != nil {
		switch {
		case errors.Is(err, apperr.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorBody("note already exists"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}
	note, err := h.svc.GetNote(r.Context(), op.Path)
	if err != nil {
		slog.Error("read back note failed", slog.String("path", op.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, okStatus, note)
}

// DeleteNote handles DELETE /api/notes/*.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			path	path	string	true	"Note path"
//	@Success		204		"Note deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	err := h.svc.ApplyOperation(r.Context(), vault.FileOperation{
		Action: vault.ActionDelete,
		Path:   path,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []index.SearchHit{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Context handles GET /api/context.
//
//	@Summary		Assemble grounded context for a query
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Query text"
//	@Param			batch	query		string	false	"Preferred batch id to seed from"
//	@Param			links	query		bool	false	"Follow outbound wikilinks"
//	@Success		200		{object}	index.ContextBundle
//	@Security		BearerAuth
//	@Router			/context [get]
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := index.BundleOptions{}
	if q.Get("links") == "true" {
		opts.ExpandLinks = true
		opts.MaxLinked = 4
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.MaxNotes = n
	}
	bundle := h.svc.QueryContext(r.Context(), q.Get("q"), q.Get("batch"), opts)
	writeJSON(w, http.StatusOK, bundle)
}

// Process handles POST /api/process.
//
//	@Summary		Request a queue processing pass
//	@Tags			queue
//	@Success		202	"Pass requested"
//	@Security		BearerAuth
//	@Router			/process [post]
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	h.svc.Process(r.Context())
	w.WriteHeader(http.StatusAccepted)
}
