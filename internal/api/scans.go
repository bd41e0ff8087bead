package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

const maxUploadBytes = 50 << 20 // 50 MB

// UploadScans handles POST /api/scans (multipart/form-data).
// Field "notebook" names the owning notebook; one or more "pages" files
// become the batch's pages in upload order. "queue=true" submits the
// batch immediately.
//
//	@Summary		Upload captured page images as a new batch
//	@Tags			scans
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{object}	ScanUploadResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scans [post]
func (h *Handler) UploadScans(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("upload too large or invalid multipart"))
		return
	}

	files := r.MultipartForm.File["pages"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("at least one 'pages' file is required"))
		return
	}

	batch, err := h.svc.CreateBatch(r.Context(), r.FormValue("notebook"))
	if err != nil {
		slog.Error("create batch failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	pages := make([]models.Page, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("unreadable upload: "+fh.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("unreadable upload: "+fh.Filename))
			return
		}
		p, err := h.svc.AddPage(r.Context(), batch.ID, fh.Filename, data, i+1)
		if err != nil {
			slog.Error("add page failed",
				slog.String("batch", batch.ID), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		pages = append(pages, *p)
	}

	if r.FormValue("queue") == "true" {
		if err := h.svc.QueueBatch(r.Context(), batch.ID); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		batch.Status = models.BatchQueued
	}

	writeJSON(w, http.StatusCreated, ScanUploadResponse{Batch: *batch, Pages: pages})
}

// ListBatches handles GET /api/batches.
//
//	@Summary		List capture batches
//	@Tags			scans
//	@Produce		json
//	@Success		200	{object}	BatchListResponse
//	@Security		BearerAuth
//	@Router			/batches [get]
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.svc.ListBatches(r.Context())
	if err != nil {
		slog.Error("list batches failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	out := make([]BatchSummary, len(batches))
	for i, b := range batches {
		out[i] = BatchSummary{Batch: b, Display: b.Status.Display()}
	}
	writeJSON(w, http.StatusOK, BatchListResponse{Batches: out})
}

// GetBatch handles GET /api/batches/{id}.
//
//	@Summary		Get one batch with its pages
//	@Tags			scans
//	@Produce		json
//	@Param			id	path		string	true	"Batch id"
//	@Success		200	{object}	noteservice.BatchDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/batches/{id} [get]
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// QueueBatch handles POST /api/batches/{id}/queue.
//
//	@Summary		Submit a batch for processing
//	@Tags			queue
//	@Param			id	path	string	true	"Batch id"
//	@Success		202	"Batch queued"
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/batches/{id}/queue [post]
func (h *Handler) QueueBatch(w http.ResponseWriter, r *http.Request) {
	h.queueAction(w, r, h.svc.QueueBatch, chi.URLParam(r, "id"))
}

// RetryBatch handles POST /api/batches/{id}/retry.
//
//	@Summary		Retry an errored batch
//	@Tags			queue
//	@Param			id	path	string	true	"Batch id"
//	@Success		202	"Batch requeued"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/batches/{id}/retry [post]
func (h *Handler) RetryBatch(w http.ResponseWriter, r *http.Request) {
	h.queueAction(w, r, h.svc.RetryBatch, chi.URLParam(r, "id"))
}

// RetryPage handles POST /api/pages/{id}/retry.
//
//	@Summary		Retry a single errored page
//	@Tags			queue
//	@Param			id	path	string	true	"Page id"
//	@Success		202	"Page requeued"
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id}/retry [post]
func (h *Handler) RetryPage(w http.ResponseWriter, r *http.Request) {
	h.queueAction(w, r, h.svc.RetryPage, chi.URLParam(r, "id"))
}

func (h *Handler) queueAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error, id string) {
	if err := fn(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
