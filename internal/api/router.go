package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dagaz/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)

	// Search and grounded retrieval.
	r.Get("/search", h.Search)
	r.Get("/context", h.Context)

	// Capture and queue.
	r.Post("/scans", h.UploadScans)
	r.Get("/batches", h.ListBatches)
	r.Get("/batches/{id}", h.GetBatch)
	r.Post("/batches/{id}/queue", h.QueueBatch)
	r.Post("/batches/{id}/retry", h.RetryBatch)
	r.Post("/pages/{id}/retry", h.RetryPage)
	r.Post("/process", h.Process)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
