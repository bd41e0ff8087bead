// Package noteservice coordinates vault storage, the retrieval index,
// and the capture queue behind one application-facing API.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/checksum"
	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/parser"
	"github.com/starford/dagaz/internal/queue"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vault"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path     string   `json:"path"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Content  string   `json:"content"`
	Checksum string   `json:"checksum"`
	Tags     []string `json:"tags"`
	Links    []string `json:"links"`
}

// BatchDetail is a batch together with its pages.
type BatchDetail struct {
	models.Batch
	Display string        `json:"display_status"`
	Pages   []models.Page `json:"pages"`
}

// Service coordinates storage, index, and queue operations.
type Service struct {
	store  storage.Provider
	engine *index.Engine
	queue  *queue.Store
	coord  *queue.Coordinator
	bundle index.BundleOptions
}

// NewService creates a new service over the shared components.
func NewService(store storage.Provider, engine *index.Engine, qs *queue.Store, coord *queue.Coordinator) *Service {
	return &Service{store: store, engine: engine, queue: qs, coord: coord}
}

// SetBundleDefaults sets the baseline retrieval options applied when a
// caller leaves a field unset.
func (s *Service) SetBundleDefaults(opts index.BundleOptions) {
	s.bundle = opts
}

// GetNote reads and parses a note from the vault.
func (s *Service) GetNote(_ context.Context, notePath string) (*NoteDetail, error) {
	if !vault.NoteFolder(notePath) {
		return nil, apperr.ErrNotFound
	}
	data, err := s.store.Read(notePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Path:     notePath,
		Title:    res.Title,
		Summary:  res.Summary,
		Content:  string(data),
		Checksum: checksum.Sum(data),
		Tags:     nonNilSlice(res.Tags),
		Links:    nonNilSlice(res.Links),
	}, nil
}

// ApplyOperation validates and applies one proposed file operation,
// keeping the index in step with the vault.
func (s *Service) ApplyOperation(_ context.Context, op vault.FileOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	switch op.Action {
	case vault.ActionCreate:
		if s.store.Exists(op.Path) {
			return apperr.ErrAlreadyExists
		}
		if err := s.store.Write(op.Path, []byte(op.Content)); err != nil {
			return err
		}
		return s.engine.IndexNote(op.Path)
	case vault.ActionUpdate:
		if !s.store.Exists(op.Path) {
			return apperr.ErrNotFound
		}
		if err := s.store.Write(op.Path, []byte(op.Content)); err != nil {
			return err
		}
		return s.engine.IndexNote(op.Path)
	case vault.ActionDelete:
		if err := s.store.Delete(op.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return apperr.ErrNotFound
			}
			return err
		}
		return s.engine.RemoveNote(op.Path)
	}
	return fmt.Errorf("noteservice: unknown action %q", op.Action)
}

// ListNotes returns the current ledger entries.
func (s *Service) ListNotes(_ context.Context) []index.Entry {
	return s.engine.Entries()
}

// Search runs a full-text query over the vault.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchHit, error) {
	return s.engine.SearchNotes(query, limit)
}

// QueryContext assembles the grounded context bundle for a query. An
// optional batch id seeds the bundle with the notes that batch
// produced.
func (s *Service) QueryContext(_ context.Context, query, batchID string, opts index.BundleOptions) index.ContextBundle {
	var seeds []string
	if batchID != "" {
		if pages, err := s.queue.PagesForBatch(batchID); err == nil {
			// Most recent pages first: the freshest notes are the most
			// likely grounding for a follow-up question.
			for i := len(pages) - 1; i >= 0; i-- {
				if p := pages[i]; p.NotePath != "" {
					seeds = append(seeds, p.NotePath)
				}
			}
		}
	}
	if opts.MaxNotes == 0 {
		opts.MaxNotes = s.bundle.MaxNotes
	}
	if opts.CharBudget == 0 {
		opts.CharBudget = s.bundle.CharBudget
	}
	if !opts.ExpandLinks {
		opts.ExpandLinks = s.bundle.ExpandLinks
		if opts.MaxLinked == 0 {
			opts.MaxLinked = s.bundle.MaxLinked
		}
	}
	return s.engine.BuildBundle(query, seeds, opts)
}

// CreateBatch opens a new capture batch for a notebook.
func (s *Service) CreateBatch(_ context.Context, notebookID string) (*models.Batch, error) {
	now := time.Now().UTC()
	b := models.Batch{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		Status:     models.BatchOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.queue.CreateBatch(b); err != nil {
		return nil, err
	}
	return &b, nil
}

// AddPage stores a captured image under Scans/ and registers the page
// on its batch. pageNumber orders pages within the batch.
func (s *Service) AddPage(_ context.Context, batchID, filename string, data []byte, pageNumber int) (*models.Page, error) {
	b, err := s.queue.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BatchOpen {
		return nil, fmt.Errorf("noteservice: batch %s is %s, cannot add pages", batchID, b.Status)
	}

	id := uuid.NewString()
	imagePath := path.Join(vault.ScansDir, scanFilename(id, filename))
	if err := s.store.Write(imagePath, data); err != nil {
		return nil, err
	}

	p := models.Page{
		ID:           id,
		BatchID:      batchID,
		Status:       models.PageCaptured,
		RawImagePath: imagePath,
		PageNumber:   pageNumber,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.queue.CreatePage(p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetBatch returns one batch with its pages.
func (s *Service) GetBatch(_ context.Context, id string) (*BatchDetail, error) {
	b, err := s.queue.GetBatch(id)
	if err != nil {
		return nil, err
	}
	pages, err := s.queue.PagesForBatch(id)
	if err != nil {
		return nil, err
	}
	return &BatchDetail{Batch: *b, Display: b.Status.Display(), Pages: nonNilSlice(pages)}, nil
}

// ListBatches returns all batches, newest first.
func (s *Service) ListBatches(_ context.Context) ([]models.Batch, error) {
	return s.queue.ListBatches()
}

// QueueBatch submits a batch for processing.
func (s *Service) QueueBatch(_ context.Context, id string) error {
	return s.coord.QueueBatch(id)
}

// RetryBatch requeues an errored batch.
func (s *Service) RetryBatch(_ context.Context, id string) error {
	return s.coord.RetryBatch(id)
}

// RetryPage requeues a single errored page.
func (s *Service) RetryPage(_ context.Context, id string) error {
	return s.coord.RetryPage(id)
}

// Process requests a processing pass.
func (s *Service) Process(_ context.Context) {
	s.coord.Trigger()
}

// scanFilename builds the stored image name from the page id and the
// upload's extension, marking it as the raw capture.
func scanFilename(id, original string) string {
	ext := strings.ToLower(path.Ext(original))
	if ext == "" {
		ext = ".jpg"
	}
	return id + "_raw" + ext
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
