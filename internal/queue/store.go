// Package queue persists capture batches and pages and drives them
// through the processing pipeline.
package queue

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	notebook_id TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
	id                  TEXT PRIMARY KEY,
	batch_id            TEXT NOT NULL REFERENCES batches(id),
	status              TEXT NOT NULL DEFAULT 'captured',
	raw_image_path      TEXT NOT NULL,
	enhanced_image_path TEXT NOT NULL DEFAULT '',
	transcript          TEXT NOT NULL DEFAULT '',
	transcript_json     TEXT NOT NULL DEFAULT '',
	structured_md       TEXT NOT NULL DEFAULT '',
	structured_json     TEXT NOT NULL DEFAULT '',
	confidence          REAL NOT NULL DEFAULT 0,
	page_number         INTEGER NOT NULL DEFAULT 0,
	note_path           TEXT NOT NULL DEFAULT '',
	error               TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pages_batch ON pages(batch_id);
CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
`

// Store is the SQLite-backed batch/page repository.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the queue database and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("queue: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateBatch inserts a new batch row.
func (s *Store) CreateBatch(b models.Batch) error {
	_, err := s.conn.Exec(`
		INSERT INTO batches (id, notebook_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.NotebookID, string(b.Status), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("queue: create batch: %w", err)
	}
	return nil
}

// GetBatch loads one batch by id.
func (s *Store) GetBatch(id string) (*models.Batch, error) {
	row := s.conn.QueryRow(`
		SELECT id, notebook_id, status, created_at, updated_at
		FROM batches WHERE id = ?
	`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns all batches, newest first.
func (s *Store) ListBatches() ([]models.Batch, error) {
	return s.queryBatches(`
		SELECT id, notebook_id, status, created_at, updated_at
		FROM batches ORDER BY created_at DESC
	`)
}

// QueuedBatches returns batches eligible for a processing pass, ordered
// by owning notebook then creation time.
func (s *Store) QueuedBatches() ([]models.Batch, error) {
	return s.queryBatches(`
		SELECT id, notebook_id, status, created_at, updated_at
		FROM batches WHERE status = ?
		ORDER BY notebook_id, created_at
	`, string(models.BatchQueued))
}

// SetBatchStatus updates a batch's status and bumps updated_at.
func (s *Store) SetBatchStatus(id string, status models.BatchStatus) error {
	if !status.Valid() {
		return fmt.Errorf("queue: %w: %q", apperr.ErrInvalidStatus, status)
	}
	res, err := s.conn.Exec(`
		UPDATE batches SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("queue: set batch status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// CreatePage inserts a new page row.
func (s *Store) CreatePage(p models.Page) error {
	_, err := s.conn.Exec(`
		INSERT INTO pages (id, batch_id, status, raw_image_path, enhanced_image_path,
			transcript, transcript_json, structured_md, structured_json,
			confidence, page_number, note_path, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.BatchID, string(p.Status), p.RawImagePath, p.EnhancedImagePath,
		p.Transcript, p.TranscriptJSON, p.StructuredMD, p.StructuredJSON,
		p.Confidence, p.PageNumber, p.NotePath, p.Error, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("queue: create page: %w", err)
	}
	return nil
}

// GetPage loads one page by id.
func (s *Store) GetPage(id string) (*models.Page, error) {
	row := s.conn.QueryRow(pageSelect+` WHERE id = ?`, id)
	p, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get page: %w", err)
	}
	return p, nil
}

// PagesForBatch returns a batch's pages in capture order.
func (s *Store) PagesForBatch(batchID string) ([]models.Page, error) {
	rows, err := s.conn.Query(pageSelect+` WHERE batch_id = ? ORDER BY page_number, created_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("queue: pages for batch: %w", err)
	}
	defer rows.Close()

	var out []models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePage replaces a page's mutable columns.
func (s *Store) UpdatePage(p models.Page) error {
	if !p.Status.Valid() {
		return fmt.Errorf("queue: %w: %q", apperr.ErrInvalidStatus, p.Status)
	}
	res, err := s.conn.Exec(`
		UPDATE pages SET status = ?, enhanced_image_path = ?, transcript = ?,
			transcript_json = ?, structured_md = ?, structured_json = ?,
			confidence = ?, note_path = ?, error = ?
		WHERE id = ?
	`, string(p.Status), p.EnhancedImagePath, p.Transcript, p.TranscriptJSON,
		p.StructuredMD, p.StructuredJSON, p.Confidence, p.NotePath, p.Error, p.ID)
	if err != nil {
		return fmt.Errorf("queue: update page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetPageStatus updates a page's status, clearing any previous error.
func (s *Store) SetPageStatus(id string, status models.PageStatus) error {
	if !status.Valid() {
		return fmt.Errorf("queue: %w: %q", apperr.ErrInvalidStatus, status)
	}
	res, err := s.conn.Exec(`UPDATE pages SET status = ?, error = '' WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("queue: set page status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetPageError marks a page as errored with the failure message.
func (s *Store) SetPageError(id, msg string) error {
	res, err := s.conn.Exec(`UPDATE pages SET status = ?, error = ? WHERE id = ?`,
		string(models.PageError), msg, id)
	if err != nil {
		return fmt.Errorf("queue: set page error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

const pageSelect = `
	SELECT id, batch_id, status, raw_image_path, enhanced_image_path,
		transcript, transcript_json, structured_md, structured_json,
		confidence, page_number, note_path, error, created_at
	FROM pages`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryBatches(query string, args ...any) ([]models.Batch, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: query batches: %w", err)
	}
	defer rows.Close()

	var out []models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBatch(row rowScanner) (*models.Batch, error) {
	var b models.Batch
	var status string
	if err := row.Scan(&b.ID, &b.NotebookID, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)
	return &b, nil
}

func scanPage(row rowScanner) (*models.Page, error) {
	var p models.Page
	var status string
	err := row.Scan(&p.ID, &p.BatchID, &status, &p.RawImagePath, &p.EnhancedImagePath,
		&p.Transcript, &p.TranscriptJSON, &p.StructuredMD, &p.StructuredJSON,
		&p.Confidence, &p.PageNumber, &p.NotePath, &p.Error, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.PageStatus(status)
	return &p, nil
}
