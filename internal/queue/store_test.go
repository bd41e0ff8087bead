package queue

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

func testQueueStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkBatch(t *testing.T, s *Store, id, notebook string, status models.BatchStatus, created time.Time) models.Batch {
	t.Helper()
	b := models.Batch{ID: id, NotebookID: notebook, Status: status, CreatedAt: created, UpdatedAt: created}
	if err := s.CreateBatch(b); err != nil {
		t.Fatalf("CreateBatch(%s): %v", id, err)
	}
	return b
}

func mkPage(t *testing.T, s *Store, id, batchID string, num int) models.Page {
	t.Helper()
	p := models.Page{
		ID:           id,
		BatchID:      batchID,
		Status:       models.PageCaptured,
		RawImagePath: "Scans/" + id + "_raw.jpg",
		PageNumber:   num,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreatePage(p); err != nil {
		t.Fatalf("CreatePage(%s): %v", id, err)
	}
	return p
}

func TestBatchRoundTrip(t *testing.T) {
	s := testQueueStore(t)
	created := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	mkBatch(t, s, "b1", "nb1", models.BatchOpen, created)

	got, err := s.GetBatch("b1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.NotebookID != "nb1" || got.Status != models.BatchOpen {
		t.Errorf("batch = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	s := testQueueStore(t)
	if _, err := s.GetBatch("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueuedBatchesOrdering(t *testing.T) {
	s := testQueueStore(t)
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	mkBatch(t, s, "b-late", "nb2", models.BatchQueued, base.Add(2*time.Hour))
	mkBatch(t, s, "b-early", "nb2", models.BatchQueued, base)
	mkBatch(t, s, "b-first-nb", "nb1", models.BatchQueued, base.Add(time.Hour))
	mkBatch(t, s, "b-open", "nb1", models.BatchOpen, base)

	got, err := s.QueuedBatches()
	if err != nil {
		t.Fatalf("QueuedBatches: %v", err)
	}
	want := []string{"b-first-nb", "b-early", "b-late"}
	if len(got) != len(want) {
		t.Fatalf("got %d batches, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("batch[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestSetBatchStatus(t *testing.T) {
	s := testQueueStore(t)
	mkBatch(t, s, "b1", "nb1", models.BatchOpen, time.Now().UTC())

	if err := s.SetBatchStatus("b1", models.BatchQueued); err != nil {
		t.Fatalf("SetBatchStatus: %v", err)
	}
	got, _ := s.GetBatch("b1")
	if got.Status != models.BatchQueued {
		t.Errorf("status = %s", got.Status)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("updated_at not bumped")
	}

	if err := s.SetBatchStatus("b1", models.BatchStatus("bogus")); !errors.Is(err, apperr.ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
	if err := s.SetBatchStatus("missing", models.BatchQueued); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPagesForBatchOrder(t *testing.T) {
	s := testQueueStore(t)
	mkBatch(t, s, "b1", "nb1", models.BatchOpen, time.Now().UTC())
	mkPage(t, s, "p2", "b1", 2)
	mkPage(t, s, "p1", "b1", 1)
	mkPage(t, s, "p3", "b1", 3)

	pages, err := s.PagesForBatch("b1")
	if err != nil {
		t.Fatalf("PagesForBatch: %v", err)
	}
	want := []string{"p1", "p2", "p3"}
	for i, id := range want {
		if pages[i].ID != id {
			t.Errorf("page[%d] = %s, want %s", i, pages[i].ID, id)
		}
	}
}

func TestUpdatePagePersistsPayloads(t *testing.T) {
	s := testQueueStore(t)
	mkBatch(t, s, "b1", "nb1", models.BatchOpen, time.Now().UTC())
	p := mkPage(t, s, "p1", "b1", 1)

	p.Status = models.PageStructured
	p.Transcript = "shopping list"
	p.TranscriptJSON = `{"transcript":"shopping list","confidence":0.9}`
	p.StructuredMD = "# Shopping"
	p.Confidence = 0.9
	p.NotePath = "Daily/2026-02-03.md"
	if err := s.UpdatePage(p); err != nil {
		t.Fatalf("UpdatePage: %v", err)
	}

	got, err := s.GetPage("p1")
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if got.Transcript != p.Transcript || got.NotePath != p.NotePath || got.Confidence != 0.9 {
		t.Errorf("page = %+v", got)
	}
}

func TestSetPageErrorAndStatus(t *testing.T) {
	s := testQueueStore(t)
	mkBatch(t, s, "b1", "nb1", models.BatchOpen, time.Now().UTC())
	mkPage(t, s, "p1", "b1", 1)

	if err := s.SetPageError("p1", "model output empty"); err != nil {
		t.Fatalf("SetPageError: %v", err)
	}
	got, _ := s.GetPage("p1")
	if got.Status != models.PageError || got.Error != "model output empty" {
		t.Errorf("page = %+v", got)
	}

	// Re-entering the pipeline clears the stored error.
	if err := s.SetPageStatus("p1", models.PageCaptured); err != nil {
		t.Fatalf("SetPageStatus: %v", err)
	}
	got, _ = s.GetPage("p1")
	if got.Status != models.PageCaptured || got.Error != "" {
		t.Errorf("page = %+v", got)
	}
}
