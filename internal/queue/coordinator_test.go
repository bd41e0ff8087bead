package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vault"
)

// fakeProc scripts per-image outcomes keyed by the image bytes.
type fakeProc struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	onCall func() // runs before each Process, for cancellation tests
}

func (f *fakeProc) Process(ctx context.Context, image []byte, mime string, pctx pipeline.Context) (*pipeline.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(image))
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.failOn[string(image)]; err != nil {
		return nil, err
	}
	title := "Note for " + string(image)
	return &pipeline.Result{
		Transcript:     "transcript of " + string(image),
		TranscriptJSON: fmt.Sprintf(`{"transcript":"transcript of %s","confidence":0.9}`, image),
		Markdown:       "body of " + string(image),
		StructuredJSON: fmt.Sprintf(`{"title":%q,"folder":"Ideas"}`, title),
		Title:          title,
		Folder:         vault.FolderIdeas,
		Confidence:     0.9,
	}, nil
}

func (f *fakeProc) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	store *Store
	files storage.Provider
	proc  *fakeProc
	coord *Coordinator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	files, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	proc := &fakeProc{failOn: map[string]error{}}
	engine := index.NewEngine(files, nil, nil)
	writer := vault.NewWriter(files, nil)
	store := testQueueStore(t)
	return &harness{
		store: store,
		files: files,
		proc:  proc,
		coord: NewCoordinator(store, files, proc, writer, engine, nil, opts...),
	}
}

// seedBatch creates a queued batch with n pages and their scan images.
func (h *harness) seedBatch(t *testing.T, id string, n int) []models.Page {
	t.Helper()
	now := time.Now().UTC()
	if err := h.store.CreateBatch(models.Batch{
		ID: id, NotebookID: "nb1", Status: models.BatchQueued,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	var pages []models.Page
	for i := 1; i <= n; i++ {
		p := models.Page{
			ID:           fmt.Sprintf("%s-p%d", id, i),
			BatchID:      id,
			Status:       models.PageCaptured,
			RawImagePath: fmt.Sprintf("Scans/%s-p%d_raw.jpg", id, i),
			PageNumber:   i,
			CreatedAt:    now,
		}
		if err := h.store.CreatePage(p); err != nil {
			t.Fatal(err)
		}
		if err := h.files.Write(p.RawImagePath, []byte(p.ID)); err != nil {
			t.Fatal(err)
		}
		pages = append(pages, p)
	}
	return pages
}

func TestRunPassFilesPages(t *testing.T) {
	h := newHarness(t)
	h.seedBatch(t, "b1", 2)

	requeue, err := h.coord.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if requeue {
		t.Error("requeue = true")
	}

	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchDone {
		t.Errorf("batch status = %s, want done", b.Status)
	}
	pages, _ := h.store.PagesForBatch("b1")
	for _, p := range pages {
		if p.Status != models.PageFiled {
			t.Errorf("page %s status = %s, want filed", p.ID, p.Status)
		}
		if p.NotePath == "" {
			t.Errorf("page %s has no note path", p.ID)
		}
		if !h.files.Exists(p.NotePath) {
			t.Errorf("note %s missing from vault", p.NotePath)
		}
		sp := vault.SidecarPath(p.RawImagePath)
		if !h.files.Exists(sp) {
			t.Errorf("sidecar %s missing", sp)
		}
	}
	// Both notes indexed.
	if !h.files.Exists(vault.LedgerFile) {
		t.Error("ledger missing after pass")
	}
}

func TestRunPassPageFailureIsolated(t *testing.T) {
	h := newHarness(t)
	pages := h.seedBatch(t, "b1", 2)
	h.proc.failOn[pages[0].ID] = pipeline.ErrEmptyTranscript

	if _, err := h.coord.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	p1, _ := h.store.GetPage(pages[0].ID)
	if p1.Status != models.PageError || !strings.Contains(p1.Error, "transcript") {
		t.Errorf("failed page = %+v", p1)
	}
	p2, _ := h.store.GetPage(pages[1].ID)
	if p2.Status != models.PageFiled {
		t.Errorf("sibling page status = %s, want filed", p2.Status)
	}
	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchError {
		t.Errorf("batch status = %s, want error", b.Status)
	}
	if b.Status.Display() != "blocked" {
		t.Errorf("display = %s, want blocked", b.Status.Display())
	}
}

func TestRunPassSkipsSettledPages(t *testing.T) {
	h := newHarness(t)
	pages := h.seedBatch(t, "b1", 3)
	if err := h.store.SetPageStatus(pages[0].ID, models.PageFiled); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetPageError(pages[1].ID, "earlier failure"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.coord.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if got := h.proc.callCount(); got != 1 {
		t.Errorf("processor called %d times, want 1", got)
	}
	// Errored page left for manual retry keeps the batch in error.
	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchError {
		t.Errorf("batch status = %s, want error", b.Status)
	}
	p, _ := h.store.GetPage(pages[1].ID)
	if p.Error != "earlier failure" {
		t.Errorf("errored page touched: %+v", p)
	}
}

type closedGate struct{}

func (closedGate) Ready(context.Context) (bool, string) { return false, "power: not charging" }

func TestRunPassGateDeferred(t *testing.T) {
	h := newHarness(t, WithGate(closedGate{}))
	h.seedBatch(t, "b1", 1)

	requeue, err := h.coord.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if !requeue {
		t.Error("requeue = false, want true")
	}
	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchQueued {
		t.Errorf("batch status = %s, want queued (untouched)", b.Status)
	}
	if h.proc.callCount() != 0 {
		t.Error("processor called despite closed gate")
	}
}

func TestRunPassCancellationLeavesBatchProcessing(t *testing.T) {
	h := newHarness(t)
	h.seedBatch(t, "b1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	h.proc.onCall = cancel // cancel during the first page

	if _, err := h.coord.RunPass(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunPass err = %v, want context.Canceled", err)
	}

	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchProcessing {
		t.Errorf("batch status = %s, want processing (resumable)", b.Status)
	}
	pages, _ := h.store.PagesForBatch("b1")
	for _, p := range pages {
		if p.Status == models.PageError {
			t.Errorf("page %s marked error on cancellation", p.ID)
		}
	}
	if h.proc.callCount() != 1 {
		t.Errorf("processor called %d times after cancel, want 1", h.proc.callCount())
	}
}

func TestRetryPage(t *testing.T) {
	h := newHarness(t)
	pages := h.seedBatch(t, "b1", 2)
	h.proc.failOn[pages[0].ID] = pipeline.ErrEmptyTitle
	if _, err := h.coord.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := h.coord.RetryPage(pages[0].ID); err != nil {
		t.Fatalf("RetryPage: %v", err)
	}
	p, _ := h.store.GetPage(pages[0].ID)
	if p.Status != models.PageCaptured || p.Error != "" {
		t.Errorf("retried page = %+v", p)
	}
	sibling, _ := h.store.GetPage(pages[1].ID)
	if sibling.Status != models.PageFiled {
		t.Errorf("sibling status = %s, want filed (untouched)", sibling.Status)
	}
	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchQueued {
		t.Errorf("batch status = %s, want queued", b.Status)
	}

	// The retried pass files the page once the model cooperates.
	delete(h.proc.failOn, pages[0].ID)
	if _, err := h.coord.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}
	p, _ = h.store.GetPage(pages[0].ID)
	if p.Status != models.PageFiled {
		t.Errorf("page after retry pass = %s, want filed", p.Status)
	}
	b, _ = h.store.GetBatch("b1")
	if b.Status != models.BatchDone {
		t.Errorf("batch after retry pass = %s, want done", b.Status)
	}
}

func TestRetryPageRejectsNonErrored(t *testing.T) {
	h := newHarness(t)
	pages := h.seedBatch(t, "b1", 1)
	if err := h.coord.RetryPage(pages[0].ID); err == nil {
		t.Error("expected error retrying a captured page")
	}
}

func TestRetryBatch(t *testing.T) {
	h := newHarness(t)
	pages := h.seedBatch(t, "b1", 3)
	h.proc.failOn[pages[0].ID] = pipeline.ErrEmptyMarkdown
	h.proc.failOn[pages[2].ID] = pipeline.ErrEmptyMarkdown
	if _, err := h.coord.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := h.coord.RetryBatch("b1"); err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	got, _ := h.store.PagesForBatch("b1")
	wantStatus := []models.PageStatus{models.PageCaptured, models.PageFiled, models.PageCaptured}
	for i, p := range got {
		if p.Status != wantStatus[i] {
			t.Errorf("page %s status = %s, want %s", p.ID, p.Status, wantStatus[i])
		}
	}
	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchQueued {
		t.Errorf("batch status = %s, want queued", b.Status)
	}
}

func TestQueueBatch(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	if err := h.store.CreateBatch(models.Batch{
		ID: "b1", NotebookID: "nb1", Status: models.BatchOpen,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.coord.QueueBatch("b1"); err != nil {
		t.Fatalf("QueueBatch: %v", err)
	}
	b, _ := h.store.GetBatch("b1")
	if b.Status != models.BatchQueued {
		t.Errorf("status = %s, want queued", b.Status)
	}

	// Queueing an already-queued batch is rejected.
	if err := h.coord.QueueBatch("b1"); err == nil {
		t.Error("expected error queueing a queued batch")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.coord.Trigger()
	}
	if got := len(h.coord.trigger); got != 1 {
		t.Errorf("pending triggers = %d, want 1", got)
	}
}

func TestRunLoopServesTrigger(t *testing.T) {
	h := newHarness(t)
	h.seedBatch(t, "b1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.RunLoop(ctx) }()

	h.coord.Trigger()

	deadline := time.After(5 * time.Second)
	for {
		b, err := h.store.GetBatch("b1")
		if err == nil && b.Status == models.BatchDone {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batch never completed, status = %s", b.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunLoop returned %v", err)
	}
}

func TestMimeForPath(t *testing.T) {
	cases := map[string]string{
		"Scans/a_raw.jpg":  "image/jpeg",
		"Scans/a_raw.JPG":  "image/jpeg",
		"Scans/a_raw.png":  "image/png",
		"Scans/a_raw.webp": "image/webp",
		"Scans/a_raw.heic": "image/heic",
		"Scans/a_raw":      "image/jpeg",
	}
	for in, want := range cases {
		if got := mimeForPath(in); got != want {
			t.Errorf("mimeForPath(%q) = %q, want %q", in, got, want)
		}
	}
}
