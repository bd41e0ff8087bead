package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/noteservice"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/queue"
	"github.com/starford/dagaz/internal/testutil"
	"github.com/starford/dagaz/internal/vault"
)

type procStub struct{}

func (procStub) Process(context.Context, []byte, string, pipeline.Context) (*pipeline.Result, error) {
	return nil, errors.New("not used")
}

// testEnv sets up a temp vault, queue DB, service, and router.
// authToken="" means auth disabled.
func testEnv(t *testing.T, authToken string) (*noteservice.Service, http.Handler) {
	t.Helper()

	_, store := testutil.TestVault(t)
	qs := testutil.TestQueueDB(t)

	engine := index.NewEngine(store, nil, nil)
	writer := vault.NewWriter(store, nil)
	coord := queue.NewCoordinator(qs, store, procStub{}, writer, engine, nil)
	svc := noteservice.NewService(store, engine, qs, coord)
	return svc, NewRouter(svc, authToken != "", authToken, nil)
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetNote(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/notes", map[string]string{
		"path":    "Ideas/hello.md",
		"content": "# Hello\nWorld",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/notes/Ideas/hello.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	if note.Path != "Ideas/hello.md" {
		t.Errorf("path = %q", note.Path)
	}
	if note.Title != "Hello" {
		t.Errorf("title = %q, want Hello", note.Title)
	}
}

func TestCreateNoteRejectsNonVaultPath(t *testing.T) {
	_, router := testEnv(t, "")
	w := doJSON(t, router, http.MethodPost, "/notes", map[string]string{
		"path":    "Scans/evil.md",
		"content": "nope",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateNoteConflict(t *testing.T) {
	_, router := testEnv(t, "")
	body := map[string]string{"path": "Ideas/dup.md", "content": "# Dup"}
	if w := doJSON(t, router, http.MethodPost, "/notes", body); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, "/notes", body); w.Code != http.StatusConflict {
		t.Errorf("second create = %d, want 409", w.Code)
	}
}

func TestUpdateNoteIfMatch(t *testing.T) {
	svc, router := testEnv(t, "")
	ctx := context.Background()
	if err := svc.ApplyOperation(ctx, vault.FileOperation{
		Action: vault.ActionCreate, Path: "Ideas/etag.md", Content: "# One",
	}); err != nil {
		t.Fatal(err)
	}
	note, err := svc.GetNote(ctx, "Ideas/etag.md")
	if err != nil {
		t.Fatal(err)
	}

	// Stale checksum is rejected.
	data, _ := json.Marshal(map[string]string{"content": "# Two"})
	req := httptest.NewRequest(http.MethodPut, "/notes/Ideas/etag.md", bytes.NewReader(data))
	req.Header.Set("If-Match", `"deadbeef"`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("stale update = %d, want 409", w.Code)
	}

	// Matching checksum goes through.
	req = httptest.NewRequest(http.MethodPut, "/notes/Ideas/etag.md", bytes.NewReader(data))
	req.Header.Set("If-Match", note.Checksum)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestDeleteNote(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPost, "/notes", map[string]string{
		"path": "Ideas/gone.md", "content": "# Gone",
	})

	if w := doJSON(t, router, http.MethodDelete, "/notes/Ideas/gone.md", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/notes/Ideas/gone.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPost, "/notes", map[string]string{
		"path": "Ideas/a.md", "content": "# A",
	})
	doJSON(t, router, http.MethodPost, "/notes", map[string]string{
		"path": "Reference/b.md", "content": "# B",
	})

	w := doJSON(t, router, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Notes) != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	_, router := testEnv(t, "")
	if w := doJSON(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPost, "/notes", map[string]string{
		"path": "Ideas/kiln.md", "content": "---\ntitle: Kiln schedule\n---\n\nfiring\n",
	})

	w := doJSON(t, router, http.MethodGet, "/search?q=kiln", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Path != "Ideas/kiln.md" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestContextBundle(t *testing.T) {
	_, router := testEnv(t, "")
	doJSON(t, router, http.MethodPost, "/notes", map[string]string{
		"path": "Ideas/kiln.md", "content": "---\ntitle: Kiln schedule\n---\n\nfiring\n",
	})

	w := doJSON(t, router, http.MethodGet, "/context?q=kiln", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("context = %d", w.Code)
	}
	var bundle index.ContextBundle
	_ = json.Unmarshal(w.Body.Bytes(), &bundle)
	if len(bundle.Notes) != 1 || bundle.Notes[0].Path != "Ideas/kiln.md" {
		t.Errorf("bundle = %+v", bundle.Notes)
	}

	// No match yields an empty bundle, not an error.
	w = doJSON(t, router, http.MethodGet, "/context?q=zymurgy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("context = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &bundle)
	if len(bundle.Notes) != 0 {
		t.Errorf("bundle for no-match = %+v", bundle.Notes)
	}
}

func uploadScans(t *testing.T, router http.Handler, notebook string, queueNow bool, names ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("notebook", notebook)
	if queueNow {
		_ = mw.WriteField("queue", "true")
	}
	for _, name := range names {
		fw, err := mw.CreateFormFile("pages", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte("image-bytes-" + name)); err != nil {
			t.Fatal(err)
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/scans", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadScans(t *testing.T) {
	_, router := testEnv(t, "")

	w := uploadScans(t, router, "field-notes", false, "p1.jpg", "p2.png")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ScanUploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Batch.NotebookID != "field-notes" || resp.Batch.Status != models.BatchOpen {
		t.Errorf("batch = %+v", resp.Batch)
	}
	if len(resp.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(resp.Pages))
	}
	if resp.Pages[0].PageNumber != 1 || resp.Pages[1].PageNumber != 2 {
		t.Errorf("page numbers = %d, %d", resp.Pages[0].PageNumber, resp.Pages[1].PageNumber)
	}

	// Batch is retrievable with its pages.
	w = doJSON(t, router, http.MethodGet, "/batches/"+resp.Batch.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get batch = %d", w.Code)
	}
	var detail noteservice.BatchDetail
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if len(detail.Pages) != 2 {
		t.Errorf("detail pages = %d", len(detail.Pages))
	}
}

func TestUploadScansQueueImmediately(t *testing.T) {
	_, router := testEnv(t, "")
	w := uploadScans(t, router, "nb", true, "p1.jpg")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d", w.Code)
	}
	var resp ScanUploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Batch.Status != models.BatchQueued {
		t.Errorf("batch status = %s, want queued", resp.Batch.Status)
	}
}

func TestUploadScansRequiresPages(t *testing.T) {
	_, router := testEnv(t, "")
	w := uploadScans(t, router, "nb", false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestQueueAndRetryEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	w := uploadScans(t, router, "nb", false, "p1.jpg")
	var resp ScanUploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	if w := doJSON(t, router, http.MethodPost, "/batches/"+resp.Batch.ID+"/queue", nil); w.Code != http.StatusAccepted {
		t.Errorf("queue = %d", w.Code)
	}
	// Queueing twice conflicts.
	if w := doJSON(t, router, http.MethodPost, "/batches/"+resp.Batch.ID+"/queue", nil); w.Code != http.StatusConflict {
		t.Errorf("second queue = %d, want 409", w.Code)
	}
	// Retrying a page that is not errored conflicts.
	if w := doJSON(t, router, http.MethodPost, "/pages/"+resp.Pages[0].ID+"/retry", nil); w.Code != http.StatusConflict {
		t.Errorf("retry fresh page = %d, want 409", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, "/pages/missing/retry", nil); w.Code != http.StatusNotFound {
		t.Errorf("retry missing page = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, "/process", nil); w.Code != http.StatusAccepted {
		t.Errorf("process = %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router := testEnv(t, "sekrit")

	w := doJSON(t, router, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token = %d, want 200", w.Code)
	}
}
