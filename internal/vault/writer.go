package vault

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/storage"
)

const (
	// entryHeadingMarker detects that a daily note already contains at
	// least one dated entry, which decides whether a separator is
	// inserted before the next append.
	entryHeadingMarker = "## "
	// untitledEntry is the heading used when a structured title is blank.
	untitledEntry = "Untitled entry"
	// transcriptHeading is appended with the raw transcript unless the
	// structured markdown already carries an equivalent section.
	transcriptHeading = "## Transcript"
)

var separatorRuns = regexp.MustCompile(`[ _-]+`)

// Writer commits validated processing results to the vault. All file
// writes go through the storage provider and are therefore atomic.
type Writer struct {
	store storage.Provider
	log   *slog.Logger
}

// NewWriter creates a Writer over the given vault storage.
func NewWriter(store storage.Provider, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{store: store, log: log}
}

// WriteResult reports where a page landed.
type WriteResult struct {
	NotePath    string
	NoteTitle   string
	SidecarPath string
}

// WriteNote commits one processed page: the note file (created or merged
// for date-aggregated folders) and the sidecar metadata record.
func (w *Writer) WriteNote(page models.Page, res *pipeline.Result) (*WriteResult, error) {
	body := composeBody(res)

	var notePath string
	var err error
	if DateAggregated(res.Folder) {
		notePath, err = w.writeDateEntry(res.Folder, page, res.Title, body)
	} else {
		notePath, err = w.writeCategoryNote(res.Folder, res.Title, body)
	}
	if err != nil {
		return nil, err
	}

	scPath, err := w.writeSidecar(page, res, notePath)
	if err != nil {
		return nil, err
	}

	w.log.Info("vault: note written",
		slog.String("page_id", page.ID),
		slog.String("note", notePath),
		slog.String("folder", res.Folder))

	return &WriteResult{NotePath: notePath, NoteTitle: res.Title, SidecarPath: scPath}, nil
}

// writeDateEntry creates or appends to the one note for the page's
// capture date. Prior content is never rewritten; a horizontal rule is
// inserted before the new entry only when the file already holds a
// dated entry.
func (w *Writer) writeDateEntry(folder string, page models.Page, title, body string) (string, error) {
	date := page.CreatedAt.Format("2006-01-02")
	notePath := folder + "/" + date + ".md"

	heading := strings.TrimSpace(title)
	if heading == "" {
		heading = untitledEntry
	}
	entry := entryHeadingMarker + heading + "\n\n" + strings.TrimSpace(body) + "\n"

	if !w.store.Exists(notePath) {
		content := "# " + date + "\n\n" + entry
		return notePath, w.store.Write(notePath, []byte(content))
	}

	existing, err := w.store.Read(notePath)
	if err != nil {
		return "", err
	}
	prior := strings.TrimRight(string(existing), "\n")

	var sb strings.Builder
	sb.WriteString(prior)
	if strings.Contains(prior, entryHeadingMarker) {
		sb.WriteString("\n\n---\n\n")
	} else {
		sb.WriteString("\n\n")
	}
	sb.WriteString(entry)
	return notePath, w.store.Write(notePath, []byte(sb.String()))
}

// writeCategoryNote creates a one-page note in a category folder. The
// filename comes from the sanitized title and is disambiguated with a
// numeric suffix until unused.
func (w *Writer) writeCategoryNote(folder, title, body string) (string, error) {
	base := SanitizeFilename(title)
	notePath := folder + "/" + base + ".md"
	for n := 2; w.store.Exists(notePath); n++ {
		notePath = fmt.Sprintf("%s/%s-%d.md", folder, base, n)
	}
	return notePath, w.store.Write(notePath, []byte(strings.TrimSpace(body)+"\n"))
}

// writeSidecar records the traceability sidecar keyed by the raw image.
func (w *Writer) writeSidecar(page models.Page, res *pipeline.Result, notePath string) (string, error) {
	sc := Sidecar{
		PageID:            page.ID,
		BatchID:           page.BatchID,
		CapturedAt:        page.CreatedAt.UTC(),
		RawImagePath:      page.RawImagePath,
		EnhancedImagePath: page.EnhancedImagePath,
		NotePath:          notePath,
		NoteTitle:         res.Title,
		Transcript:        res.Transcript,
		Structured:        res.Markdown,
	}
	if json.Valid([]byte(res.TranscriptJSON)) {
		sc.TranscriptJSON = json.RawMessage(res.TranscriptJSON)
	}
	if json.Valid([]byte(res.StructuredJSON)) {
		sc.StructuredJSON = json.RawMessage(res.StructuredJSON)
	}

	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("vault: marshal sidecar: %w", err)
	}
	scPath := SidecarPath(page.RawImagePath)
	if err := w.store.Write(scPath, data); err != nil {
		return "", err
	}
	return scPath, nil
}

// composeBody builds the note body: the structured markdown plus the raw
// transcript under its own heading, unless an equivalent section already
// exists (checked case-insensitively).
func composeBody(res *pipeline.Result) string {
	body := strings.TrimSpace(res.Markdown)
	if strings.Contains(strings.ToLower(body), strings.ToLower(transcriptHeading)) {
		return body
	}
	transcript := strings.TrimSpace(res.Transcript)
	if transcript == "" {
		return body
	}
	return body + "\n\n" + transcriptHeading + "\n\n" + transcript
}

// SanitizeFilename strips a title down to alphanumerics, spaces, dashes,
// and underscores, collapses separator runs, and falls back to "note"
// when nothing survives.
func SanitizeFilename(title string) string {
	var sb strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			sb.WriteRune(r)
		}
	}
	name := separatorRuns.ReplaceAllStringFunc(sb.String(), func(run string) string {
		return string(run[0])
	})
	name = strings.Trim(name, " -_")
	if name == "" {
		return "note"
	}
	return name
}
