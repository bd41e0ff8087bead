package vault

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/dagaz/internal/storage"
)

// Sidecar is the traceability record written next to each captured
// image: which page produced which note, and the exact model payloads.
type Sidecar struct {
	PageID            string          `json:"page_id"`
	BatchID           string          `json:"batch_id"`
	CapturedAt        time.Time       `json:"captured_at"`
	RawImagePath      string          `json:"raw_image_path"`
	EnhancedImagePath string          `json:"enhanced_image_path,omitempty"`
	NotePath          string          `json:"note_path"`
	NoteTitle         string          `json:"note_title"`
	Transcript        string          `json:"transcript"`
	TranscriptJSON    json.RawMessage `json:"transcript_json,omitempty"`
	Structured        string          `json:"structured"`
	StructuredJSON    json.RawMessage `json:"structured_json,omitempty"`
}

// SidecarPath derives the sidecar location from an image path: the
// "_raw" suffix is stripped from the filename stem and the extension
// replaced with .json, in the same directory as the image.
func SidecarPath(imagePath string) string {
	dir, file := path.Split(imagePath)
	stem := strings.TrimSuffix(file, path.Ext(file))
	stem = strings.TrimSuffix(stem, "_raw")
	return dir + stem + ".json"
}

// ReadSidecar loads and parses the sidecar for the given image path.
func ReadSidecar(store storage.Provider, imagePath string) (*Sidecar, error) {
	data, err := store.Read(SidecarPath(imagePath))
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("vault: parse sidecar for %s: %w", imagePath, err)
	}
	return &sc, nil
}
