// Package vault writes validated processing results into the Markdown
// archive: note files, sidecar metadata, and externally proposed file
// operations.
package vault

import (
	"fmt"
	"strings"
)

// Fixed folder taxonomy. Daily aggregates one note per calendar date;
// the rest hold one note per page.
const (
	FolderDaily     = "Daily"
	FolderProjects  = "Projects"
	FolderPeople    = "People"
	FolderIdeas     = "Ideas"
	FolderReference = "Reference"
)

// ScansDir holds captured images and their sidecar metadata. It is not a
// note folder and is rejected as a file-operation target.
const ScansDir = "Scans"

// Ledger and structure snapshot filenames at the vault root.
const (
	LedgerFile    = "INDEX.json"
	StructureFile = "STRUCTURE.txt"
)

// Folders returns the note folder taxonomy in canonical order.
func Folders() []string {
	return []string{FolderDaily, FolderProjects, FolderPeople, FolderIdeas, FolderReference}
}

// ResolveFolder maps a classification string onto the taxonomy, folding
// case and surrounding whitespace. Anything that does not resolve is an
// error; classification output is never used as free text.
func ResolveFolder(name string) (string, error) {
	want := strings.ToLower(strings.TrimSpace(strings.Trim(name, "/")))
	for _, f := range Folders() {
		if strings.ToLower(f) == want {
			return f, nil
		}
	}
	return "", fmt.Errorf("vault: unknown folder %q", name)
}

// DateAggregated reports whether folder holds one note per calendar date
// rather than one note per page.
func DateAggregated(folder string) bool {
	return folder == FolderDaily
}

// NoteFolder reports whether the top-level segment of path is one of the
// taxonomy folders.
func NoteFolder(path string) bool {
	top, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	for _, f := range Folders() {
		if top == f {
			return true
		}
	}
	return false
}
