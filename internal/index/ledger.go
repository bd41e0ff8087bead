// Package index maintains the note ledger, the structure snapshot, and
// the full-text search store, and assembles grounded context bundles
// for queries.
package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vault"
)

// Entry is the ledger projection of one note.
type Entry struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Links     []string  `json:"links,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ledger is the single source of truth for which notes exist. It is
// rewritten in full on every mutation.
type Ledger struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Notes       []Entry   `json:"notes"`
}

// readLedger loads INDEX.json. A missing or unreadable ledger yields an
// empty one; the reconcile pass is the recovery mechanism.
func readLedger(store storage.Provider) Ledger {
	data, err := store.Read(vault.LedgerFile)
	if err != nil {
		return Ledger{}
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return Ledger{}
	}
	return l
}

// writeLedger sorts entries by path and atomically rewrites INDEX.json.
func writeLedger(store storage.Provider, notes []Entry) error {
	sort.Slice(notes, func(i, j int) bool { return notes[i].Path < notes[j].Path })
	l := Ledger{GeneratedAt: time.Now().UTC(), Notes: notes}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal ledger: %w", err)
	}
	return store.Write(vault.LedgerFile, append(data, '\n'))
}

// upsertEntry replaces or inserts the entry for e.Path and returns the
// updated slice.
func upsertEntry(notes []Entry, e Entry) []Entry {
	for i := range notes {
		if notes[i].Path == e.Path {
			notes[i] = e
			return notes
		}
	}
	return append(notes, e)
}

// removeEntry drops the entry for path, if present.
func removeEntry(notes []Entry, path string) []Entry {
	out := notes[:0]
	for _, n := range notes {
		if n.Path != path {
			out = append(out, n)
		}
	}
	return out
}
