package index

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/dagaz/internal/parser"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vault"
)

// Engine keeps the ledger, the structure snapshot, and the search store
// consistent on every note write or removal. All mutation runs under one
// mutex: the ledger is read-modify-write and is not safe under
// concurrent writers.
type Engine struct {
	mu     sync.Mutex
	store  storage.Provider
	search *SearchStore // nil when at-rest encryption disables search
	log    *slog.Logger
}

// NewEngine creates an Engine. Pass a nil search store to run with
// full-text search disabled.
func NewEngine(store storage.Provider, search *SearchStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, search: search, log: log}
}

// SearchEnabled reports whether a full-text store is attached.
func (e *Engine) SearchEnabled() bool {
	return e.search != nil
}

// IndexNote parses the note at path and updates ledger, search store,
// and structure snapshot. The note file must already be written.
func (e *Engine) IndexNote(path string) error {
	if !vault.NoteFolder(path) {
		return fmt.Errorf("index: %s is not under a note folder", path)
	}
	data, err := e.store.Read(path)
	if err != nil {
		return err
	}
	entry, body, err := parseEntry(path, data)
	if err != nil {
		return err
	}
	entry.UpdatedAt = time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	ledger := readLedger(e.store)
	if err := writeLedger(e.store, upsertEntry(ledger.Notes, entry)); err != nil {
		return err
	}
	if e.search != nil {
		if err := e.search.Upsert(entry.Path, entry.Title, body, entry.Summary, entry.Tags, entry.Links); err != nil {
			return err
		}
	}
	return e.writeStructureLocked()
}

// RemoveNote drops path from ledger and search store and refreshes the
// structure snapshot. The note file itself must already be gone (or be
// deleted by the caller); the ledger mirrors disk, not intent.
func (e *Engine) RemoveNote(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ledger := readLedger(e.store)
	if err := writeLedger(e.store, removeEntry(ledger.Notes, path)); err != nil {
		return err
	}
	if e.search != nil {
		if err := e.search.Delete(path); err != nil {
			return err
		}
	}
	return e.writeStructureLocked()
}

// Reconcile rebuilds the ledger and the search store from the note files
// actually on disk. This is the recovery path for a crash between a
// note write and its ledger update, and runs at startup and after
// watcher-detected external edits.
func (e *Engine) Reconcile() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var entries []Entry
	type indexed struct {
		entry Entry
		body  string
	}
	var all []indexed

	for _, folder := range vault.Folders() {
		metas, err := e.store.List(folder)
		if err != nil {
			return fmt.Errorf("index: reconcile list %s: %w", folder, err)
		}
		for _, m := range metas {
			data, err := e.store.Read(m.Path)
			if err != nil {
				e.log.Warn("reconcile: read failed",
					slog.String("path", m.Path), slog.String("error", err.Error()))
				continue
			}
			entry, body, err := parseEntry(m.Path, data)
			if err != nil {
				e.log.Warn("reconcile: parse failed",
					slog.String("path", m.Path), slog.String("error", err.Error()))
				continue
			}
			entry.UpdatedAt = m.UpdatedAt
			entries = append(entries, entry)
			all = append(all, indexed{entry: entry, body: body})
		}
	}

	if err := writeLedger(e.store, entries); err != nil {
		return err
	}

	if e.search != nil {
		if err := e.search.Reset(); err != nil {
			return err
		}
		for _, n := range all {
			if err := e.search.Upsert(n.entry.Path, n.entry.Title, n.body, n.entry.Summary, n.entry.Tags, n.entry.Links); err != nil {
				return err
			}
		}
	}

	e.log.Info("index: reconciled", slog.Int("notes", len(entries)))
	return e.writeStructureLocked()
}

// Entries returns the current ledger entries.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return readLedger(e.store).Notes
}

// LedgerJSON returns the raw ledger file for prompt context, or an
// empty object when absent.
func (e *Engine) LedgerJSON() string {
	data, err := e.store.Read(vault.LedgerFile)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// StructureText returns the current structure snapshot, or empty.
func (e *Engine) StructureText() string {
	data, err := e.store.Read(vault.StructureFile)
	if err != nil {
		return ""
	}
	return string(data)
}

// SearchNotes tokenizes query and runs it against the search store. With
// search disabled it falls back to keyword scoring over the ledger.
func (e *Engine) SearchNotes(query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	tokens := tokenize(query)
	if e.search != nil {
		return e.search.Query(tokens, limit)
	}

	var hits []SearchHit
	for _, sc := range scoreLedger(e.Entries(), tokens, true) {
		hits = append(hits, SearchHit{Path: sc.entry.Path, Title: sc.entry.Title})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// writeStructureLocked regenerates STRUCTURE.txt from the live tree.
// Callers hold e.mu.
func (e *Engine) writeStructureLocked() error {
	text, err := buildStructure(e.store.Root())
	if err != nil {
		return fmt.Errorf("index: build structure: %w", err)
	}
	return e.store.Write(vault.StructureFile, []byte(text))
}

// parseEntry builds a ledger entry (and the parsed body for the search
// store) from raw note bytes.
func parseEntry(path string, data []byte) (Entry, string, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return Entry{}, "", err
	}
	title := res.Title
	if title == "" {
		title = titleFromPath(path)
	}
	return Entry{
		Path:    path,
		Title:   title,
		Summary: res.Summary,
		Tags:    res.Tags,
		Links:   res.Links,
	}, res.Body, nil
}
