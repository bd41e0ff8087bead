package index

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// SearchStore is the SQLite-backed full-text store. It lives in its own
// database file so it can be deleted wholesale when at-rest encryption
// is enabled (the store would otherwise leak plaintext).
type SearchStore struct {
	conn *sql.DB
	path string
}

// SearchHit is one ranked full-text match.
type SearchHit struct {
	Path    string
	Title   string
	Snippet string
}

// OpenSearch opens (or creates) the search database and applies the
// schema for the compiled search backend.
func OpenSearch(path string) (*SearchStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open search db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping search db: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply search schema: %w", err)
	}
	return &SearchStore{conn: conn, path: path}, nil
}

// Close closes the underlying database connection.
func (s *SearchStore) Close() error {
	return s.conn.Close()
}

// Reset drops every indexed note, for a wholesale rebuild.
func (s *SearchStore) Reset() error {
	if _, err := s.conn.Exec(`DELETE FROM notes_fts`); err != nil {
		return fmt.Errorf("index: reset search store: %w", err)
	}
	return nil
}

// RemoveSearchFiles deletes the search database and its WAL/SHM
// companions. Used when encryption settings disable the store.
func RemoveSearchFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("index: remove search file %s: %w", p, err)
		}
	}
	return nil
}
