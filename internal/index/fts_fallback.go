//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	// FTS5 not compiled in; prefix search uses LIKE over a plain table.
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS notes_fts (
			path    TEXT PRIMARY KEY,
			title   TEXT NOT NULL DEFAULT '',
			body    TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			tags    TEXT NOT NULL DEFAULT '',
			links   TEXT NOT NULL DEFAULT ''
		);
	`)
	return err
}

// Upsert replaces the stored row for one note.
func (s *SearchStore) Upsert(path, title, body, summary string, tags, links []string) error {
	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO notes_fts (path, title, body, summary, tags, links)
		VALUES (?, ?, ?, ?, ?, ?)
	`, path, title, body, summary, strings.Join(tags, " "), strings.Join(links, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

// Delete removes the row for path.
func (s *SearchStore) Delete(path string) error {
	if _, err := s.conn.Exec(`DELETE FROM notes_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	return nil
}

// Query matches any token as a prefix of a word in title, body, summary,
// tags, or links (LIKE fallback, unranked beyond match count).
func (s *SearchStore) Query(tokens []string, limit int) ([]SearchHit, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var conds []string
	var args []any
	for _, t := range tokens {
		like := "%" + t + "%"
		conds = append(conds, `(title LIKE ? OR body LIKE ? OR summary LIKE ? OR tags LIKE ? OR links LIKE ?)`)
		args = append(args, like, like, like, like, like)
	}
	args = append(args, limit)

	rows, err := s.conn.Query(`
		SELECT path, title, substr(body, 1, 200)
		FROM notes_fts
		WHERE `+strings.Join(conds, " OR ")+`
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Path, &h.Title, &h.Snippet); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
