//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			path UNINDEXED,
			title,
			body,
			summary,
			tags,
			links,
			tokenize = 'porter unicode61 remove_diacritics 2'
		);
	`)
	return err
}

// Upsert replaces the FTS entry for one note.
func (s *SearchStore) Upsert(path, title, body, summary string, tags, links []string) error {
	_, _ = s.conn.Exec(`DELETE FROM notes_fts WHERE path = ?`, path)
	_, err := s.conn.Exec(`
		INSERT INTO notes_fts (path, title, body, summary, tags, links)
		VALUES (?, ?, ?, ?, ?, ?)
	`, path, title, body, summary, strings.Join(tags, " "), strings.Join(links, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

// Delete removes the FTS entry for path.
func (s *SearchStore) Delete(path string) error {
	if _, err := s.conn.Exec(`DELETE FROM notes_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	return nil
}

// Query runs a disjunctive prefix query over the tokens and returns
// relevance-ranked hits with a body snippet.
func (s *SearchStore) Query(tokens []string, limit int) ([]SearchHit, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		terms = append(terms, `"`+t+`"*`)
	}
	match := strings.Join(terms, " OR ")

	rows, err := s.conn.Query(`
		SELECT path,
		       title,
		       snippet(notes_fts, 2, '', '', '...', 40)
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
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
