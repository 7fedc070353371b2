package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bryan-buckman/listfeed/internal/model"
)

// SQL fetches JSON list documents from the documents table created by the
// database package.
type SQL struct {
	conn  *sql.DB
	query string
}

// NewSQLite reads documents through an SQLite connection.
func NewSQLite(conn *sql.DB) *SQL {
	return &SQL{conn: conn, query: "SELECT body FROM documents WHERE id = ?"}
}

// NewPostgres reads documents through a PostgreSQL connection.
func NewPostgres(conn *sql.DB) *SQL {
	return &SQL{conn: conn, query: "SELECT body FROM documents WHERE id = $1"}
}

// Fetch returns the document stored under id.
func (s *SQL) Fetch(ctx context.Context, id string) (*model.RawDocument, error) {
	var body string
	err := s.conn.QueryRowContext(ctx, s.query, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", model.ErrDocumentMissing, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query document %s: %w", id, err)
	}
	var doc model.RawDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return &doc, nil
}
