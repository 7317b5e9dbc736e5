// Package repository stores pets and events as JSON documents in SQLite,
// grouped by collection.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no document has the requested id.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	start_at INTEGER,
	end_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_period ON documents(collection, start_at, end_at);
`

// Period is the time span a document covers, used by range queries.
type Period struct {
	Start time.Time
	End   time.Time
}

// Store is the SQLite-backed document store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers; SQLite would otherwise report
	// SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) insert(ctx context.Context, collection, id string, data []byte, period *Period) error {
	start, end := periodColumns(period)
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, start_at, end_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, collection, id, string(data), start, end, now, now)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) replace(ctx context.Context, collection, id string, data []byte, period *Period) error {
	start, end := periodColumns(period)
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET data = ?, start_at = ?, end_at = ?, updated_at = ?
		WHERE collection = ? AND id = ?
	`, string(data), start, end, time.Now().UnixMilli(), collection, id)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return expectOne(res)
}

func (s *Store) remove(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return expectOne(res)
}

func (s *Store) get(ctx context.Context, collection, id string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return []byte(data), nil
}

func (s *Store) list(ctx context.Context, collection string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM documents WHERE collection = ? ORDER BY rowid
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return scanData(rows)
}

// overlapping returns documents whose period intersects [start, end], bounds
// included, ordered by start then end.
func (s *Store) overlapping(ctx context.Context, collection string, start, end time.Time) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM documents
		WHERE collection = ? AND start_at IS NOT NULL AND start_at <= ? AND end_at >= ?
		ORDER BY start_at, end_at, id
	`, collection, end.UnixMilli(), start.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query %s period: %w", collection, err)
	}
	return scanData(rows)
}

func scanData(rows *sql.Rows) ([][]byte, error) {
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, []byte(data))
	}
	return out, rows.Err()
}

func periodColumns(period *Period) (any, any) {
	if period == nil {
		return nil, nil
	}
	end := period.End
	if end.IsZero() || end.Before(period.Start) {
		end = period.Start
	}
	return period.Start.UnixMilli(), end.UnixMilli()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
