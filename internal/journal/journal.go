// Package journal records every image invocation in a SQL database so past
// prompts and their output files can be listed and searched.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"imagetool/internal/db"
)

// Entry is one journaled invocation.
type Entry struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Operation    string    `json:"operation"`
	Prompt       string    `json:"prompt"`
	OutputPath   string    `json:"output_path,omitempty"`
	MIMEType     string    `json:"mime_type,omitempty"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	Status       string    `json:"status"` // StatusOK or StatusError
	Error        string    `json:"error,omitempty"`
	Duration     Millis    `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Millis is a duration that marshals as whole milliseconds.
type Millis int64

func (m Millis) Duration() time.Duration { return time.Duration(m) * time.Millisecond }

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// rowsErrFunc lets tests force the rows.Err() path.
type rowsErrFunc func(*sql.Rows) error

// Store persists entries in the invocations table with an FTS5 index over prompts.
type Store struct {
	db      *sql.DB
	owned   bool
	rowsErr rowsErrFunc
}

// Open connects to dbURL (see db.Connect) and migrates the schema. Close
// releases the connection.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	conn, err := db.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	s, err := New(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing connection and migrates the schema. Close leaves
// conn open.
func New(ctx context.Context, conn *sql.DB) (*Store, error) {
	if conn == nil {
		return nil, errors.New("journal: db must not be nil")
	}
	s := &Store{db: conn}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS invocations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invocation_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			prompt TEXT NOT NULL,
			output_path TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS invocations_fts USING fts5(prompt)`)
	return err
}

// Close closes the connection if Open created it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// Record inserts e and indexes its prompt. It returns the new row ID.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Operation == "" || e.Status == "" {
		return 0, errors.New("journal: operation and status are required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO invocations
			(invocation_id, operation, prompt, output_path, mime_type, width, height, status, error, duration_ms, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.InvocationID, e.Operation, e.Prompt, e.OutputPath, e.MIMEType, e.Width, e.Height,
		e.Status, e.Error, int64(e.Duration), e.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO invocations_fts(rowid, prompt) VALUES (?, ?)", id, e.Prompt); err != nil {
		return 0, fmt.Errorf("journal index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

const selectColumns = `i.id, i.invocation_id, i.operation, i.prompt, i.output_path, i.mime_type,
	i.width, i.height, i.status, i.error, i.duration_ms, i.created_at_ms`

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM invocations i ORDER BY i.id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return s.scan(rows)
}

// Search returns up to limit entries whose prompt contains every word of
// query, newest first. Words are matched as FTS5 tokens, so punctuation in
// query is not interpreted as search syntax.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM invocations_fts f
		JOIN invocations i ON i.id = f.rowid
		WHERE invocations_fts MATCH ?
		ORDER BY i.id DESC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("journal search: %w", err)
	}
	return s.scan(rows)
}

// ftsQuery quotes each word as an FTS5 string so the terms are ANDed literally.
func ftsQuery(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}

func (s *Store) scan(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var dur, created int64
		if err := rows.Scan(&e.ID, &e.InvocationID, &e.Operation, &e.Prompt, &e.OutputPath, &e.MIMEType,
			&e.Width, &e.Height, &e.Status, &e.Error, &dur, &created); err != nil {
			return nil, err
		}
		e.Duration = Millis(dur)
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	rowsErr := rows.Err()
	if s.rowsErr != nil {
		rowsErr = s.rowsErr(rows)
	}
	if rowsErr != nil {
		return nil, rowsErr
	}
	return out, nil
}
