// Package catalog keeps a durable record of every recording session in
// SQLite: what was recorded where, how it ended and how many rows reached
// the artifact.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// ErrNotFound is returned when no session matches an id
var ErrNotFound = errors.New("session not found")

// Session is one catalog entry
type Session struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Artifact       string     `json:"artifact"`
	Profile        string     `json:"profile"`
	Channels       int        `json:"channels"`
	WindowCapacity int        `json:"window_capacity"`
	StartedAt      time.Time  `json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	Status         string     `json:"status"`

	Outcome
}

// Outcome is what a session produced, recorded when it ends
type Outcome struct {
	RowsWritten      int64  `json:"rows_written"`
	WindowsWritten   int    `json:"windows_written"`
	AbandonedRows    int    `json:"abandoned_rows"`
	Skipped          int64  `json:"skipped"`
	Discarded        int64  `json:"discarded"`
	ProtocolWarnings int64  `json:"protocol_warnings"`
	Error            string `json:"error,omitempty"`
}

// Catalog is the SQLite-backed session store
type Catalog struct {
	db *sql.DB
}

// Open creates or opens the catalog database at path, creating its
// directory if needed. It is safe to call on an existing catalog.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Begin records a session that has just started
func (c *Catalog) Begin(ctx context.Context, s Session) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, artifact, profile, channels, window_capacity, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Artifact, s.Profile, s.Channels, s.WindowCapacity, formatTime(s.StartedAt), s.Status)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// Finish records how the session ended
func (c *Catalog) Finish(ctx context.Context, id string, stoppedAt time.Time, status string, o Outcome) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE sessions
		SET stopped_at = ?, status = ?, rows_written = ?, windows_written = ?, abandoned_rows = ?,
		    skipped = ?, discarded = ?, protocol_warnings = ?, error = ?
		WHERE id = ?
	`, formatTime(stoppedAt), status, o.RowsWritten, o.WindowsWritten, o.AbandonedRows,
		o.Skipped, o.Discarded, o.ProtocolWarnings, o.Error, id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns the session with the given id
func (c *Catalog) Get(ctx context.Context, id string) (*Session, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List returns the most recent sessions first; limit <= 0 returns all
func (c *Catalog) List(ctx context.Context, limit int) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

const sessionColumns = `id, name, artifact, profile, channels, window_capacity, started_at, stopped_at, status,
	rows_written, windows_written, abandoned_rows, skipped, discarded, protocol_warnings, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s         Session
		startedAt string
		stoppedAt sql.NullString
	)
	err := row.Scan(&s.ID, &s.Name, &s.Artifact, &s.Profile, &s.Channels, &s.WindowCapacity,
		&startedAt, &stoppedAt, &s.Status,
		&s.RowsWritten, &s.WindowsWritten, &s.AbandonedRows, &s.Skipped, &s.Discarded, &s.ProtocolWarnings, &s.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if stoppedAt.Valid {
		t, err := parseTime(stoppedAt.String)
		if err != nil {
			return nil, err
		}
		s.StoppedAt = &t
	}
	return &s, nil
}

// Times are stored as fixed-width UTC strings so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", v, err)
	}
	return t, nil
}
