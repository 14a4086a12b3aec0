// Package ledger keeps a SQLite history of publish attempts. It is
// observational: nothing reads it back to resume an upload.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// StatusRunning marks a record between Begin and Finish. Finish stores
// whatever status the caller reports.
const StatusRunning = "running"

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
	dirPerms           = 0o700
)

var (
	// ErrNotFound is returned by Get and Finish for an unknown id.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrAlreadyFinished is returned by Finish for a record that already
	// holds a terminal state.
	ErrAlreadyFinished = errors.New("ledger: record already finished")
)

const (
	sqlBegin = `INSERT INTO publish_history
		(id, file_name, title, total_bytes, acknowledged, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)`

	sqlProgress = `UPDATE publish_history
		SET acknowledged = MAX(acknowledged, ?), updated_at = ?
		WHERE id = ? AND finished_at IS NULL`

	sqlFinish = `UPDATE publish_history
		SET status = ?, video_id = ?, error_msg = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND finished_at IS NULL`

	sqlSelectColumns = `SELECT id, file_name, title, total_bytes, acknowledged, status,
		video_id, error_msg, started_at, finished_at FROM publish_history`

	sqlGet    = sqlSelectColumns + ` WHERE id = ?`
	sqlRecent = sqlSelectColumns + ` ORDER BY started_at DESC, id LIMIT ?`
)

// Record is one publish attempt.
type Record struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	Title        string    `json:"title"`
	Total        int64     `json:"total_bytes"`
	Acknowledged int64     `json:"bytes_acknowledged"`
	Status       string    `json:"status"`
	VideoID      string    `json:"video_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// Finished reports whether the attempt reached a terminal state.
func (r *Record) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Store is the history database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies
// migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing database: %w", err)
	}

	return nil
}

// Begin inserts a running record.
func (s *Store) Begin(ctx context.Context, id, fileName, title string, total int64) error {
	now := s.nowFunc().UnixNano()

	if _, err := s.db.ExecContext(ctx, sqlBegin, id, fileName, title, total, StatusRunning, now, now); err != nil {
		return fmt.Errorf("ledger: inserting record %s: %w", id, err)
	}

	return nil
}

// Progress raises the acknowledged byte count of a running record. It never
// moves the count backwards.
func (s *Store) Progress(ctx context.Context, id string, acknowledged int64) error {
	if _, err := s.db.ExecContext(ctx, sqlProgress, acknowledged, s.nowFunc().UnixNano(), id); err != nil {
		return fmt.Errorf("ledger: updating progress for %s: %w", id, err)
	}

	return nil
}

// Finish stores the terminal state of a running record. A finished record is
// never overwritten.
func (s *Store) Finish(ctx context.Context, id, status, videoID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	now := s.nowFunc().UnixNano()

	res, err := s.db.ExecContext(ctx, sqlFinish, status, videoID, msg, now, now, id)
	if err != nil {
		return fmt.Errorf("ledger: finishing record %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}

		return fmt.Errorf("%w: %s", ErrAlreadyFinished, id)
	}

	return nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, sqlGet, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("ledger: reading record %s: %w", id, err)
	}

	return rec, nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// selects the default.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	limit = min(limit, maxRecentLimit)

	rows, err := s.db.QueryContext(ctx, sqlRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing records: %w", err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scanning record: %w", err)
		}

		out = append(out, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating records: %w", err)
	}

	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec      Record
		started  int64
		finished sql.NullInt64
	)

	if err := sc.Scan(
		&rec.ID, &rec.FileName, &rec.Title, &rec.Total, &rec.Acknowledged, &rec.Status,
		&rec.VideoID, &rec.Error, &started, &finished,
	); err != nil {
		return nil, err
	}

	rec.StartedAt = time.Unix(0, started)
	if finished.Valid {
		rec.FinishedAt = time.Unix(0, finished.Int64)
	}

	return &rec, nil
}
