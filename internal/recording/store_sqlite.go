package recording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "scribe.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers so read-modify-write updates are atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		`CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			transcript TEXT,
			summary TEXT,
			duration_seconds INTEGER,
			error_reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_recordings_user_created ON recordings(user_id, created_at DESC)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, userID, title string) (Recording, error) {
	now := time.Now().UTC()
	rec := Recording{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     NormalizeTitle(title),
		Status:    StatusRecording,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (id, user_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Title, string(rec.Status), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanSQLiteRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, fmt.Errorf("query recording: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) (Recording, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Recording{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanSQLiteRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, fmt.Errorf("query recording: %w", err)
	}
	if err := applyPatch(&rec, patch, time.Now().UTC()); err != nil {
		return Recording{}, err
	}

	var duration sql.NullInt64
	if rec.Duration != nil {
		duration = sql.NullInt64{Int64: int64(*rec.Duration), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE recordings SET title = ?, status = ?, transcript = ?, summary = ?,
			duration_seconds = ?, error_reason = ?, updated_at = ?
		WHERE id = ?`,
		rec.Title,
		string(rec.Status),
		nullString(rec.Transcript),
		nullString(rec.Summary),
		duration,
		rec.ErrorReason,
		formatTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		return Recording{}, fmt.Errorf("update recording: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Recording{}, fmt.Errorf("commit tx: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	out := make([]Recording, 0)
	for rows.Next() {
		rec, err := scanSQLiteRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete recording rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecording(row rowScanner) (Recording, error) {
	var (
		rec        Recording
		status     string
		transcript sql.NullString
		summary    sql.NullString
		duration   sql.NullInt64
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Title,
		&status,
		&transcript,
		&summary,
		&duration,
		&rec.ErrorReason,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Recording{}, err
	}
	rec.Status = Status(status)
	if transcript.Valid {
		rec.Transcript = StringPtr(transcript.String)
	}
	if summary.Valid {
		rec.Summary = StringPtr(summary.String)
	}
	if duration.Valid {
		rec.Duration = IntPtr(int(duration.Int64))
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Recording{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Recording{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}
