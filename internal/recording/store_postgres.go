package recording

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initRecordingSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initRecordingSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			transcript TEXT NULL,
			summary TEXT NULL,
			duration_seconds INTEGER NULL,
			error_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_user_created ON recordings (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init recording schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const recordingColumns = `id, user_id, title, status, transcript, summary, duration_seconds, error_reason, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, userID, title string) (Recording, error) {
	now := time.Now().UTC()
	rec := Recording{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     NormalizeTitle(title),
		Status:    StatusRecording,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recordings (id, user_id, title, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.UserID, rec.Title, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Recording, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id=$1`, id)
	rec, err := scanPostgresRecording(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, fmt.Errorf("query recording: %w", err)
	}
	return rec, nil
}

// Update locks the row so the transition check and the write see the same status.
func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) (Recording, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Recording{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id=$1 FOR UPDATE`, id)
	rec, err := scanPostgresRecording(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, fmt.Errorf("lock recording: %w", err)
	}
	if err := applyPatch(&rec, patch, time.Now().UTC()); err != nil {
		return Recording{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE recordings SET
			title=$2,
			status=$3,
			transcript=$4,
			summary=$5,
			duration_seconds=$6,
			error_reason=$7,
			updated_at=$8
		WHERE id=$1`,
		rec.ID,
		rec.Title,
		string(rec.Status),
		rec.Transcript,
		rec.Summary,
		rec.Duration,
		rec.ErrorReason,
		rec.UpdatedAt,
	)
	if err != nil {
		return Recording{}, fmt.Errorf("update recording: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Recording{}, fmt.Errorf("commit tx: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Recording, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	out := make([]Recording, 0)
	for rows.Next() {
		rec, err := scanPostgresRecording(rows)
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

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresRecording(row pgx.Row) (Recording, error) {
	var (
		rec      Recording
		status   string
		duration *int32
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Title,
		&status,
		&rec.Transcript,
		&rec.Summary,
		&duration,
		&rec.ErrorReason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Recording{}, err
	}
	rec.Status = Status(status)
	if duration != nil {
		rec.Duration = IntPtr(int(*duration))
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
