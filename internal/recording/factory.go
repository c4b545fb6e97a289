package recording

import (
	"context"
	"strings"
)

const (
	ModePostgres = "postgres"
	ModeSQLite   = "sqlite"
	ModeMemory   = "memory"
)

// NewStore picks postgres when a database URL is configured, then sqlite
// when a path is configured, otherwise an in-memory store.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, string, error) {
	if strings.TrimSpace(databaseURL) != "" {
		s, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, ModePostgres, nil
	}
	if strings.TrimSpace(sqlitePath) != "" {
		s, err := NewSQLiteStore(ctx, sqlitePath)
		if err != nil {
			return nil, "", err
		}
		return s, ModeSQLite, nil
	}
	return NewInMemoryStore(), ModeMemory, nil
}
