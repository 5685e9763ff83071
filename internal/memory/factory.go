package memory

import (
	"context"
	"strings"
)

// Options selects a Store backend.
type Options struct {
	DatabaseURL  string
	SQLitePath   string
	EmbeddingDim int
}

// Mode names the backend NewStore will pick for opts.
func Mode(opts Options) string {
	switch {
	case strings.TrimSpace(opts.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(opts.SQLitePath) != "":
		return "sqlite"
	default:
		return "in-memory"
	}
}

// NewStore creates a postgres-backed store when configured, then SQLite,
// otherwise in-memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch Mode(opts) {
	case "postgres":
		return NewPostgresStore(ctx, strings.TrimSpace(opts.DatabaseURL), opts.EmbeddingDim)
	case "sqlite":
		return NewSQLiteStore(ctx, strings.TrimSpace(opts.SQLitePath))
	default:
		return NewInMemoryStore(), nil
	}
}
