package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore persists records in PostgreSQL with a pgvector embedding column.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(ctx context.Context, databaseURL string, dim int) (*PostgresStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("postgres store: embedding dimension must be positive, got %d", dim)
	}
	// The vector type must exist before pooled connections register it.
	if err := ensureVectorExtension(ctx, databaseURL); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, dim: dim}, nil
}

func ensureVectorExtension(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector;`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	return nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_records (
			owner_id TEXT NOT NULL,
			id TEXT NOT NULL,
			summary TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT '',
			emotion TEXT NOT NULL DEFAULT '',
			sentiment DOUBLE PRECISION,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0,
			context TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			entities TEXT[] NOT NULL DEFAULT '{}',
			preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (owner_id, id)
		);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_memory_records_owner_accessed ON memory_records (owner_id, last_accessed DESC);`,
		`CREATE TABLE IF NOT EXISTS preference_aggregates (
			owner_id TEXT PRIMARY KEY,
			preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const pgRecordColumns = `owner_id, id, summary, memory_type, emotion, sentiment, importance, context,
	source_type, entities, preferences, COALESCE(embedding::text, ''), created_at, updated_at, last_accessed`

func scanPostgresRecord(row pgx.Row) (Record, error) {
	var (
		r          Record
		memoryType string
		embText    string
	)
	if err := row.Scan(&r.OwnerID, &r.ID, &r.Summary, &memoryType, &r.Emotion, &r.Sentiment, &r.Importance,
		&r.Context, &r.SourceType, &r.Entities, &r.Preferences, &embText,
		&r.CreatedAt, &r.UpdatedAt, &r.LastAccessed); err != nil {
		return Record{}, err
	}
	r.MemoryType = MemoryType(memoryType)
	if strings.TrimSpace(embText) != "" {
		var vec pgvector.Vector
		if err := vec.Parse(embText); err == nil {
			r.Embedding = vec.Slice()
		}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.LastAccessed = r.LastAccessed.UTC()
	return r, nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID, id string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM memory_records WHERE owner_id = $1 AND id = $2`, ownerID, id)
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storeErr("get", err)
	}
	return rec, nil
}

func (s *PostgresStore) Recent(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	query := `SELECT ` + pgRecordColumns + ` FROM memory_records
		WHERE owner_id = $1
		ORDER BY last_accessed DESC, created_at DESC, id ASC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("recent", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, storeErr("scan recent", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate recent", err)
	}
	return out, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record, prefs map[string]any) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	emb, err := vectorParam(rec.Embedding, s.dim)
	if err != nil {
		return err
	}
	entities := rec.Entities
	if entities == nil {
		entities = []string{}
	}
	recPrefs := rec.Preferences
	if recPrefs == nil {
		recPrefs = map[string]any{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin save", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO memory_records (owner_id, id, summary, memory_type, emotion, sentiment, importance, context,
			source_type, entities, preferences, embedding, created_at, updated_at, last_accessed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (owner_id, id) DO UPDATE SET
			summary = EXCLUDED.summary,
			memory_type = EXCLUDED.memory_type,
			emotion = EXCLUDED.emotion,
			sentiment = EXCLUDED.sentiment,
			importance = EXCLUDED.importance,
			context = EXCLUDED.context,
			source_type = EXCLUDED.source_type,
			entities = EXCLUDED.entities,
			preferences = EXCLUDED.preferences,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at,
			last_accessed = EXCLUDED.last_accessed`,
		rec.OwnerID, rec.ID, rec.Summary, string(rec.MemoryType), rec.Emotion, rec.Sentiment, rec.Importance,
		rec.Context, rec.SourceType, entities, recPrefs, emb,
		rec.CreatedAt, rec.UpdatedAt, rec.LastAccessed,
	)
	if err != nil {
		return storeErr("save record", err)
	}
	if prefs != nil {
		if _, err := mergePostgresPrefs(ctx, tx, rec.OwnerID, prefs, rec.UpdatedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit save", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, ownerID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE memory_records SET last_accessed = $1 WHERE owner_id = $2 AND id = ANY($3)`, at, ownerID, ids)
	return storeErr("touch", err)
}

func (s *PostgresStore) DeleteAccessedBefore(ctx context.Context, ownerID string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memory_records WHERE owner_id = $1 AND last_accessed < $2`, ownerID, cutoff)
	if err != nil {
		return 0, storeErr("prune", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Preferences(ctx context.Context, ownerID string) (PreferenceAggregate, error) {
	agg := PreferenceAggregate{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx,
		`SELECT preferences, created_at, updated_at FROM preference_aggregates WHERE owner_id = $1`, ownerID,
	).Scan(&agg.Preferences, &agg.CreatedAt, &agg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PreferenceAggregate{}, ErrNotFound
	}
	if err != nil {
		return PreferenceAggregate{}, storeErr("load preferences", err)
	}
	agg.CreatedAt = agg.CreatedAt.UTC()
	agg.UpdatedAt = agg.UpdatedAt.UTC()
	return agg, nil
}

func (s *PostgresStore) MergePreferences(ctx context.Context, ownerID string, prefs map[string]any, at time.Time) (PreferenceAggregate, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PreferenceAggregate{}, storeErr("begin preferences", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	agg, err := mergePostgresPrefs(ctx, tx, ownerID, prefs, at)
	if err != nil {
		return PreferenceAggregate{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PreferenceAggregate{}, storeErr("commit preferences", err)
	}
	return agg, nil
}

// mergePostgresPrefs relies on jsonb || for shallow, right-wins merging.
func mergePostgresPrefs(ctx context.Context, tx pgx.Tx, ownerID string, prefs map[string]any, at time.Time) (PreferenceAggregate, error) {
	if prefs == nil {
		prefs = map[string]any{}
	}
	agg := PreferenceAggregate{OwnerID: ownerID}
	err := tx.QueryRow(ctx,
		`INSERT INTO preference_aggregates (owner_id, preferences, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (owner_id) DO UPDATE SET
			preferences = preference_aggregates.preferences || EXCLUDED.preferences,
			updated_at = EXCLUDED.updated_at
		 RETURNING preferences, created_at, updated_at`,
		ownerID, prefs, at,
	).Scan(&agg.Preferences, &agg.CreatedAt, &agg.UpdatedAt)
	if err != nil {
		return PreferenceAggregate{}, storeErr("save preferences", err)
	}
	agg.CreatedAt = agg.CreatedAt.UTC()
	agg.UpdatedAt = agg.UpdatedAt.UTC()
	return agg, nil
}

func (s *PostgresStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id FROM memory_records UNION SELECT owner_id FROM preference_aggregates ORDER BY owner_id`)
	if err != nil {
		return nil, storeErr("owners", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, storeErr("scan owners", err)
		}
		out = append(out, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate owners", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// vectorParam maps an embedding to the vector(dim) column. Empty stays NULL;
// any other size is a caller error, since the column cannot hold it.
func vectorParam(emb []float32, dim int) (any, error) {
	if len(emb) == 0 {
		return nil, nil
	}
	if len(emb) != dim {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, column expects %d", ErrInvalidRecord, len(emb), dim)
	}
	return pgvector.NewVector(emb), nil
}
