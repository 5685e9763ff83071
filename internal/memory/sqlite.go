package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a single local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			owner_id TEXT NOT NULL,
			id TEXT NOT NULL,
			summary TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT '',
			emotion TEXT NOT NULL DEFAULT '',
			sentiment REAL,
			importance REAL NOT NULL DEFAULT 0,
			context TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '[]',
			preferences TEXT NOT NULL DEFAULT '{}',
			embedding BLOB,
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL,
			last_accessed_ns INTEGER NOT NULL,
			PRIMARY KEY (owner_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_owner_accessed ON memory_records (owner_id, last_accessed_ns DESC);`,
		`CREATE TABLE IF NOT EXISTS preference_aggregates (
			owner_id TEXT PRIMARY KEY,
			preferences TEXT NOT NULL DEFAULT '{}',
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const sqliteRecordColumns = `owner_id, id, summary, memory_type, emotion, sentiment, importance, context,
	source_type, entities, preferences, embedding, created_at_ns, updated_at_ns, last_accessed_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (Record, error) {
	var (
		r                              Record
		memoryType, entities, prefs    string
		sentiment                      sql.NullFloat64
		emb                            []byte
		createdNS, updatedNS, accessNS int64
	)
	if err := row.Scan(&r.OwnerID, &r.ID, &r.Summary, &memoryType, &r.Emotion, &sentiment, &r.Importance,
		&r.Context, &r.SourceType, &entities, &prefs, &emb, &createdNS, &updatedNS, &accessNS); err != nil {
		return Record{}, err
	}
	r.MemoryType = MemoryType(memoryType)
	if sentiment.Valid {
		v := sentiment.Float64
		r.Sentiment = &v
	}
	var err error
	if r.Entities, err = decodeEntities(entities); err != nil {
		return Record{}, fmt.Errorf("decode entities: %w", err)
	}
	if r.Preferences, err = decodePrefs(prefs); err != nil {
		return Record{}, fmt.Errorf("decode preferences: %w", err)
	}
	r.Embedding = decodeEmbedding(emb)
	r.CreatedAt = time.Unix(0, createdNS).UTC()
	r.UpdatedAt = time.Unix(0, updatedNS).UTC()
	r.LastAccessed = time.Unix(0, accessNS).UTC()
	return r, nil
}

func (s *SQLiteStore) Get(ctx context.Context, ownerID, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM memory_records WHERE owner_id = ? AND id = ?`, ownerID, id)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storeErr("get", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM memory_records
		 WHERE owner_id = ?
		 ORDER BY last_accessed_ns DESC, created_at_ns DESC, id ASC
		 LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, storeErr("recent", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
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

func (s *SQLiteStore) Save(ctx context.Context, rec Record, prefs map[string]any) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	entities, err := encodeJSON(rec.Entities, "[]")
	if err != nil {
		return storeErr("encode entities", err)
	}
	recPrefs, err := encodeJSON(rec.Preferences, "{}")
	if err != nil {
		return storeErr("encode preferences", err)
	}
	var sentiment sql.NullFloat64
	if rec.Sentiment != nil {
		sentiment = sql.NullFloat64{Float64: *rec.Sentiment, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin save", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_records (`+sqliteRecordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, id) DO UPDATE SET
			summary = excluded.summary,
			memory_type = excluded.memory_type,
			emotion = excluded.emotion,
			sentiment = excluded.sentiment,
			importance = excluded.importance,
			context = excluded.context,
			source_type = excluded.source_type,
			entities = excluded.entities,
			preferences = excluded.preferences,
			embedding = excluded.embedding,
			updated_at_ns = excluded.updated_at_ns,
			last_accessed_ns = excluded.last_accessed_ns`,
		rec.OwnerID, rec.ID, rec.Summary, string(rec.MemoryType), rec.Emotion, sentiment, rec.Importance,
		rec.Context, rec.SourceType, entities, recPrefs, encodeEmbedding(rec.Embedding),
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(), rec.LastAccessed.UnixNano(),
	)
	if err != nil {
		return storeErr("save record", err)
	}
	if prefs != nil {
		if _, err := mergeSQLitePrefs(ctx, tx, rec.OwnerID, prefs, rec.UpdatedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit save", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, ownerID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, at.UnixNano(), ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_records SET last_accessed_ns = ? WHERE owner_id = ? AND id IN (`+placeholders+`)`, args...)
	return storeErr("touch", err)
}

func (s *SQLiteStore) DeleteAccessedBefore(ctx context.Context, ownerID string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE owner_id = ? AND last_accessed_ns < ?`, ownerID, cutoff.UnixNano())
	if err != nil {
		return 0, storeErr("prune", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Preferences(ctx context.Context, ownerID string) (PreferenceAggregate, error) {
	return loadSQLitePrefs(ctx, s.db, ownerID)
}

func (s *SQLiteStore) MergePreferences(ctx context.Context, ownerID string, prefs map[string]any, at time.Time) (PreferenceAggregate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PreferenceAggregate{}, storeErr("begin preferences", err)
	}
	defer func() { _ = tx.Rollback() }()
	agg, err := mergeSQLitePrefs(ctx, tx, ownerID, prefs, at)
	if err != nil {
		return PreferenceAggregate{}, err
	}
	if err := tx.Commit(); err != nil {
		return PreferenceAggregate{}, storeErr("commit preferences", err)
	}
	return agg, nil
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSQLitePrefs(ctx context.Context, q sqliteQuerier, ownerID string) (PreferenceAggregate, error) {
	var (
		raw                  string
		createdNS, updatedNS int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT preferences, created_at_ns, updated_at_ns FROM preference_aggregates WHERE owner_id = ?`, ownerID,
	).Scan(&raw, &createdNS, &updatedNS)
	if errors.Is(err, sql.ErrNoRows) {
		return PreferenceAggregate{}, ErrNotFound
	}
	if err != nil {
		return PreferenceAggregate{}, storeErr("load preferences", err)
	}
	prefs, err := decodePrefs(raw)
	if err != nil {
		return PreferenceAggregate{}, storeErr("decode preferences", err)
	}
	if prefs == nil {
		prefs = map[string]any{}
	}
	return PreferenceAggregate{
		OwnerID:     ownerID,
		Preferences: prefs,
		CreatedAt:   time.Unix(0, createdNS).UTC(),
		UpdatedAt:   time.Unix(0, updatedNS).UTC(),
	}, nil
}

// mergeSQLitePrefs shallow-merges prefs into the owner's aggregate within tx.
func mergeSQLitePrefs(ctx context.Context, tx *sql.Tx, ownerID string, prefs map[string]any, at time.Time) (PreferenceAggregate, error) {
	agg, err := loadSQLitePrefs(ctx, tx, ownerID)
	switch {
	case errors.Is(err, ErrNotFound):
		agg = PreferenceAggregate{OwnerID: ownerID, Preferences: map[string]any{}, CreatedAt: at}
	case err != nil:
		return PreferenceAggregate{}, err
	}
	agg.Preferences = mergePrefs(agg.Preferences, prefs)
	agg.UpdatedAt = at

	raw, err := encodeJSON(agg.Preferences, "{}")
	if err != nil {
		return PreferenceAggregate{}, storeErr("encode preferences", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO preference_aggregates (owner_id, preferences, created_at_ns, updated_at_ns)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET preferences = excluded.preferences, updated_at_ns = excluded.updated_at_ns`,
		ownerID, raw, agg.CreatedAt.UnixNano(), at.UnixNano())
	if err != nil {
		return PreferenceAggregate{}, storeErr("save preferences", err)
	}
	return agg, nil
}

func (s *SQLiteStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
