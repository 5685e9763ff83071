package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "vault.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		return s
	})
}

func TestPostgresStoreContract(t *testing.T) {
	url := os.Getenv("MEMVAULT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MEMVAULT_TEST_DATABASE_URL not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewPostgresStore(context.Background(), url, 3)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		_, _ = s.pool.Exec(context.Background(), `TRUNCATE memory_records, preference_aggregates`)
		return s
	})
}

func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("save and get", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		sent := 0.4
		rec := recordAt("u1", "r1", baseTime, []float32{1, 0, 0})
		rec.Sentiment = &sent
		if err := s.Save(ctx, rec, nil); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := s.Get(ctx, "u1", "r1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Summary != rec.Summary || got.MemoryType != TypeNote || got.Importance != 0.5 {
			t.Fatalf("Get() = %+v", got)
		}
		if got.Sentiment == nil || *got.Sentiment != 0.4 {
			t.Fatalf("Sentiment = %v, want 0.4", got.Sentiment)
		}
		if len(got.Embedding) != 3 || got.Embedding[0] != 1 {
			t.Fatalf("Embedding = %v", got.Embedding)
		}
		if len(got.Entities) != 1 || got.Entities[0] != "Sarah" {
			t.Fatalf("Entities = %v", got.Entities)
		}
		if got.Preferences["tone"] != "formal" {
			t.Fatalf("Preferences = %v", got.Preferences)
		}
		if !got.LastAccessed.Equal(baseTime) || !got.CreatedAt.Equal(baseTime) {
			t.Fatalf("timestamps = %v/%v", got.CreatedAt, got.LastAccessed)
		}
	})

	t.Run("missing record", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		if _, err := s.Get(context.Background(), "u1", "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
		if err := s.Save(context.Background(), Record{OwnerID: "u1"}, nil); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("Save(no id) error = %v, want ErrInvalidRecord", err)
		}
	})

	t.Run("owners are isolated", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		_ = s.Save(ctx, recordAt("u1", "same", baseTime, nil), nil)
		other := recordAt("u2", "same", baseTime, nil)
		other.Summary = "other owner"
		_ = s.Save(ctx, other, nil)

		got, err := s.Get(ctx, "u1", "same")
		if err != nil || got.Summary != "summary same" {
			t.Fatalf("Get(u1) = %+v, %v", got, err)
		}
		recent, _ := s.Recent(ctx, "u2", 0)
		if len(recent) != 1 || recent[0].Summary != "other owner" {
			t.Fatalf("Recent(u2) = %+v", recent)
		}
		owners, err := s.Owners(ctx)
		if err != nil || len(owners) != 2 || owners[0] != "u1" || owners[1] != "u2" {
			t.Fatalf("Owners() = %v, %v", owners, err)
		}
	})

	t.Run("recent orders by last accessed", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d"} {
			_ = s.Save(ctx, recordAt("u1", id, baseTime.Add(time.Duration(i)*time.Minute), nil), nil)
		}
		if err := s.Touch(ctx, "u1", []string{"a"}, baseTime.Add(time.Hour)); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		recent, err := s.Recent(ctx, "u1", 3)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		want := []string{"a", "d", "c"}
		if len(recent) != len(want) {
			t.Fatalf("len = %d, want %d", len(recent), len(want))
		}
		for i := range want {
			if recent[i].ID != want[i] {
				t.Fatalf("Recent()[%d] = %s, want %s", i, recent[i].ID, want[i])
			}
		}
		all, _ := s.Recent(ctx, "u1", 0)
		if len(all) != 4 {
			t.Fatalf("Recent(0) len = %d, want 4", len(all))
		}
	})

	t.Run("upsert replaces record", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		rec := recordAt("u1", "r1", baseTime, []float32{1, 0, 0})
		_ = s.Save(ctx, rec, nil)
		rec.Summary = "updated"
		rec.Embedding = nil
		rec.Entities = append(rec.Entities, "Friday")
		if err := s.Save(ctx, rec, nil); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, _ := s.Get(ctx, "u1", "r1")
		if got.Summary != "updated" || len(got.Entities) != 2 || got.HasEmbedding() {
			t.Fatalf("Get() = %+v", got)
		}
		recent, _ := s.Recent(ctx, "u1", 0)
		if len(recent) != 1 {
			t.Fatalf("len = %d, want 1", len(recent))
		}
	})

	t.Run("delete accessed before", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		_ = s.Save(ctx, recordAt("u1", "old", baseTime, nil), nil)
		_ = s.Save(ctx, recordAt("u1", "new", baseTime.Add(48*time.Hour), nil), nil)
		_ = s.Save(ctx, recordAt("u2", "old", baseTime, nil), nil)
		n, err := s.DeleteAccessedBefore(ctx, "u1", baseTime.Add(24*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("DeleteAccessedBefore() = %d, %v; want 1", n, err)
		}
		if _, err := s.Get(ctx, "u1", "old"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("old record still present: %v", err)
		}
		if _, err := s.Get(ctx, "u2", "old"); err != nil {
			t.Fatalf("other owner's record removed: %v", err)
		}
	})

	t.Run("preferences merge", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		if _, err := s.Preferences(ctx, "u1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Preferences() error = %v, want ErrNotFound", err)
		}
		rec := recordAt("u1", "r1", baseTime, nil)
		if err := s.Save(ctx, rec, map[string]any{"tone": "formal", "lang": "en"}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		agg, err := s.MergePreferences(ctx, "u1", map[string]any{"tone": "casual"}, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("MergePreferences() error = %v", err)
		}
		if agg.Preferences["tone"] != "casual" || agg.Preferences["lang"] != "en" {
			t.Fatalf("Preferences = %v", agg.Preferences)
		}
		got, err := s.Preferences(ctx, "u1")
		if err != nil {
			t.Fatalf("Preferences() error = %v", err)
		}
		if got.Preferences["tone"] != "casual" {
			t.Fatalf("tone = %v, want casual", got.Preferences["tone"])
		}
		if !got.CreatedAt.Equal(baseTime) || !got.UpdatedAt.Equal(baseTime.Add(time.Minute)) {
			t.Fatalf("timestamps = %v/%v", got.CreatedAt, got.UpdatedAt)
		}
	})

	t.Run("empty preferences create aggregate", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		if err := s.Save(ctx, recordAt("u1", "r1", baseTime, nil), map[string]any{}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		agg, err := s.Preferences(ctx, "u1")
		if err != nil {
			t.Fatalf("Preferences() error = %v", err)
		}
		if len(agg.Preferences) != 0 {
			t.Fatalf("Preferences = %v, want empty", agg.Preferences)
		}
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vault.db")
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.Save(ctx, recordAt("u1", "r1", baseTime, []float32{0.5, 0.5, 0}), map[string]any{"tone": "formal"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	_ = s.Close()

	s, err = NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.5 {
		t.Fatalf("Embedding = %v", got.Embedding)
	}
	agg, err := s.Preferences(ctx, "u1")
	if err != nil || agg.Preferences["tone"] != "formal" {
		t.Fatalf("Preferences() = %v, %v", agg, err)
	}
}

func TestStoreErrorMatchesUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := storeErr("get", cause)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("errors.Is(ErrStoreUnavailable) = false")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not unwrapped")
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "get" {
		t.Fatalf("errors.As() = %v", se)
	}
	if storeErr("get", ErrNotFound) != ErrNotFound {
		t.Fatalf("ErrNotFound was wrapped")
	}
}

func TestNewStoreMode(t *testing.T) {
	cases := []struct {
		opts Options
		want string
	}{
		{Options{}, "in-memory"},
		{Options{SQLitePath: "/tmp/x.db"}, "sqlite"},
		{Options{DatabaseURL: "postgres://x", SQLitePath: "/tmp/x.db"}, "postgres"},
	}
	for _, tc := range cases {
		if got := Mode(tc.opts); got != tc.want {
			t.Fatalf("Mode(%+v) = %q, want %q", tc.opts, got, tc.want)
		}
	}
	s, err := NewStore(context.Background(), Options{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}

func TestPostgresVectorParam(t *testing.T) {
	if v, err := vectorParam(nil, 3); v != nil || err != nil {
		t.Fatalf("vectorParam(nil) = %v, %v", v, err)
	}
	if v, err := vectorParam([]float32{1, 0, 0}, 3); v == nil || err != nil {
		t.Fatalf("vectorParam(3 of 3) = %v, %v", v, err)
	}
	if _, err := vectorParam(make([]float32, 768), 1536); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("vectorParam(768 of 1536) error = %v, want ErrInvalidRecord", err)
	}
}
