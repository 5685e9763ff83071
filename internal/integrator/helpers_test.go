package integrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/memvault/internal/embedding"
	"github.com/antoniostano/memvault/internal/extract"
	"github.com/antoniostano/memvault/internal/memory"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	down    bool
	onEmbed func(text string)
}

func (e *tableEmbedder) Dimensions() int { return 3 }

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.onEmbed != nil {
		e.onEmbed(text)
	}
	v, ok := e.vectors[strings.TrimSpace(text)]
	if e.down || !ok {
		return nil, embedding.ErrEmbeddingUnavailable
	}
	return append([]float32(nil), v...), nil
}

// recordingExtractor echoes the raw text as the summary and keeps requests.
type recordingExtractor struct {
	mu       sync.Mutex
	requests []extract.Request
	prefs    map[string]map[string]any
}

func (x *recordingExtractor) Extract(_ context.Context, req extract.Request) (*extract.Extraction, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.requests = append(x.requests, req)
	return &extract.Extraction{
		Summary:     req.RawText,
		MemoryType:  "fact",
		Importance:  0.5,
		Entities:    []string{"Sarah"},
		Preferences: x.prefs[req.RawText],
	}, nil
}

func (x *recordingExtractor) last() extract.Request {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.requests[len(x.requests)-1]
}

type failingStore struct {
	*memory.InMemoryStore
}

func (s failingStore) Save(context.Context, memory.Record, map[string]any) error {
	return &memory.StoreError{Op: "save", Err: errors.New("disk full")}
}

func newVault(store memory.Store, emb embedding.Provider) *memory.Vault {
	return memory.NewVault(store, emb, memory.DefaultConfig(), memory.WithLogger(discardLogger))
}

func countRecords(t *testing.T, store memory.Store, owner string) int {
	t.Helper()
	recs, err := store.Recent(context.Background(), owner, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	return len(recs)
}

var fixedTime = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
