package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/memvault/internal/embedding"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedEmbedder returns fixed vectors for known texts and fails otherwise.
type scriptedEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   []string
	down    bool
}

func newScriptedEmbedder(vectors map[string][]float32) *scriptedEmbedder {
	return &scriptedEmbedder{vectors: vectors}
}

func (e *scriptedEmbedder) Dimensions() int { return 3 }

func (e *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	text = strings.TrimSpace(text)
	e.calls = append(e.calls, text)
	if e.down || text == "" {
		return nil, embedding.ErrEmbeddingUnavailable
	}
	v, ok := e.vectors[text]
	if !ok {
		return nil, embedding.ErrEmbeddingUnavailable
	}
	return append([]float32(nil), v...), nil
}

func (e *scriptedEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newTestVault(store Store, emb embedding.Provider, clock *fakeClock) *Vault {
	return NewVault(store, emb, DefaultConfig(), WithClock(clock.Now))
}

func recordAt(owner, id string, at time.Time, emb []float32) Record {
	return Record{
		ID:           id,
		OwnerID:      owner,
		Summary:      "summary " + id,
		MemoryType:   TypeNote,
		Importance:   0.5,
		Entities:     []string{"Sarah"},
		Preferences:  map[string]any{"tone": "formal"},
		Embedding:    emb,
		CreatedAt:    at,
		UpdatedAt:    at,
		LastAccessed: at,
	}
}
