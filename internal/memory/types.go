package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MemoryType classifies a record. The set is open; these are the kinds the
// extractors produce.
type MemoryType string

const (
	TypeFact       MemoryType = "fact"
	TypeEvent      MemoryType = "event"
	TypeTask       MemoryType = "task"
	TypeGoal       MemoryType = "goal"
	TypePreference MemoryType = "preference"
	TypeEmotion    MemoryType = "emotion"
	TypeNote       MemoryType = "note"
)

// Record is one stored memory for one owner.
type Record struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Summary      string         `json:"summary"`
	MemoryType   MemoryType     `json:"memory_type,omitempty"`
	Emotion      string         `json:"emotion,omitempty"`
	Sentiment    *float64       `json:"sentiment,omitempty"`
	Importance   float64        `json:"importance"`
	Context      string         `json:"context,omitempty"`
	SourceType   string         `json:"source_type,omitempty"`
	Entities     []string       `json:"entities"`
	Preferences  map[string]any `json:"preferences"`
	Embedding    []float32      `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastAccessed time.Time      `json:"last_accessed"`
}

// HasEmbedding reports whether the record can take part in semantic ranking.
func (r Record) HasEmbedding() bool { return len(r.Embedding) > 0 }

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	if r.Sentiment != nil {
		s := *r.Sentiment
		out.Sentiment = &s
	}
	if r.Entities != nil {
		out.Entities = append([]string(nil), r.Entities...)
	}
	out.Preferences = clonePrefs(r.Preferences)
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	return out
}

// Fields are the extracted attributes used to create or merge a record.
type Fields struct {
	Summary     string
	MemoryType  MemoryType
	Emotion     string
	Sentiment   *float64
	Importance  float64
	Context     string
	SourceType  string
	Entities    []string
	Preferences map[string]any
}

// PreferenceAggregate is the per-owner merged preference map.
type PreferenceAggregate struct {
	OwnerID     string         `json:"owner_id"`
	Preferences map[string]any `json:"preferences"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	ErrNotFound         = errors.New("memory record not found")
	ErrStoreUnavailable = errors.New("vault store unavailable")
	ErrInvalidRecord    = errors.New("record requires id and owner_id")
)

// StoreError wraps a backend failure. It matches ErrStoreUnavailable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vault store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRecord) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Store persists records and preference aggregates. Every method is scoped to
// one owner except Owners.
type Store interface {
	Get(ctx context.Context, ownerID, id string) (Record, error)
	// Recent returns records ordered by LastAccessed descending. limit <= 0
	// returns all of them.
	Recent(ctx context.Context, ownerID string, limit int) ([]Record, error)
	// Save upserts rec. A non-nil prefs is merged into the owner's aggregate
	// in the same transaction, creating it if absent.
	Save(ctx context.Context, rec Record, prefs map[string]any) error
	Touch(ctx context.Context, ownerID string, ids []string, at time.Time) error
	DeleteAccessedBefore(ctx context.Context, ownerID string, cutoff time.Time) (int, error)
	Preferences(ctx context.Context, ownerID string) (PreferenceAggregate, error)
	MergePreferences(ctx context.Context, ownerID string, prefs map[string]any, at time.Time) (PreferenceAggregate, error)
	Owners(ctx context.Context) ([]string, error)
	Close() error
}

func clonePrefs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergePrefs shallow-merges src into dst; src keys win.
func mergePrefs(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortRecent(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.After(b.LastAccessed)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func validateRecord(rec Record) error {
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.OwnerID) == "" {
		return ErrInvalidRecord
	}
	return nil
}
