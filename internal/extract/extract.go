// Package extract turns raw text into structured memory fields.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/antoniostano/memvault/internal/memory"
)

// ErrExtractionFailed is returned when no usable summary could be produced.
var ErrExtractionFailed = errors.New("extraction failed")

// Request is one raw event to extract.
type Request struct {
	RawText    string
	Context    string
	SourceType string
	Timestamp  time.Time
}

// Extraction is the structured payload of an extractor.
type Extraction struct {
	Summary     string         `json:"summary"`
	MemoryType  string         `json:"memory_type"`
	Emotion     string         `json:"emotion,omitempty"`
	Sentiment   *float64       `json:"sentiment,omitempty"`
	Importance  float64        `json:"importance"`
	Entities    []string       `json:"entities"`
	Preferences map[string]any `json:"preferences"`
	Context     string         `json:"context,omitempty"`

	SourceType      string `json:"-"`
	DeterministicID string `json:"-"`
}

// Fields converts the extraction into vault fields.
func (e *Extraction) Fields() memory.Fields {
	return memory.Fields{
		Summary:     e.Summary,
		MemoryType:  memory.MemoryType(e.MemoryType),
		Emotion:     e.Emotion,
		Sentiment:   e.Sentiment,
		Importance:  e.Importance,
		Context:     e.Context,
		SourceType:  e.SourceType,
		Entities:    e.Entities,
		Preferences: e.Preferences,
	}
}

type Extractor interface {
	Extract(ctx context.Context, req Request) (*Extraction, error)
}

type Func func(ctx context.Context, req Request) (*Extraction, error)

func (f Func) Extract(ctx context.Context, req Request) (*Extraction, error) { return f(ctx, req) }

// DeterministicID hashes source, timestamp and content so replays of the same
// event resolve to the same record. A zero timestamp is hashed as empty.
func DeterministicID(source string, ts time.Time, content string) string {
	stamp := ""
	if !ts.IsZero() {
		stamp = ts.UTC().Format(time.RFC3339Nano)
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(source) + "|" + stamp + "|" + content))
	return hex.EncodeToString(sum[:])
}

// finish fills fields every adapter derives the same way.
func finish(e *Extraction, req Request) *Extraction {
	e.SourceType = req.SourceType
	e.DeterministicID = DeterministicID(req.SourceType, req.Timestamp, req.RawText)
	return e
}
