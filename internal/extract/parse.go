package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

var validMemoryTypes = map[string]struct{}{
	"fact": {}, "event": {}, "task": {}, "goal": {},
	"preference": {}, "emotion": {}, "note": {},
}

// parseExtraction decodes a model reply, tolerating markdown code fences and
// prose around the JSON object.
func parseExtraction(reply string) (*Extraction, error) {
	body := stripCodeBlock(reply)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	var e Extraction
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("%w: decode reply: %w", ErrExtractionFailed, err)
	}
	return normalize(&e)
}

func normalize(e *Extraction) (*Extraction, error) {
	e.Summary = strings.TrimSpace(e.Summary)
	if e.Summary == "" {
		return nil, fmt.Errorf("%w: empty summary", ErrExtractionFailed)
	}
	e.MemoryType = strings.ToLower(strings.TrimSpace(e.MemoryType))
	if _, ok := validMemoryTypes[e.MemoryType]; !ok {
		e.MemoryType = "note"
	}
	e.Emotion = strings.ToLower(strings.TrimSpace(e.Emotion))
	if e.Sentiment != nil {
		s := clamp(*e.Sentiment, -1, 1)
		e.Sentiment = &s
	}
	e.Importance = clamp(e.Importance, 0, 1)
	entities := e.Entities[:0]
	for _, ent := range e.Entities {
		if ent = strings.TrimSpace(ent); ent != "" {
			entities = append(entities, ent)
		}
	}
	e.Entities = entities
	if e.Preferences == nil {
		e.Preferences = map[string]any{}
	}
	return e, nil
}

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if _, rest, ok := strings.Cut(s, "\n"); ok {
			s = rest
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

const systemPrompt = `You turn one personal message, note or email into a memory record.
Reply with a single JSON object and nothing else:
{"summary": string, "memory_type": "fact"|"event"|"task"|"goal"|"preference"|"emotion"|"note",
 "emotion": string, "sentiment": number in [-1,1], "importance": number in [0,1],
 "entities": [string], "preferences": {string: any}, "context": string}
The summary is one or two sentences in the third person. Entities are people,
organisations, places and dates. Preferences only capture stated likes,
dislikes or settings of the user.`

func userPrompt(req Request) string {
	var b strings.Builder
	if req.SourceType != "" {
		fmt.Fprintf(&b, "Source: %s\n", req.SourceType)
	}
	if !req.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Received: %s\n", req.Timestamp.UTC().Format("2006-01-02 15:04 MST"))
	}
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		fmt.Fprintf(&b, "Recent context:\n%s\n", ctx)
	}
	fmt.Fprintf(&b, "Text:\n%s", req.RawText)
	return b.String()
}
