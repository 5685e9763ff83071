package gap

import (
	"fmt"
	"strings"

	"github.com/antoniostano/memvault/internal/memory"
)

// DefaultKeywords is the urgency and follow-up vocabulary of KeywordDetector.
var DefaultKeywords = []string{
	"deadline", "due", "interview", "follow up", "follow-up",
	"urgent", "action required", "respond", "reply",
}

const (
	reminderTitleLimit = 80
	defaultService     = "whatsapp"
)

// KeywordDetector is the fallback heuristic: any vocabulary hit in the
// summary yields exactly one create_reminder suggestion.
type KeywordDetector struct {
	Keywords []string
	Service  string
}

func NewKeywordDetector() *KeywordDetector {
	return &KeywordDetector{
		Keywords: append([]string(nil), DefaultKeywords...),
		Service:  defaultService,
	}
}

func (d *KeywordDetector) Detect(rec memory.Record) []Suggestion {
	hits := d.matches(rec.Summary)
	if len(hits) == 0 {
		return nil
	}
	service := d.Service
	if service == "" {
		service = defaultService
	}
	return []Suggestion{{
		Action: CreateReminder{
			Title:   "Follow up: " + truncateRunes(strings.TrimSpace(rec.Summary), reminderTitleLimit),
			Service: service,
		},
		Reason: fmt.Sprintf("memory mentions %s with no follow-up recorded", strings.Join(hits, ", ")),
	}}
}

// matches returns the keywords found in text as whole words or phrases.
func (d *KeywordDetector) matches(text string) []string {
	keywords := d.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lower := " " + normalizeText(text) + " "
	var hits []string
	for _, kw := range keywords {
		k := normalizeText(kw)
		if k == "" {
			continue
		}
		if strings.Contains(lower, " "+k+" ") {
			hits = append(hits, kw)
		}
	}
	return hits
}

// normalizeText lowercases and collapses punctuation to single spaces,
// keeping hyphens inside words.
func normalizeText(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		isWord := r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
		if isWord {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
