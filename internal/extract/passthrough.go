package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

const passthroughSummaryLimit = 280

var passthroughSkip = map[string]struct{}{
	"I": {}, "I'm": {}, "I'll": {}, "The": {}, "A": {}, "An": {}, "Please": {},
	"Remind": {}, "Hi": {}, "Hello": {}, "Thanks": {}, "My": {}, "We": {},
}

// PassthroughExtractor needs no model: the summary is the cleaned text and
// entities are capitalised words that do not start a sentence.
type PassthroughExtractor struct{}

func NewPassthroughExtractor() *PassthroughExtractor { return &PassthroughExtractor{} }

func (PassthroughExtractor) Extract(_ context.Context, req Request) (*Extraction, error) {
	text := strings.Join(strings.Fields(req.RawText), " ")
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrExtractionFailed)
	}
	summary := text
	if r := []rune(summary); len(r) > passthroughSummaryLimit {
		summary = string(r[:passthroughSummaryLimit])
	}
	e := &Extraction{
		Summary:     summary,
		MemoryType:  "note",
		Importance:  0.5,
		Entities:    capitalisedEntities(text),
		Preferences: map[string]any{},
	}
	return finish(e, req), nil
}

func capitalisedEntities(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	sentenceStart := true
	for _, word := range strings.Fields(text) {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		})
		start := sentenceStart
		sentenceStart = strings.ContainsAny(word[len(word)-1:], ".!?")
		if trimmed == "" || start {
			continue
		}
		first := []rune(trimmed)[0]
		if !unicode.IsUpper(first) {
			continue
		}
		if _, skip := passthroughSkip[trimmed]; skip {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
