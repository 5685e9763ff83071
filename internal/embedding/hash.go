package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size used by NewHashProvider when dims <= 0.
const DefaultHashDimensions = 256

var hashStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "about": {},
	"is": {}, "are": {}, "was": {}, "be": {}, "me": {}, "my": {}, "i": {},
	"it": {}, "this": {}, "that": {},
}

// HashProvider is a deterministic, offline embedder. Each content token is
// hashed into a signed bucket so texts that share vocabulary score high.
type HashProvider struct {
	dims int
}

func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashProvider{dims: dims}
}

func (p *HashProvider) Dimensions() int { return p.dims }

func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmbeddingUnavailable
	}
	vec := make([]float32, p.dims)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dims))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return normalize(vec), nil
}

// Tokenize lowercases text, splits on non-alphanumerics and drops stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := hashStopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
