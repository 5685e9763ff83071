package policy

import "regexp"

// Rule masks one kind of sensitive text.
type Rule struct {
	Kind        string
	Pattern     *regexp.Regexp
	Replacement string
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// DefaultRules returns the email, card and phone rules in application order.
// Cards run before phones so long digit runs are not classified as phone numbers.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: "email", Pattern: emailPattern, Replacement: "[REDACTED_EMAIL]"},
		{Kind: "card", Pattern: cardPattern, Replacement: "[REDACTED_CARD]"},
		{Kind: "phone", Pattern: phonePattern, Replacement: "[REDACTED_PHONE]"},
	}
}

// Redactor masks PII in raw text before it reaches an extractor or the vault.
type Redactor struct {
	rules []Rule
}

// NewRedactor builds a Redactor. With no rules it uses DefaultRules.
func NewRedactor(rules ...Rule) *Redactor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == nil {
			continue
		}
		out = append(out, r)
	}
	return &Redactor{rules: out}
}

// Redact applies every rule and reports which kinds matched.
func (r *Redactor) Redact(input string) (string, []string) {
	if r == nil {
		return input, nil
	}
	out := input
	var kinds []string
	for _, rule := range r.rules {
		next := rule.Pattern.ReplaceAllString(out, rule.Replacement)
		if next != out {
			kinds = append(kinds, rule.Kind)
		}
		out = next
	}
	return out, kinds
}

var defaultRedactor = NewRedactor()

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out, kinds := defaultRedactor.Redact(input)
	return out, len(kinds) > 0
}
