package policy

import (
	"regexp"
	"unicode/utf8"
)

type redactionRule struct {
	mask    string
	pattern *regexp.Regexp
}

// Card numbers are matched before phone numbers, which would otherwise
// swallow them.
var redactionRules = []redactionRule{
	{"[REDACTED_EMAIL]", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"[REDACTED_CARD]", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{"[REDACTED_PHONE]", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// RedactPII masks email addresses, card numbers and phone numbers in
// transcripts before they leave the process.
func RedactPII(input string) (string, bool) {
	out := input
	for _, r := range redactionRules {
		out = r.pattern.ReplaceAllString(out, r.mask)
	}
	return out, out != input
}

// Preview returns at most maxRunes of text with PII masked, for logs.
func Preview(text string, maxRunes int) string {
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes]) + "..."
	}
	out, _ := RedactPII(text)
	return out
}
