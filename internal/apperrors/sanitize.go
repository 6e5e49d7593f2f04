package apperrors

import (
	"regexp"
	"strings"

	"github.com/lattice-id/identity-core/internal/domain"
)

// RedactedPlaceholder replaces any externally-visible message matched by
// the sanitizer (spec §4.5).
const RedactedPlaceholder = "[message redacted: sensitive content detected]"

// sensitiveTerms are matched as whole words against a lowercased message
// (see hasWord): start/end of string, any non-alphanumeric character, or a
// CamelCase transition count as word boundaries; letters and digits do not.
var sensitiveTerms = []string{
	"password",
	"secret",
	"token",
	"key",
	"credential",
	"bearer",
	"authorization",
	"apikey",
	"api_key",
	"private",
}

// longHex matches runs of >= 32 hex characters; longBase64 matches runs of
// >= 44 base64 characters. Both are signatures of raw key/secret material
// leaking into a message (spec §4.5).
var (
	longHex    = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	longBase64 = regexp.MustCompile(`[A-Za-z0-9+/_-]{44,}={0,2}`)
)

// Sanitize implements domain.Redactor: it scans msg for any sensitive
// pattern or long hex/base64 run and, on a match, replaces the whole
// message with RedactedPlaceholder. Unmatched messages pass through
// unchanged.
type Sanitizer struct{}

// NewSanitizer constructs the platform's error/log message sanitizer.
func NewSanitizer() Sanitizer {
	return Sanitizer{}
}

// Sanitize implements domain.Redactor.
func (Sanitizer) Sanitize(msg string) string {
	if containsSensitive(msg) {
		return RedactedPlaceholder
	}
	return msg
}

func containsSensitive(msg string) bool {
	if longHex.MatchString(msg) || longBase64.MatchString(msg) {
		return true
	}
	lower := strings.ToLower(msg)
	for _, term := range sensitiveTerms {
		if hasWord(msg, lower, term) {
			return true
		}
	}
	return false
}

// isLower reports whether b is an ASCII lowercase letter.
func isLower(b byte) bool { return b >= 'a' && b <= 'z' }

// isWordChar reports whether b can be part of an identifier word: any
// letter or digit. Everything else (space, punctuation, symbols) is a
// boundary.
func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// hasWord reports whether term occurs in original with a word boundary on
// both sides: start/end of string, any non-alphanumeric character, or a
// CamelCase transition. Ported from the platform's field-name redactor
// (which only ever saw JSON keys) and extended with a plain
// non-alphanumeric boundary so it also works over free-form message text
// (e.g. "token expired" must match "token" even though a space isn't '_',
// '-', '.', or a digit). This preserves the original's false-positive
// avoidance — "tokenization" still does not match "token" — while fixing
// the case the original never needed to handle.
func hasWord(original, lower, term string) bool {
	start := 0
	for {
		idx := strings.Index(lower[start:], term)
		if idx == -1 {
			return false
		}
		actualIdx := start + idx

		boundaryBefore := true
		if actualIdx > 0 {
			prev := original[actualIdx-1]
			isCamel := isLower(prev) && actualIdx < len(original) && original[actualIdx] >= 'A' && original[actualIdx] <= 'Z'
			if isWordChar(prev) && !isCamel {
				boundaryBefore = false
			}
		}

		boundaryAfter := true
		endIdx := actualIdx + len(term)
		if endIdx < len(original) {
			next := original[endIdx]
			isCamel := next >= 'A' && next <= 'Z'
			if isWordChar(next) && !isCamel {
				boundaryAfter = false
			}
		}

		if boundaryBefore && boundaryAfter {
			return true
		}
		start = actualIdx + 1
	}
}

var _ domain.Redactor = Sanitizer{}
