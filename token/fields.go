package token

import "strings"

// Reserved characters of the token plaintext.
const (
	tokenDelim      = '%' // separates metadata, expiration and signature
	userDataDelim   = '$' // separates metadata entries
	userAttribDelim = ':' // separates an entry key from its value
	escapeChar      = '\\'
)

func isReserved(c byte) bool {
	return c == tokenDelim || c == userDataDelim || c == userAttribDelim
}

// EscapeField puts a backslash in front of every reserved delimiter in s.
func EscapeField(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		if isReserved(s[i]) {
			b.WriteByte(escapeChar)
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// UnescapeField drops a backslash that precedes a reserved delimiter.
// Any other backslash, including a trailing one, is kept as is.
func UnescapeField(s string) string {
	if strings.IndexByte(s, escapeChar) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escapeChar && i < len(s)-1 && isReserved(s[i+1]) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// splitField splits s around unescaped occurrences of sep, returning at most n
// parts (n < 0 means all).
func splitField(s string, sep byte, n int) []string {
	parts := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(s); i++ {
		if n > 0 && len(parts) == n-1 {
			break
		}
		if s[i] != sep || (i > 0 && s[i-1] == escapeChar) {
			continue
		}
		parts = append(parts, s[start:i])
		start = i + 1
	}
	return append(parts, s[start:])
}
