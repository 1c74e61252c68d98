package util

import "strings"

// SanitizeText drops NUL and other non-printing control characters that
// Postgres text columns reject and that PDF extractors and model output
// occasionally contain. Newlines and tabs survive.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")
	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 || ch == 0x7f {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}

// TruncateRunes cuts s to at most max runes.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
