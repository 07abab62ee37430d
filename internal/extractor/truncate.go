package extractor

import "unicode/utf8"

// Truncate clamps s to at most max bytes without splitting a multi-byte
// rune, so stored content stays valid UTF-8.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
