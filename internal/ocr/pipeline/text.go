package pipeline

import "unicode/utf8"

// truncateUTF8 truncates s to at most maxBytes bytes, backing off to the
// nearest UTF-8 rune boundary so the result is never a cut multi-byte
// sequence. It reports whether truncation occurred.
func truncateUTF8(s string, maxBytes int) (string, bool) {
	if len(s) <= maxBytes {
		return s, false
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
