package app

import (
	"strings"
	"unicode/utf8"
)

const maxInputLength = 1000

// sanitizeInput trims surrounding whitespace and caps the value at the
// maximum accepted input length, cutting on a rune boundary so the result
// stays valid UTF-8. A message altered by truncation no longer matches its
// signature and fails verification.
func sanitizeInput(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > maxInputLength {
		cut := maxInputLength
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		value = value[:cut]
	}
	return value
}
