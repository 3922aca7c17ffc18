package validation

import (
	"strings"
	"unicode"
)

// StripUnprintable removes non-printable characters, allowing common
// whitespace like space, tab, newline, and carriage return. Applied to all
// free-text fields extracted from receipts before they reach the matcher.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}

// SanitizeAccountNumber keeps digits and dashes only; account numbers as
// extracted by OCR often carry stray spaces and punctuation.
func SanitizeAccountNumber(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '-' {
			return r
		}
		return -1
	}, s)
}
