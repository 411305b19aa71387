// Package logsanitize provides helpers for sanitizing untrusted values before logging.
package logsanitize

import "strings"

// MaxLen caps the number of runes kept from a single untrusted value.
const MaxLen = 256

// Sanitize removes control characters from log field values to reduce
// the risk of log injection (CWE-117) and truncates values longer than MaxLen.
//
// Stripped ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)

	runes := []rune(cleaned)
	if len(runes) <= MaxLen {
		return cleaned
	}
	return string(runes[:MaxLen]) + "..."
}
