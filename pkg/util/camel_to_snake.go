package util

import (
	"strings"
	"unicode"
)

// CamelToSnakeCase maps Go field names to column names. Acronyms stay one
// word: "JobID" becomes "job_id", "HTTPServer" becomes "http_server".
func CamelToSnakeCase(str string) string {
	runes := []rune(str)

	var b strings.Builder
	b.Grow(len(str) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}

		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}
