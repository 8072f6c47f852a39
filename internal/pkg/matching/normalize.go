package matching

import "strings"

// NormalizeDocument strips everything but letters and digits so formatted
// payer documents ("123.456.789-00") compare equal to their bare form.
func NormalizeDocument(doc string) string {
	var b strings.Builder
	b.Grow(len(doc))
	for _, r := range doc {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	return b.String()
}
