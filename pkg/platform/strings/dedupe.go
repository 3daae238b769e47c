// Package strings carries small list-shaping helpers for values parsed
// out of configuration.
package strings

import "strings"

// DedupeAndTrim trims each element and drops empties and duplicates,
// keeping first-occurrence order. Comma-separated env values arrive with
// stray whitespace and the odd repeat; broker lists want neither.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
