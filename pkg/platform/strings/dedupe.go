// Package strings holds small helpers for list-valued settings.
package strings

import "strings"

// DedupeAndTrim trims each entry and drops blanks and repeats, keeping the
// first occurrence in order. A nil input stays nil.
func DedupeAndTrim(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
