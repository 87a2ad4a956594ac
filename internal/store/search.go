package store

import (
	"strings"

	"github.com/haasonsaas/weave/pkg/models"
)

// searchText flattens a message into the text its search index entry is
// built from: the fragment name followed by the payload's string leaves.
func searchText(msg *models.Message) string {
	frag := models.FragmentFromMessage(msg)
	text := frag.Text()
	if text == "" {
		return msg.Name
	}
	return msg.Name + " " + text
}

// ftsQuery sanitizes a caller query for FTS5 MATCH: each whitespace token
// becomes a quoted phrase term, joined with implicit AND.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		terms = append(terms, `"`+strings.ReplaceAll(field, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

// matchesSubstring reports whether every whitespace token of the query
// appears in the indexed text, case-insensitive. The memory backend's
// search semantics.
func matchesSubstring(indexed, query string) bool {
	haystack := strings.ToLower(indexed)
	for _, field := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(haystack, field) {
			return false
		}
	}
	return strings.TrimSpace(query) != ""
}
