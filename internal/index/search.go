package index

import "strings"

const defaultSearchLimit = 20

// matchQuery turns free text into an FTS5 MATCH expression. Each term is
// quoted so guide titles like "heaving-to" or "12:00" are not read as
// column filters or operators; terms are ANDed and the last one matches as
// a prefix.
func matchQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	if n := len(terms); n > 0 {
		terms[n-1] += "*"
	}
	return strings.Join(terms, " ")
}

// likePattern escapes LIKE wildcards in q and wraps it for a substring match.
// Use with ESCAPE '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(q)) + "%"
}
