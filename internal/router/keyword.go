package router

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeQuery canonicalizes a query for layer-1 lookup: NFKC
// normalization, lowercase, and collapsed whitespace. Trigger table keys go
// through the same function, so lookup stays an exact string match.
func NormalizeQuery(q string) string {
	q = norm.NFKC.String(q)
	q = strings.ToLower(q)
	return strings.Join(strings.Fields(q), " ")
}

// keyword is layer 1: an O(1) exact lookup in the trigger table. A hit is a
// certain decision with the trigger's fixed arguments and no external calls.
func (r *Router) keyword(query string) *Decision {
	t, ok := r.triggers[NormalizeQuery(query)]
	if !ok {
		return nil
	}
	return &Decision{
		Source: SourceKeyword,
		Action: t.Action,
		Args:   copyArgs(t.Args),
		Score:  1,
	}
}

func copyArgs(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
