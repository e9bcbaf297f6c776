package cache

import (
	"sort"
	"strings"
)

// Params are the normalized query parameters a cached listing was fetched
// with: page, search string, filters. Distinct parameter sets must never
// collide, so keys are built from a deterministic encoding.
type Params map[string]string

// Key composes the cache key for an entity and its parameters. Parameters are
// encoded sorted by name, so logically identical queries always map to the
// same key regardless of construction order. Every key begins with the entity
// name, which is what makes prefix invalidation work.
func Key(entity string, params Params) string {
	if len(params) == 0 {
		return entity
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(entity)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	return b.String()
}
