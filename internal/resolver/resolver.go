// Package resolver implements the per-exchange job dispatch rule:
// substitute an exchange-specific override class for a default class
// name when one is registered, so exchange-branching exists in exactly
// one place in the codebase.
package resolver

import (
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// ClassExistence is the minimal seam Resolver needs from the job
// registry — only "is this class name registered", nothing else, so the
// resolver package doesn't need to import internal/job.
type ClassExistence interface {
	Has(class string) bool
}

// Resolver resolves Jobs.<Category>....<Name> to
// Jobs.<Category>....<Capitalised(canonical)>.<Name> when the
// exchange-specific class exists, else returns the default unchanged.
// Decisions are cached with hashicorp/golang-lru — resolution is
// deterministic for a given pair, so caching is sound.
type Resolver struct {
	registry ClassExistence
	cache    *lru.Cache
}

// New builds a Resolver backed by registry, with an LRU decision cache of
// the given size (0 disables caching).
func New(registry ClassExistence, cacheSize int) *Resolver {
	var cache *lru.Cache
	if cacheSize > 0 {
		cache, _ = lru.New(cacheSize)
	}
	return &Resolver{registry: registry, cache: cache}
}

type cacheKey struct {
	defaultClass string
	canonical    string
}

// Resolve returns the class name to write into step.class, so the job
// harness itself never has to reason about exchanges.
func (r *Resolver) Resolve(defaultClass, canonical string) string {
	key := cacheKey{defaultClass, canonical}
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(string)
		}
	}

	resolved := defaultClass
	if specific, ok := substituteCanonical(defaultClass, canonical); ok && r.registry.Has(specific) {
		resolved = specific
	}

	if r.cache != nil {
		r.cache.Add(key, resolved)
	}
	return resolved
}

// substituteCanonical inserts Capitalised(canonical) as the second-to-last
// dotted segment of a class name, e.g.
// "Jobs.Lifecycles.Position.DispatchPositionJob" + "bybit" ->
// "Jobs.Lifecycles.Position.Bybit.DispatchPositionJob".
func substituteCanonical(defaultClass, canonical string) (string, bool) {
	if canonical == "" {
		return "", false
	}
	segments := strings.Split(defaultClass, ".")
	if len(segments) < 2 {
		return "", false
	}
	name := segments[len(segments)-1]
	prefix := segments[:len(segments)-1]
	out := make([]string, 0, len(prefix)+2)
	out = append(out, prefix...)
	out = append(out, capitalise(canonical), name)
	return strings.Join(out, "."), true
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
