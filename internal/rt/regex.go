// Package rt provides FlowLang runtime support: compiled regular
// expressions with a process-wide cache, and the per-runner regex
// match context.
package rt

import (
	"regexp"
	"sync"

	"github.com/coregx/coregex"
)

// Regex wraps a compiled coregex pattern. coregex is the sole engine
// deciding match or no-match; the stdlib engine is compiled lazily
// and consulted only to pull capture groups out of a match coregex
// has already confirmed, since coregex exposes no submatch
// extraction.
type Regex struct {
	pattern string
	re      *coregex.Regexp

	subOnce sync.Once
	sub     *regexp.Regexp
	subErr  error
}

// Compile compiles the pattern.
func Compile(pattern string) (*Regex, error) {
	re, err := coregex.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Regex{pattern: pattern, re: re}, nil
}

// MustCompile is like Compile but panics on invalid patterns. Only for
// patterns already validated at compile time.
func MustCompile(pattern string) *Regex {
	r, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

// Pattern returns the source pattern.
func (r *Regex) Pattern() string { return r.pattern }

// MatchString reports whether the pattern matches s.
func (r *Regex) MatchString(s string) bool {
	return r.re.MatchString(s)
}

// Submatch returns the capture groups of the first match; index 0 is
// the whole match. Returns nil when s does not match. coregex decides
// whether s matches; the stdlib engine only supplies the group texts
// afterwards, degrading to the whole input when it cannot.
func (r *Regex) Submatch(s string) []string {
	if !r.re.MatchString(s) {
		return nil
	}
	r.subOnce.Do(func() {
		r.sub, r.subErr = regexp.Compile(r.pattern)
	})
	if r.subErr != nil {
		return []string{s}
	}
	if groups := r.sub.FindStringSubmatch(s); groups != nil {
		return groups
	}
	return []string{s}
}

// Cache is a concurrency-safe compile cache keyed by pattern.
type Cache struct {
	mu sync.RWMutex
	m  map[string]*Regex
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string]*Regex)}
}

// Get returns the compiled pattern, compiling and caching it on first
// use.
func (c *Cache) Get(pattern string) (*Regex, error) {
	c.mu.RLock()
	r, ok := c.m[pattern]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}
	r, err := Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.m[pattern] = r
	c.mu.Unlock()
	return r, nil
}

// MatchContext holds the capture groups of the most recent regex
// match of one runner. It is updated on every match attempt, even a
// failed one (which clears it).
type MatchContext struct {
	groups []string
}

// Set records the groups of a match attempt.
func (mc *MatchContext) Set(groups []string) { mc.groups = groups }

// Clear resets the context to the empty result.
func (mc *MatchContext) Clear() { mc.groups = nil }

// Group returns capture group i, or "" when the last attempt did not
// match or has no such group.
func (mc *MatchContext) Group(i int) string {
	if i < 0 || i >= len(mc.groups) {
		return ""
	}
	return mc.groups[i]
}

// Count returns the number of groups, including the whole match.
func (mc *MatchContext) Count() int { return len(mc.groups) }
