// Package trust implements the Bilateral Trust Registry (spec.md §3.3,
// §4.4): the directed graph of trust edges that gates every cross-instance
// call. Grounded on the teacher's pattern of an LRU-cached lookup in front
// of a mutex-guarded source of truth (hashicorp/golang-lru, as the teacher
// itself depends on for its TUF/JWKS layers).
package trust

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ryanuber/go-glob"
)

// Level is the bilateral trust level between two instances.
type Level string

const (
	Development Level = "development"
	Partner     Level = "partner"
	Bilateral   Level = "bilateral"
	Coalition   Level = "coalition"
)

// DataIsolation controls how much of a target's data a source may see.
type DataIsolation string

const (
	Minimal  DataIsolation = "minimal"
	Filtered DataIsolation = "filtered"
	Full     DataIsolation = "full"
)

// Edge is a directed (source -> target) trust relationship (spec.md §3.3).
type Edge struct {
	Source           string
	Target           string
	TrustLevel       Level
	MaxClassification string
	AllowedScopes    []string
	DataIsolation    DataIsolation
	Enabled          bool
	ValidFrom        time.Time
	ValidTo          time.Time
}

// AllowsScope reports whether scope matches one of the edge's allowed
// scope patterns (glob-capable, e.g. "policy:*").
func (e Edge) AllowsScope(scope string) bool {
	for _, allowed := range e.AllowedScopes {
		if glob.Glob(allowed, scope) {
			return true
		}
	}
	return false
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type cacheEntry struct {
	edge    *Edge // nil means "known absent"
	cumTime time.Time
}

// Registry is the concurrency-safe bilateral trust graph.
type Registry struct {
	mu    sync.RWMutex
	edges map[string]map[string]Edge // edges[source][target]

	cacheTTL time.Duration
	cache    *lru.Cache
	cacheMu  sync.Mutex
}

// NewRegistry builds an empty Registry. cacheTTL defaults to 30s per
// spec.md §4.4 when zero is given.
func NewRegistry(cacheTTL time.Duration, cacheSize int) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, _ := lru.New(cacheSize)
	return &Registry{
		edges:    map[string]map[string]Edge{},
		cacheTTL: cacheTTL,
		cache:    c,
	}
}

func key(source, target string) string { return source + "\x00" + target }

// Verify returns the trust edge from source to target, or nil if the
// relationship is unknown, disabled, or outside its validity window.
// Self-edges are always nil. Results are cached by (source, target).
func (r *Registry) Verify(source, target string) *Edge {
	source, target = normalizeCode(source), normalizeCode(target)
	if source == target {
		return nil
	}

	k := key(source, target)
	r.cacheMu.Lock()
	if v, ok := r.cache.Get(k); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.cumTime) < r.cacheTTL {
			r.cacheMu.Unlock()
			return entry.edge
		}
		r.cache.Remove(k)
	}
	r.cacheMu.Unlock()

	edge := r.lookup(source, target)

	r.cacheMu.Lock()
	r.cache.Add(k, cacheEntry{edge: edge, cumTime: time.Now()})
	r.cacheMu.Unlock()

	return edge
}

func (r *Registry) lookup(source, target string) *Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byTarget, ok := r.edges[source]
	if !ok {
		return nil
	}
	e, ok := byTarget[target]
	if !ok || !e.Enabled {
		return nil
	}
	now := time.Now()
	if !e.ValidFrom.IsZero() && now.Before(e.ValidFrom) {
		return nil
	}
	if !e.ValidTo.IsZero() && now.After(e.ValidTo) {
		return nil
	}
	cp := e
	return &cp
}

// Put creates or updates a trust edge, invalidating any cached lookup for
// (source, target) so the next Verify call observes the write immediately
// (spec.md §9 "cache invalidation coupling").
func (r *Registry) Put(edge Edge) {
	edge.Source = normalizeCode(edge.Source)
	edge.Target = normalizeCode(edge.Target)
	if edge.Source == edge.Target {
		return
	}
	r.mu.Lock()
	if r.edges[edge.Source] == nil {
		r.edges[edge.Source] = map[string]Edge{}
	}
	r.edges[edge.Source][edge.Target] = edge
	r.mu.Unlock()

	r.invalidate(edge.Source, edge.Target)
}

// Remove deletes a trust edge outright (spec.md §4.2 "revoke ... removes
// trust edges").
func (r *Registry) Remove(source, target string) {
	source, target = normalizeCode(source), normalizeCode(target)
	r.mu.Lock()
	if byTarget, ok := r.edges[source]; ok {
		delete(byTarget, target)
	}
	r.mu.Unlock()
	r.invalidate(source, target)
}

// Disable flips Enabled=false on an edge without deleting it (spec.md
// §4.2 "spoke suspension ... trust-downgrade event").
func (r *Registry) Disable(source, target string) {
	source, target = normalizeCode(source), normalizeCode(target)
	r.mu.Lock()
	if byTarget, ok := r.edges[source]; ok {
		if e, ok := byTarget[target]; ok {
			e.Enabled = false
			byTarget[target] = e
		}
	}
	r.mu.Unlock()
	r.invalidate(source, target)
}

func (r *Registry) invalidate(source, target string) {
	r.cacheMu.Lock()
	r.cache.Remove(key(source, target))
	r.cacheMu.Unlock()
}

// OutboundTargets lists every target source has an edge to, regardless of
// enabled/validity state — used by admin listing views.
func (r *Registry) OutboundTargets(source string) []string {
	source = normalizeCode(source)
	r.mu.RLock()
	defer r.mu.RUnlock()
	byTarget, ok := r.edges[source]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(byTarget))
	for t := range byTarget {
		out = append(out, t)
	}
	return out
}
