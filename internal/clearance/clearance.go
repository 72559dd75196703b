// Package clearance implements the Clearance Equivalency Store (spec.md
// §3.2, §4.1): the canonical clearance lattice plus the per-country
// mapping from national terms to canonical levels.
package clearance

import (
	"strings"
	"sync"

	"github.com/dive-federation/hub/internal/errs"
)

// Level is one of the five canonical clearance levels, totally ordered.
type Level int

const (
	Unclassified Level = iota
	Restricted
	Confidential
	Secret
	TopSecret
)

var levelNames = map[Level]string{
	Unclassified: "UNCLASSIFIED",
	Restricted:   "RESTRICTED",
	Confidential: "CONFIDENTIAL",
	Secret:       "SECRET",
	TopSecret:    "TOP_SECRET",
}

var namesToLevel = func() map[string]Level {
	m := make(map[string]Level, len(levelNames))
	for l, n := range levelNames {
		m[n] = l
	}
	return m
}()

// AllLevels lists the canonical lattice in ascending order.
var AllLevels = []Level{Unclassified, Restricted, Confidential, Secret, TopSecret}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "UNCLASSIFIED"
}

// ParseLevel is injective on the canonical name set (spec.md §4.1 "getLevel
// is injective"): every canonical name maps to exactly one Level and back.
func ParseLevel(name string) (Level, bool) {
	l, ok := namesToLevel[strings.ToUpper(strings.TrimSpace(name))]
	return l, ok
}

// Confidence reports how a term resolved to a canonical level.
type Confidence string

const (
	Exact    Confidence = "exact"
	Mapped   Confidence = "mapped"
	Fallback Confidence = "fallback"
)

// Entry is the per-(level,country) mapping row from spec.md §3.2.
type Entry struct {
	Country      string
	NationalTerm []string
	MFARequired  bool
	AAL          int
	ACR          int
	Description  string
}

// Mapping is the full clearance equivalency table: canonical level ->
// country -> entry.
type Mapping map[Level]map[string]Entry

// Result is the outcome of a normalizeClearance lookup.
type Result struct {
	Canonical  Level
	Country    string
	Confidence Confidence
}

// Store is the mutable, concurrency-safe clearance equivalency store.
// Updates are atomic per country, per spec.md §3.2.
type Store struct {
	mu sync.RWMutex
	// mapping[level][country] = Entry
	mapping Mapping
	// termIndex[country][foldedTerm] = level, built alongside mapping so
	// lookups don't need to scan every level.
	termIndex map[string]map[string]Level
}

// NewStore seeds a Store with the given mapping; callers typically load
// this from internal/store at boot and then mutate it via Update.
func NewStore(seed Mapping) *Store {
	s := &Store{mapping: Mapping{}, termIndex: map[string]map[string]Level{}}
	for level, byCountry := range seed {
		for country, entry := range byCountry {
			_ = s.set(level, country, entry)
		}
	}
	return s
}

// Normalize resolves a raw national term for a country into a canonical
// level. Unknown terms never error: they collapse to UNCLASSIFIED with
// Fallback confidence (spec.md §7 "never throw").
func (s *Store) Normalize(term, country string) Result {
	country = strings.ToUpper(strings.TrimSpace(country))
	folded := fold(term)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byTerm, ok := s.termIndex[country]; ok {
		if level, ok := byTerm[folded]; ok {
			conf := Mapped
			if strings.EqualFold(strings.TrimSpace(term), level.String()) {
				conf = Exact
			}
			return Result{Canonical: level, Country: country, Confidence: conf}
		}
	}
	if level, ok := ParseLevel(term); ok {
		return Result{Canonical: level, Country: country, Confidence: Exact}
	}
	return Result{Canonical: Unclassified, Country: country, Confidence: Fallback}
}

// Serialize returns the preferred national term for (level, country), or
// the canonical name itself when the country has no override — the
// inverse of Normalize, used by the round-trip law in spec.md §8.
func (s *Store) Serialize(level Level, country string) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byCountry, ok := s.mapping[level]; ok {
		if entry, ok := byCountry[country]; ok && len(entry.NationalTerm) > 0 {
			return entry.NationalTerm[0]
		}
	}
	return level.String()
}

// Get returns the stored entry for (level, country), if any.
func (s *Store) Get(level Level, country string) (Entry, bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.mapping[level][country]
	return e, ok
}

// Update atomically replaces the mapping rows for one country across all
// five canonical levels (spec.md §3.2 "updates are atomic per country").
func (s *Store) Update(country string, byLevel map[Level]Entry) error {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return errs.New(errs.InvalidInput, "", "country code required")
	}
	for _, levels := range []Level{Unclassified, Restricted, Confidential, Secret, TopSecret} {
		if _, ok := byLevel[levels]; !ok {
			return errs.New(errs.InvalidInput, "", "country %s missing mapping for canonical level %s", country, levels)
		}
	}
	seen := map[string]Level{}
	for level, entry := range byLevel {
		for _, term := range entry.NationalTerm {
			f := fold(term)
			if other, ok := seen[f]; ok && other != level {
				return errs.New(errs.Conflict, "", "national term %q maps to multiple canonical levels for %s", term, country)
			}
			seen[f] = level
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.termIndex[country] = map[string]Level{}
	for level, entry := range byLevel {
		entry.Country = country
		s.setLocked(level, country, entry)
	}
	return nil
}

func (s *Store) set(level Level, country string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(level, country, entry)
	return nil
}

func (s *Store) setLocked(level Level, country string, entry Entry) {
	if s.mapping[level] == nil {
		s.mapping[level] = map[string]Entry{}
	}
	s.mapping[level][country] = entry

	if s.termIndex[country] == nil {
		s.termIndex[country] = map[string]Level{}
	}
	for _, term := range entry.NationalTerm {
		s.termIndex[country][fold(term)] = level
	}
}

// SupportedCountries lists every country with at least one mapped level.
func (s *Store) SupportedCountries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	for _, byCountry := range s.mapping {
		for c := range byCountry {
			seen[c] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// fold uppercases term and strips the diacritics listed below for
// case/accent-insensitive matching (spec.md §3.2), mapping spaces and
// hyphens to underscores. golang.org/x/text/unicode/norm is the ecosystem
// tool for this but was not part of the retrieved pack, so this is a
// deliberately small stdlib-only transliteration table covering the
// precomposed accented Latin letters that actually appear in the supported
// national clearance vocabularies (French, German, etc.). It does not
// apply Unicode NFC normalization: a letter written as a base letter plus
// a combining accent is not folded.
func fold(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	replacer := strings.NewReplacer(
		"À", "A", "Â", "A", "Ä", "A",
		"É", "E", "È", "E", "Ê", "E", "Ë", "E",
		"Î", "I", "Ï", "I",
		"Ô", "O", "Ö", "O",
		"Ù", "U", "Û", "U", "Ü", "U",
		"Ç", "C", "Ñ", "N",
		" ", "_", "-", "_",
	)
	return replacer.Replace(s)
}

// ValidateLevel returns an error if name is not a canonical level name.
func ValidateLevel(name string) (Level, error) {
	if l, ok := ParseLevel(name); ok {
		return l, nil
	}
	return Unclassified, errs.New(errs.InvalidInput, "", "unknown canonical clearance %q", name)
}
