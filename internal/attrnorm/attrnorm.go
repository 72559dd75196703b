// Package attrnorm implements the Attribute Normalizer (spec.md §3.1, §4.1):
// per-IdP mapping of raw claims into the canonical SubjectAttributes wire
// contract. Normalization and clearance lookup never error (spec.md §7):
// unknown input collapses to a safe default with a confidence annotation.
package attrnorm

import (
	"strings"

	"github.com/dive-federation/hub/internal/clearance"
)

// UserType enumerates the canonical subject kinds.
type UserType string

const (
	Military      UserType = "military"
	Civilian      UserType = "civilian"
	Contractor    UserType = "contractor"
	Administrator UserType = "administrator"
)

// SubjectAttributes is the wire contract for subjects (spec.md §3.1).
type SubjectAttributes struct {
	UniqueID             string
	Email                string
	Clearance            clearance.Level
	ClearanceConfidence  clearance.Confidence
	CountryOfAffiliation string
	ACPCOI               []string
	Organization         string
	Rank                 string
	Unit                 string
	UserType             UserType
	IdPAlias             string
}

// RawClaims is the untyped bag of claims an IdP hands back; a finite
// tagged variant of known aliases dispatches on it (spec.md §9 design
// notes: "never dispatch on string equality deep in the code path" — the
// dispatch happens once, here, at the normalizer boundary).
type RawClaims map[string]any

// alpha2To3 is the small fixed ISO-3166-1 table this system's supported
// IdPs actually emit; spec.md doesn't call for a general ISO library and
// none of the retrieved examples carry one, so this stays a literal map.
var alpha2To3 = map[string]string{
	"US": "USA",
	"FR": "FRA",
	"CA": "CAN",
	"DE": "DEU",
	"GB": "GBR",
	"AU": "AUS",
	"NZ": "NZL",
}

// industryCeiling caps industry-affiliated subjects per country (spec.md
// §4.1 "Industry family").
var industryCeiling = map[string]clearance.Level{
	"USA": clearance.Secret,
	"FRA": clearance.Confidential,
	"CAN": clearance.Secret,
	"DEU": clearance.Confidential,
	"GBR": clearance.Secret,
}

// industryDomains maps an email domain to (country, organization) for the
// industry family (spec.md S2: "alice@raytheon.com" -> USA).
var industryDomains = map[string]struct {
	Country string
	Org     string
}{
	"raytheon.com":       {"USA", "Raytheon"},
	"lockheedmartin.com": {"USA", "Lockheed Martin"},
	"boeing.com":         {"USA", "Boeing"},
	"thalesgroup.com":    {"FRA", "Thales"},
	"airbus.com":         {"FRA", "Airbus"},
	"rheinmetall.com":    {"DEU", "Rheinmetall"},
}

// normalizer is the per-IdP-family normalization rule.
type normalizer func(store *clearance.Store, claims RawClaims) SubjectAttributes

// family dispatch table: prefix -> rule. Longest-prefix match wins so
// "france-" and "fra-" can coexist without ambiguity.
var families = map[string]normalizer{
	"usa-":      normalizeUSA,
	"france-":   normalizeFrance,
	"fra-":      normalizeFrance,
	"canada-":   normalizeGeneric("CAN"),
	"germany-":  normalizeGeneric("DEU"),
	"industry-": normalizeIndustry,
}

// Normalizer dispatches raw IdP claims to canonical SubjectAttributes.
type Normalizer struct {
	clearance *clearance.Store
}

// New builds a Normalizer backed by the given clearance equivalency store.
func New(store *clearance.Store) *Normalizer {
	return &Normalizer{clearance: store}
}

// Normalize maps rawClaims from idpAlias into SubjectAttributes.
func (n *Normalizer) Normalize(idpAlias string, rawClaims RawClaims) SubjectAttributes {
	rule := resolve(idpAlias)
	attrs := rule(n.clearance, rawClaims)
	attrs.IdPAlias = idpAlias
	return n.Enrich(attrs, idpAlias)
}

// Enrich fills defaults on a partially populated SubjectAttributes
// (spec.md §4.1 Enrich).
func (n *Normalizer) Enrich(partial SubjectAttributes, idpAlias string) SubjectAttributes {
	if partial.UniqueID == "" {
		partial.UniqueID = partial.Email
	}
	if partial.CountryOfAffiliation == "" {
		partial.CountryOfAffiliation = defaultCountry(idpAlias)
	}
	if partial.UserType == "" {
		if strings.HasPrefix(idpAlias, "industry-") {
			partial.UserType = Contractor
		} else {
			partial.UserType = Civilian
		}
	}
	if partial.IdPAlias == "" {
		partial.IdPAlias = idpAlias
	}
	return partial
}

func resolve(idpAlias string) normalizer {
	alias := strings.ToLower(idpAlias)
	// longest matching prefix wins
	var best string
	var bestRule normalizer
	for prefix, rule := range families {
		if strings.HasPrefix(alias, prefix) && len(prefix) > len(best) {
			best, bestRule = prefix, rule
		}
	}
	if bestRule != nil {
		return bestRule
	}
	return normalizeGenericPassthrough
}

func defaultCountry(idpAlias string) string {
	alias := strings.ToLower(idpAlias)
	switch {
	case strings.HasPrefix(alias, "usa-"):
		return "USA"
	case strings.HasPrefix(alias, "france-"), strings.HasPrefix(alias, "fra-"):
		return "FRA"
	case strings.HasPrefix(alias, "canada-"):
		return "CAN"
	case strings.HasPrefix(alias, "germany-"):
		return "DEU"
	default:
		return "USA"
	}
}

// uniqueID implements the fallback chain in spec.md §4.1 and the
// round-trip invariant in spec.md §8: explicit uniqueID -> preferred
// username -> email.
func uniqueID(claims RawClaims) string {
	for _, key := range []string{"uniqueID", "unique_id", "sub"} {
		if v := str(claims, key); v != "" {
			return v
		}
	}
	if v := str(claims, "preferred_username"); v != "" {
		return v
	}
	return str(claims, "email")
}

func str(claims RawClaims, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func strSlice(claims RawClaims, key string) []string {
	v, ok := claims[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return strings.Split(t, ",")
	}
	return nil
}

func normalizeCountry(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if len(raw) == 2 {
		if a3, ok := alpha2To3[raw]; ok {
			return a3
		}
	}
	return raw
}

// --- USA-OIDC family ---

func normalizeUSA(store *clearance.Store, claims RawClaims) SubjectAttributes {
	country := normalizeCountry(str(claims, "countryOfAffiliation"))
	if country == "" {
		country = "USA"
	}
	res := store.Normalize(str(claims, "clearance"), country)
	var conf clearance.Confidence
	rawClearance := str(claims, "clearance")
	if rawClearance == "" {
		// spec.md: "invalid clearance silently dropped" -> UNCLASSIFIED, no
		// fallback flag noise beyond the normal Fallback marker.
		conf = clearance.Fallback
		res.Canonical = clearance.Unclassified
	} else if _, ok := clearance.ParseLevel(rawClearance); !ok {
		conf = clearance.Fallback
		res.Canonical = clearance.Unclassified
	} else {
		conf = res.Confidence
	}
	return SubjectAttributes{
		UniqueID:             uniqueID(claims),
		Email:                str(claims, "email"),
		Clearance:            res.Canonical,
		ClearanceConfidence:  conf,
		CountryOfAffiliation: country,
		ACPCOI:               strSlice(claims, "acpCOI"),
		Organization:         str(claims, "organization"),
		Rank:                 str(claims, "rank"),
		Unit:                 str(claims, "unit"),
	}
}

// --- France-SAML family ---

func normalizeFrance(store *clearance.Store, claims RawClaims) SubjectAttributes {
	country := normalizeCountry(str(claims, "paysAffiliation"))
	if country == "" {
		country = "FRA"
	}
	res := store.Normalize(str(claims, "niveauHabilitation"), country)
	return SubjectAttributes{
		UniqueID:             firstNonEmpty(str(claims, "uid"), uniqueID(claims)),
		Email:                str(claims, "email"),
		Clearance:            res.Canonical,
		ClearanceConfidence:  res.Confidence,
		CountryOfAffiliation: country,
		ACPCOI:               strSlice(claims, "groupeInteret"),
		Organization:         str(claims, "organisation"),
		Rank:                 str(claims, "grade"),
	}
}

// --- Canada-OIDC / Germany-OIDC families ---

func normalizeGeneric(defaultCountryCode string) normalizer {
	return func(store *clearance.Store, claims RawClaims) SubjectAttributes {
		country := normalizeCountry(str(claims, "countryOfAffiliation"))
		if country == "" {
			country = defaultCountryCode
		}
		res := store.Normalize(str(claims, "clearance"), country)
		return SubjectAttributes{
			UniqueID:             uniqueID(claims),
			Email:                str(claims, "email"),
			Clearance:            res.Canonical,
			ClearanceConfidence:  res.Confidence,
			CountryOfAffiliation: country,
			ACPCOI:               strSlice(claims, "acpCOI"),
			Organization:         str(claims, "organization"),
			Rank:                 str(claims, "rank"),
			Unit:                 str(claims, "unit"),
		}
	}
}

// --- Industry family ---

func normalizeIndustry(store *clearance.Store, claims RawClaims) SubjectAttributes {
	email := str(claims, "email")
	country, org := "USA", ""
	if _, domain, ok := strings.Cut(email, "@"); ok {
		if info, known := industryDomains[strings.ToLower(domain)]; known {
			country, org = info.Country, info.Org
		}
	}
	res := store.Normalize(str(claims, "clearance"), country)
	level := res.Canonical
	if ceiling, ok := industryCeiling[country]; ok && level > ceiling {
		level = ceiling
	}
	return SubjectAttributes{
		UniqueID:             uniqueID(claims),
		Email:                email,
		Clearance:            level,
		ClearanceConfidence:  res.Confidence,
		CountryOfAffiliation: country,
		Organization:         firstNonEmpty(org, str(claims, "organization")),
		UserType:             Contractor,
	}
}

// --- generic pass-through for unknown aliases ---

func normalizeGenericPassthrough(store *clearance.Store, claims RawClaims) SubjectAttributes {
	country := normalizeCountry(str(claims, "countryOfAffiliation"))
	res := store.Normalize(str(claims, "clearance"), country)
	return SubjectAttributes{
		UniqueID:             uniqueID(claims),
		Email:                str(claims, "email"),
		Clearance:            res.Canonical,
		ClearanceConfidence:  res.Confidence,
		CountryOfAffiliation: country,
		ACPCOI:               strSlice(claims, "acpCOI"),
		Organization:         str(claims, "organization"),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
