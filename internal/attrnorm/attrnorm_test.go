package attrnorm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dive-federation/hub/internal/clearance"
)

func emptyStore() *clearance.Store { return clearance.NewStore(clearance.Mapping{}) }

func TestNormalize_USAFamily(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("usa-oidc", RawClaims{
		"sub":                  "alice",
		"email":                "alice@mil.gov",
		"clearance":            "SECRET",
		"countryOfAffiliation": "US",
		"acpCOI":               []string{"FVEY"},
	})

	require.Equal(t, "alice", attrs.UniqueID)
	require.Equal(t, clearance.Secret, attrs.Clearance)
	require.Equal(t, clearance.Exact, attrs.ClearanceConfidence)
	require.Equal(t, "USA", attrs.CountryOfAffiliation, "two-letter ISO code must fold to the three-letter form")
	require.Equal(t, []string{"FVEY"}, attrs.ACPCOI)
	require.Equal(t, "usa-oidc", attrs.IdPAlias)
}

func TestNormalize_USAFamily_InvalidClearanceFallsBackToUnclassified(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("usa-oidc", RawClaims{"email": "bob@mil.gov", "clearance": "not-a-level"})

	require.Equal(t, clearance.Unclassified, attrs.Clearance)
	require.Equal(t, clearance.Fallback, attrs.ClearanceConfidence)
}

func TestNormalize_USAFamily_MissingClearanceIsUnclassifiedFallback(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("usa-oidc", RawClaims{"email": "bob@mil.gov"})

	require.Equal(t, clearance.Unclassified, attrs.Clearance)
	require.Equal(t, clearance.Fallback, attrs.ClearanceConfidence)
}

func TestNormalize_FranceFamily_PrefersUIDOverFallbackChain(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("france-saml", RawClaims{
		"uid":                "u123",
		"email":              "claire@defense.gouv.fr",
		"niveauHabilitation": "SECRET",
		"groupeInteret":      []string{"NATO"},
		"grade":              "Colonel",
	})

	require.Equal(t, "u123", attrs.UniqueID)
	require.Equal(t, "FRA", attrs.CountryOfAffiliation)
	require.Equal(t, clearance.Secret, attrs.Clearance)
	require.Equal(t, []string{"NATO"}, attrs.ACPCOI)
	require.Equal(t, "Colonel", attrs.Rank)
}

func TestNormalize_FrPrefixAliasResolvesToFranceFamily(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("fra-saml-prod", RawClaims{"email": "x@defense.gouv.fr"})
	require.Equal(t, "FRA", attrs.CountryOfAffiliation)
}

func TestNormalize_GenericFamilies(t *testing.T) {
	n := New(emptyStore())

	ca := n.Normalize("canada-oidc", RawClaims{"email": "x@forces.gc.ca", "clearance": "CONFIDENTIAL"})
	require.Equal(t, "CAN", ca.CountryOfAffiliation)
	require.Equal(t, clearance.Confidential, ca.Clearance)

	de := n.Normalize("germany-oidc", RawClaims{"email": "x@bundeswehr.de", "clearance": "SECRET"})
	require.Equal(t, "DEU", de.CountryOfAffiliation)
	require.Equal(t, clearance.Secret, de.Clearance)
}

func TestNormalize_IndustryFamily_KnownDomainCapsClearance(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("industry-oidc", RawClaims{"email": "alice@raytheon.com", "clearance": "TOP_SECRET"})

	require.Equal(t, "USA", attrs.CountryOfAffiliation)
	require.Equal(t, "Raytheon", attrs.Organization)
	require.Equal(t, clearance.Secret, attrs.Clearance, "industry contractors are capped below TOP_SECRET per the USA ceiling")
	require.Equal(t, Contractor, attrs.UserType)
}

func TestNormalize_IndustryFamily_UnknownDomainDefaultsToUSAWithNoOrg(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("industry-oidc", RawClaims{"email": "bob@unknown-corp.com"})
	require.Equal(t, "USA", attrs.CountryOfAffiliation)
	require.Empty(t, attrs.Organization)
}

func TestNormalize_UnknownAliasUsesGenericPassthroughAndEnrichDefaultsToCivilian(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("some-unrecognized-idp", RawClaims{"email": "x@example.org"})

	require.Equal(t, Civilian, attrs.UserType)
	require.Equal(t, "USA", attrs.CountryOfAffiliation, "defaultCountry falls back to USA for unrecognized aliases")
}

func TestNormalize_LongestPrefixWins(t *testing.T) {
	n := New(emptyStore())
	attrs := n.Normalize("fra-something", RawClaims{"email": "x@defense.gouv.fr"})
	require.Equal(t, "FRA", attrs.CountryOfAffiliation)
}

func TestEnrich_FallsBackToEmailWhenUniqueIDMissing(t *testing.T) {
	n := New(emptyStore())
	got := n.Enrich(SubjectAttributes{Email: "carol@example.org"}, "usa-oidc")
	require.Equal(t, "carol@example.org", got.UniqueID)
}

func TestEnrich_IndustryAliasDefaultsUserTypeToContractor(t *testing.T) {
	n := New(emptyStore())
	got := n.Enrich(SubjectAttributes{Email: "x@raytheon.com"}, "industry-oidc")
	require.Equal(t, Contractor, got.UserType)
}
