package spoke

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dive-federation/hub/internal/trust"
)

func testRegistry(t *testing.T, events Events) *Registry {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewRegistry(trust.NewRegistry(0, 0), events, WithClock(func() time.Time { return now }))
}

func registerTestSpoke(t *testing.T, r *Registry, code string) *Record {
	t.Helper()
	certPEM := selfSignedCertPEM(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	rec, warnings, err := r.RegisterSpoke(RegisterRequest{InstanceCode: code, Name: "Test Spoke", CertificatePEM: certPEM})
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
	require.Equal(t, Pending, rec.Status)
	return rec
}

func TestRegisterSpoke_RejectsInvalidInstanceCode(t *testing.T) {
	r := testRegistry(t, Events{})
	certPEM := selfSignedCertPEM(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	_, _, err := r.RegisterSpoke(RegisterRequest{InstanceCode: "TOOLONG", CertificatePEM: certPEM})
	require.Error(t, err)
}

func TestRegisterSpoke_DuplicateActiveInstanceCodeConflicts(t *testing.T) {
	r := testRegistry(t, Events{})
	registerTestSpoke(t, r, "GBR")

	certPEM := selfSignedCertPEM(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	_, _, err := r.RegisterSpoke(RegisterRequest{InstanceCode: "GBR", CertificatePEM: certPEM})
	require.Error(t, err)
}

func TestRegisterSpoke_RevokedInstanceCodeCanReregister(t *testing.T) {
	r := testRegistry(t, Events{})
	rec := registerTestSpoke(t, r, "GBR")
	_, err := r.ApproveSpoke(context.Background(), rec.SpokeID, "admin", Grant{TrustLevel: trust.Partner, MaxClassificationAllowed: "SECRET"})
	require.NoError(t, err)
	_, err = r.RevokeSpoke(context.Background(), rec.SpokeID, "compromised")
	require.NoError(t, err)

	certPEM := selfSignedCertPEM(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	_, _, err = r.RegisterSpoke(RegisterRequest{InstanceCode: "GBR", CertificatePEM: certPEM})
	require.NoError(t, err)
}

func TestApproveSpoke_CreatesTrustEdgeAndFiresEvent(t *testing.T) {
	var approvedSpokeID string
	r := testRegistry(t, Events{OnApproved: func(ctx context.Context, spokeID string, grant Grant) {
		approvedSpokeID = spokeID
	}})
	rec := registerTestSpoke(t, r, "GBR")

	approved, err := r.ApproveSpoke(context.Background(), rec.SpokeID, "admin", Grant{
		TrustLevel:               trust.Partner,
		MaxClassificationAllowed: "SECRET",
		AllowedPolicyScopes:      []string{"policy:fvey"},
	})
	require.NoError(t, err)
	require.Equal(t, Approved, approved.Status)
	require.Equal(t, rec.SpokeID, approvedSpokeID)

	edge := r.trust.Verify("HUB", "GBR")
	require.NotNil(t, edge)
	require.Equal(t, trust.Partner, edge.TrustLevel)
}

func TestApproveSpoke_OnlyLegalFromPending(t *testing.T) {
	r := testRegistry(t, Events{})
	rec := registerTestSpoke(t, r, "GBR")
	_, err := r.ApproveSpoke(context.Background(), rec.SpokeID, "admin", Grant{TrustLevel: trust.Partner})
	require.NoError(t, err)

	_, err = r.ApproveSpoke(context.Background(), rec.SpokeID, "admin", Grant{TrustLevel: trust.Partner})
	require.Error(t, err)
}

func TestSuspendSpoke_InvalidatesTokensAndDisablesTrust(t *testing.T) {
	r := testRegistry(t, Events{})
	rec := registerTestSpoke(t, r, "GBR")
	_, err := r.ApproveSpoke(context.Background(), rec.SpokeID, "admin", Grant{TrustLevel: trust.Partner, AllowedPolicyScopes: []string{"policy:base"}})
	require.NoError(t, err)

	tok, err := r.GenerateSpokeToken(rec.SpokeID)
	require.NoError(t, err)

	_, err = r.SuspendSpoke(context.Background(), rec.SpokeID, "maintenance")
	require.NoError(t, err)

	result := r.ValidateToken(tok.Token)
	require.False(t, result.Valid)

	require.Nil(t, r.trust.Verify("HUB", "GBR"), "a disabled edge must fail Verify")
}

func TestRevokeSpoke_IsTerminal(t *testing.T) {
	r := testRegistry(t, Events{})
	rec := registerTestSpoke(t, r, "GBR")
	_, err := r.RevokeSpoke(context.Background(), rec.SpokeID, "compromised")
	require.NoError(t, err)

	_, err = r.RevokeSpoke(context.Background(), rec.SpokeID, "again")
	require.Error(t, err)
}

func TestValidateToken_ExpiredIsInvalid(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(trust.NewRegistry(0, 0), Events{}, WithClock(func() time.Time { return cur }), WithTokenTTL(time.Hour))
	rec := registerTestSpoke(t, r, "GBR")
	_, err := r.ApproveSpoke(context.Background(), rec.SpokeID, "admin", Grant{TrustLevel: trust.Partner})
	require.NoError(t, err)

	tok, err := r.GenerateSpokeToken(rec.SpokeID)
	require.NoError(t, err)
	require.True(t, r.ValidateToken(tok.Token).Valid)

	cur = cur.Add(2 * time.Hour)
	require.False(t, r.ValidateToken(tok.Token).Valid)
}

func TestGenerateSpokeToken_RequiresApprovedStatus(t *testing.T) {
	r := testRegistry(t, Events{})
	rec := registerTestSpoke(t, r, "GBR")
	_, err := r.GenerateSpokeToken(rec.SpokeID)
	require.Error(t, err)
}

func TestGetUnhealthy_FlagsStaleOrMissingHeartbeats(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(trust.NewRegistry(0, 0), Events{}, WithClock(func() time.Time { return cur }))
	rec := registerTestSpoke(t, r, "GBR")
	_, err := r.ApproveSpoke(context.Background(), rec.SpokeID, "admin", Grant{TrustLevel: trust.Partner})
	require.NoError(t, err)

	require.Len(t, r.GetUnhealthy(time.Minute), 1, "no heartbeat recorded yet counts as unhealthy")

	require.NoError(t, r.RecordHeartbeat(rec.SpokeID, HeartbeatStats{LatencyMS: 20, OPALConnected: true}))
	require.Len(t, r.GetUnhealthy(time.Minute), 0)

	cur = cur.Add(2 * time.Minute)
	require.Len(t, r.GetUnhealthy(time.Minute), 1)
}

func TestLimiter_IsStableAcrossCalls(t *testing.T) {
	r := testRegistry(t, Events{})
	a := r.Limiter("spoke-x")
	b := r.Limiter("spoke-x")
	require.Same(t, a, b)
}

func TestLoadRecords_RehydratesWithoutEvents(t *testing.T) {
	fired := false
	r := testRegistry(t, Events{OnApproved: func(ctx context.Context, spokeID string, grant Grant) { fired = true }})
	r.LoadRecords([]Record{{SpokeID: "spoke-gbr-aaaa", InstanceCode: "GBR", Status: Approved}})

	rec, ok := r.Get("spoke-gbr-aaaa")
	require.True(t, ok)
	require.Equal(t, Approved, rec.Status)
	require.False(t, fired)
}
