package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/dive-federation/hub/internal/breaker"
	"github.com/dive-federation/hub/internal/trust"
)

type fakeTransport struct {
	introspectResp  map[string]any
	introspectErr   error
	exchangeResp    map[string]any
	exchangeErr     error
	introspectCalls int
	exchangeCalls   int
	jwksCalls       int
}

func jsonBody(v map[string]any) *http.Response {
	buf, _ := json.Marshal(v)
	return &http.Response{Body: io.NopCloser(bytes.NewReader(buf))}
}

func (f *fakeTransport) Introspect(ctx context.Context, peerBaseURL, token string) (*http.Response, error) {
	f.introspectCalls++
	if f.introspectErr != nil {
		return nil, f.introspectErr
	}
	return jsonBody(f.introspectResp), nil
}

func (f *fakeTransport) TokenExchange(ctx context.Context, peerBaseURL string, form map[string]string) (*http.Response, error) {
	f.exchangeCalls++
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return jsonBody(f.exchangeResp), nil
}

func (f *fakeTransport) FetchJWKS(ctx context.Context, peerBaseURL string) (*jose.JSONWebKeySet, error) {
	f.jwksCalls++
	return &jose.JSONWebKeySet{}, nil
}

func newEngine(transport *fakeTransport, trustRegistry *trust.Registry) *Engine {
	return New(trustRegistry, breaker.NewRegistry(breaker.DefaultConfig(), nil), transport, map[string]string{
		"GBR": "https://gbr.example",
		"USA": "https://usa.example",
	})
}

func TestIntrospect_NoTrustEdgeFails(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	e := newEngine(&fakeTransport{}, r)

	result := e.Introspect(context.Background(), "tok", "GBR", "USA", "req-1")
	require.False(t, result.Active)
	require.False(t, result.TrustVerified)
	require.Equal(t, "No bilateral trust", result.Error)
}

func TestIntrospect_SameInstanceRejected(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	e := newEngine(&fakeTransport{}, r)
	result := e.Introspect(context.Background(), "tok", "GBR", "GBR", "req-1")
	require.False(t, result.Active)
}

func TestIntrospect_SuccessIsCached(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	r.Put(trust.Edge{Source: "USA", Target: "GBR", Enabled: true, TrustLevel: trust.Partner})
	transport := &fakeTransport{introspectResp: map[string]any{"active": true, "claims": map[string]any{"sub": "user1"}}}
	e := newEngine(transport, r)

	first := e.Introspect(context.Background(), "tok", "GBR", "USA", "req-1")
	require.True(t, first.Active)
	second := e.Introspect(context.Background(), "tok", "GBR", "USA", "req-2")
	require.True(t, second.Active)

	require.Equal(t, 1, transport.introspectCalls, "the second call within TTL must hit the cache, not the transport")
}

func TestIntrospect_TransportErrorRecordsBreakerFailure(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	r.Put(trust.Edge{Source: "USA", Target: "GBR", Enabled: true, TrustLevel: trust.Partner})
	transport := &fakeTransport{introspectErr: context.DeadlineExceeded}
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	e := New(r, breakers, transport, map[string]string{"GBR": "https://gbr.example"})

	result := e.Introspect(context.Background(), "tok", "GBR", "USA", "req-1")
	require.False(t, result.Active)
	require.NotEmpty(t, result.Error)
}

func TestIntrospect_CircuitOpenShortCircuits(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	r.Put(trust.Edge{Source: "USA", Target: "GBR", Enabled: true, TrustLevel: trust.Partner})
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	breakers.Get("GBR").ForceOpen("manual")
	transport := &fakeTransport{introspectResp: map[string]any{"active": true}}
	e := New(r, breakers, transport, map[string]string{"GBR": "https://gbr.example"})

	result := e.Introspect(context.Background(), "tok", "GBR", "USA", "req-1")
	require.False(t, result.Active)
	require.Equal(t, 0, transport.introspectCalls)
}

func TestExchange_NoTrustEdgeFails(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	e := newEngine(&fakeTransport{}, r)

	result := e.Exchange(context.Background(), ExchangeRequest{OriginInstance: "GBR", TargetInstance: "USA"})
	require.False(t, result.Success)
	require.Equal(t, "invalid_grant", result.Error)
	require.NotEmpty(t, result.AuditID, "AuditID must always be populated, even on failure")
}

func TestExchange_InactiveSubjectTokenFails(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	r.Put(trust.Edge{Source: "GBR", Target: "USA", Enabled: true, TrustLevel: trust.Partner})
	r.Put(trust.Edge{Source: "USA", Target: "GBR", Enabled: true, TrustLevel: trust.Partner})
	transport := &fakeTransport{introspectResp: map[string]any{"active": false}}
	e := newEngine(transport, r)

	result := e.Exchange(context.Background(), ExchangeRequest{OriginInstance: "GBR", TargetInstance: "USA", SubjectToken: "tok"})
	require.False(t, result.Success)
	require.Equal(t, "invalid_grant", result.Error)
}

func TestExchange_ClassificationExceedsCapFails(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	r.Put(trust.Edge{Source: "GBR", Target: "USA", Enabled: true, TrustLevel: trust.Partner, MaxClassification: "RESTRICTED"})
	r.Put(trust.Edge{Source: "USA", Target: "GBR", Enabled: true, TrustLevel: trust.Partner})
	transport := &fakeTransport{introspectResp: map[string]any{"active": true, "claims": map[string]any{"clearance": "SECRET"}}}
	e := newEngine(transport, r)

	result := e.Exchange(context.Background(), ExchangeRequest{OriginInstance: "GBR", TargetInstance: "USA", SubjectToken: "tok"})
	require.False(t, result.Success)
	require.Equal(t, "invalid_scope", result.Error)
}

func TestExchange_SuccessReturnsFilteredScopesAndToken(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	r.Put(trust.Edge{
		Source: "GBR", Target: "USA", Enabled: true, TrustLevel: trust.Partner,
		MaxClassification: "SECRET", AllowedScopes: []string{"policy:*"},
	})
	r.Put(trust.Edge{Source: "USA", Target: "GBR", Enabled: true, TrustLevel: trust.Partner})
	transport := &fakeTransport{
		introspectResp: map[string]any{"active": true, "claims": map[string]any{"clearance": "CONFIDENTIAL"}},
		exchangeResp:   map[string]any{"access_token": "new-tok", "expires_in": 3600},
	}
	e := newEngine(transport, r)

	result := e.Exchange(context.Background(), ExchangeRequest{
		OriginInstance:  "GBR",
		TargetInstance:  "USA",
		SubjectToken:    "tok",
		RequestedScopes: []string{"policy:fvey", "admin:write"},
	})
	require.True(t, result.Success)
	require.Equal(t, "new-tok", result.AccessToken)
	require.Equal(t, []string{"policy:fvey"}, result.Scopes, "admin:write is not allowed by the edge and must be filtered out")
}

func TestFilterScopes_EmptyRequestMeansAllAllowed(t *testing.T) {
	edge := &trust.Edge{AllowedScopes: []string{"policy:base", "policy:fvey"}}
	got := filterScopes(nil, edge)
	require.Equal(t, []string{"policy:base", "policy:fvey"}, got)
}

func TestClassificationWithinCap(t *testing.T) {
	require.True(t, classificationWithinCap("SECRET", "TOP_SECRET"))
	require.True(t, classificationWithinCap("SECRET", "SECRET"))
	require.False(t, classificationWithinCap("TOP_SECRET", "SECRET"))
	require.True(t, classificationWithinCap("UNKNOWN_LEVEL", "SECRET"), "an unrecognized level never blocks, it only constrains known ones")
}

func TestJWKSFor_CachesAcrossCalls(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	transport := &fakeTransport{}
	cur := time.Now()
	e := New(r, breaker.NewRegistry(breaker.DefaultConfig(), nil), transport, map[string]string{"GBR": "https://gbr.example"}, WithClock(func() time.Time { return cur }))

	_, err := e.JWKSFor(context.Background(), "GBR")
	require.NoError(t, err)
	_, err = e.JWKSFor(context.Background(), "GBR")
	require.NoError(t, err)
	require.Equal(t, 1, transport.jwksCalls, "the second call within TTL must hit the cache, not the transport")
}

func TestJWKSFor_UnknownOriginErrors(t *testing.T) {
	r := trust.NewRegistry(0, 0)
	e := newEngine(&fakeTransport{}, r)
	_, err := e.JWKSFor(context.Background(), "FRA")
	require.Error(t, err)
}
