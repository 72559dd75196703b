// Package exchange implements the Token Exchange Engine (spec.md §4.5):
// RFC 7662 introspection and RFC 8693 token exchange across the bilateral
// trust graph, with introspection/trust/JWKS caching. Grounded on the
// teacher's JWKS-fetch-and-verify pattern (go-jose/go-jose), generalized
// from a single Fulcio root to one JWKS per peer origin.
package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/dive-federation/hub/internal/breaker"
	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/trust"
)

const (
	unknownInstance = "UNKNOWN"

	defaultIntrospectionTTL = 5 * time.Second
	defaultJWKSTTL          = 10 * time.Minute
	defaultTimeout          = 5 * time.Second
)

// IntrospectionResult is the shaped result of Introspect (spec.md §4.5).
type IntrospectionResult struct {
	Active        bool
	Claims        map[string]any
	TrustVerified bool
	LatencyMS     int64
	ValidatedAt   time.Time
	Error         string
}

// ExchangeRequest is the input to Exchange (spec.md §4.5 RFC-8693 shape).
type ExchangeRequest struct {
	SubjectToken     string
	SubjectTokenType string
	OriginInstance   string
	TargetInstance   string
	RequestedScopes  []string
	RequestID        string
}

// ExchangeResult is the shaped result of Exchange; AuditID is always
// populated, even on failure, for correlation (spec.md §4.5).
type ExchangeResult struct {
	Success          bool
	AccessToken      string
	ExpiresIn        int64
	Scopes           []string
	OriginInstance   string
	TargetInstance   string
	AuditID          string
	Error            string
	ErrorDescription string
}

// PeerTransport performs the actual outbound HTTP calls to peer hubs
// (spec.md §6 "Outbound HTTP"). A real implementation wraps
// internal/httpclient; tests supply a fake.
type PeerTransport interface {
	Introspect(ctx context.Context, peerBaseURL, token string) (*http.Response, error)
	TokenExchange(ctx context.Context, peerBaseURL string, form map[string]string) (*http.Response, error)
	FetchJWKS(ctx context.Context, peerBaseURL string) (*jose.JSONWebKeySet, error)
}

type introspectionCacheEntry struct {
	result IntrospectionResult
	cachedAt time.Time
}

type jwksCacheEntry struct {
	keySet   *jose.JSONWebKeySet
	cachedAt time.Time
}

// Engine is the Token Exchange Engine.
type Engine struct {
	trust     *trust.Registry
	breakers  *breaker.Registry
	transport PeerTransport
	peerBaseURLs map[string]string // instanceCode -> base URL

	introspectionTTL time.Duration
	jwksTTL          time.Duration
	timeout          time.Duration

	introspectionCache *lru.Cache
	jwksCache          *lru.Cache

	clock func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithIntrospectionTTL(d time.Duration) Option { return func(e *Engine) { e.introspectionTTL = d } }
func WithJWKSTTL(d time.Duration) Option           { return func(e *Engine) { e.jwksTTL = d } }
func WithTimeout(d time.Duration) Option           { return func(e *Engine) { e.timeout = d } }
func WithClock(c func() time.Time) Option          { return func(e *Engine) { e.clock = c } }

// New builds an Engine. peerBaseURLs maps instance code -> peer base URL,
// sourced from the <CODE>_FEDERATION_ENDPOINT environment variables
// (spec.md §6).
func New(trustRegistry *trust.Registry, breakers *breaker.Registry, transport PeerTransport, peerBaseURLs map[string]string, opts ...Option) *Engine {
	introspectionCache, _ := lru.New(4096)
	jwksCache, _ := lru.New(256)
	e := &Engine{
		trust:              trustRegistry,
		breakers:           breakers,
		transport:          transport,
		peerBaseURLs:       peerBaseURLs,
		introspectionTTL:   defaultIntrospectionTTL,
		jwksTTL:            defaultJWKSTTL,
		timeout:            defaultTimeout,
		introspectionCache: introspectionCache,
		jwksCache:          jwksCache,
		clock:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time { return e.clock() }

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Introspect validates subjectToken with its origin instance, honoring
// bilateral trust and the introspection cache (spec.md §4.5).
func (e *Engine) Introspect(ctx context.Context, token, originInstance, requestingInstance, requestID string) IntrospectionResult {
	start := e.now()

	if originInstance == requestingInstance || originInstance == unknownInstance || requestingInstance == unknownInstance {
		return IntrospectionResult{Active: false, TrustVerified: false, Error: "origin and requesting instance must differ and be known", ValidatedAt: e.now()}
	}

	edge := e.trust.Verify(requestingInstance, originInstance)
	if edge == nil {
		return IntrospectionResult{Active: false, TrustVerified: false, Error: "No bilateral trust", ValidatedAt: e.now()}
	}

	cacheKey := tokenHash(token) + "|" + originInstance
	if v, ok := e.introspectionCache.Get(cacheKey); ok {
		entry := v.(introspectionCacheEntry)
		if e.now().Sub(entry.cachedAt) < e.introspectionTTL {
			result := entry.result
			result.TrustVerified = true
			return result
		}
		e.introspectionCache.Remove(cacheKey)
	}

	b := e.breakers.Get(originInstance)
	if !b.ShouldAllow() {
		return IntrospectionResult{Active: false, TrustVerified: true, Error: "circuit open for origin", ValidatedAt: e.now()}
	}

	baseURL, ok := e.peerBaseURLs[originInstance]
	if !ok {
		return IntrospectionResult{Active: false, TrustVerified: true, Error: fmt.Sprintf("no known endpoint for origin %s", originInstance), ValidatedAt: e.now()}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.transport.Introspect(callCtx, baseURL, token)
	latency := e.now().Sub(start).Milliseconds()
	if err != nil {
		b.RecordFailure(err.Error())
		return IntrospectionResult{Active: false, TrustVerified: true, LatencyMS: latency, Error: err.Error(), ValidatedAt: e.now()}
	}
	defer resp.Body.Close()

	var body struct {
		Active bool           `json:"active"`
		Claims map[string]any `json:"claims"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		b.RecordFailure(err.Error())
		return IntrospectionResult{Active: false, TrustVerified: true, LatencyMS: latency, Error: "malformed introspection response", ValidatedAt: e.now()}
	}
	b.RecordSuccess()

	result := IntrospectionResult{
		Active:        body.Active,
		Claims:        body.Claims,
		TrustVerified: true,
		LatencyMS:     latency,
		ValidatedAt:   e.now(),
	}
	e.introspectionCache.Add(cacheKey, introspectionCacheEntry{result: result, cachedAt: e.now()})
	return result
}

// Exchange mints a target-audience token for subjectToken per RFC 8693
// semantics (spec.md §4.5). Always returns a shaped result with AuditID
// populated, even on failure.
func (e *Engine) Exchange(ctx context.Context, req ExchangeRequest) ExchangeResult {
	auditID := uuid.New().String()
	result := ExchangeResult{OriginInstance: req.OriginInstance, TargetInstance: req.TargetInstance, AuditID: auditID}

	edge := e.trust.Verify(req.OriginInstance, req.TargetInstance)
	if edge == nil {
		result.Error = "invalid_grant"
		result.ErrorDescription = "no bilateral trust between origin and target"
		return result
	}

	introspection := e.Introspect(ctx, req.SubjectToken, req.OriginInstance, req.TargetInstance, req.RequestID)
	if !introspection.Active {
		result.Error = "invalid_grant"
		result.ErrorDescription = "subject token is not active"
		return result
	}

	if classification, _ := introspection.Claims["clearance"].(string); classification != "" {
		if !classificationWithinCap(classification, edge.MaxClassification) {
			result.Error = "invalid_scope"
			result.ErrorDescription = "subject clearance exceeds the trust edge's maxClassification"
			return result
		}
	}

	scopes := filterScopes(req.RequestedScopes, edge)

	b := e.breakers.Get(req.TargetInstance)
	if !b.ShouldAllow() {
		result.Error = "temporarily_unavailable"
		result.ErrorDescription = "circuit open for target"
		return result
	}

	baseURL, ok := e.peerBaseURLs[req.TargetInstance]
	if !ok {
		result.Error = "invalid_target"
		result.ErrorDescription = fmt.Sprintf("no known endpoint for target %s", req.TargetInstance)
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	form := map[string]string{
		"grant_type":           "urn:ietf:params:oauth:grant-type:token-exchange",
		"subject_token":        req.SubjectToken,
		"subject_token_type":   req.SubjectTokenType,
		"requested_token_type": "urn:ietf:params:oauth:token-type:access_token",
		"audience":             req.TargetInstance,
	}
	resp, err := e.transport.TokenExchange(callCtx, baseURL, form)
	if err != nil {
		b.RecordFailure(err.Error())
		result.Error = "server_error"
		result.ErrorDescription = err.Error()
		return result
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		b.RecordFailure(err.Error())
		result.Error = "server_error"
		result.ErrorDescription = "malformed token-exchange response"
		return result
	}
	b.RecordSuccess()

	result.Success = true
	result.AccessToken = body.AccessToken
	result.ExpiresIn = body.ExpiresIn
	result.Scopes = scopes
	return result
}

// filterScopes intersects requested with the edge's allowed scopes; an
// empty request means "all allowed" (spec.md §4.5 step 3).
func filterScopes(requested []string, edge *trust.Edge) []string {
	if len(requested) == 0 {
		return append([]string(nil), edge.AllowedScopes...)
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if edge.AllowsScope(s) {
			out = append(out, s)
		}
	}
	return out
}

var classificationRank = map[string]int{
	"UNCLASSIFIED": 0,
	"RESTRICTED":   1,
	"CONFIDENTIAL": 2,
	"SECRET":       3,
	"TOP_SECRET":   4,
}

func classificationWithinCap(requested, ceiling string) bool {
	r, ok1 := classificationRank[requested]
	c, ok2 := classificationRank[ceiling]
	if !ok1 || !ok2 {
		return true
	}
	return r <= c
}

// JWKSFor returns the cached (or freshly fetched) JWKS for a peer origin
// (spec.md §4.5 "Caches"). Introspect and Exchange do not call it: token
// signatures are not verified locally, and every cache miss in Introspect
// goes to the origin's introspection endpoint.
func (e *Engine) JWKSFor(ctx context.Context, originInstance string) (*jose.JSONWebKeySet, error) {
	if v, ok := e.jwksCache.Get(originInstance); ok {
		entry := v.(jwksCacheEntry)
		if e.now().Sub(entry.cachedAt) < e.jwksTTL {
			return entry.keySet, nil
		}
		e.jwksCache.Remove(originInstance)
	}

	baseURL, ok := e.peerBaseURLs[originInstance]
	if !ok {
		return nil, errs.New(errs.NotFound, "", "no known endpoint for origin %s", originInstance)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	keySet, err := e.transport.FetchJWKS(callCtx, baseURL)
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "fetching JWKS for %s", originInstance)
	}
	e.jwksCache.Add(originInstance, jwksCacheEntry{keySet: keySet, cachedAt: e.now()})
	return keySet, nil
}
