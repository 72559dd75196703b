// Package spoke implements the Spoke Registry & Lifecycle (spec.md §3.4,
// §3.5, §4.2): the pending->approved->suspended->revoked state machine,
// certificate-bound identity, token minting, and heartbeat tracking.
package spoke

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/trust"
)

// Status is a spoke's lifecycle state (spec.md §3.4).
type Status string

const (
	Pending   Status = "pending"
	Approved  Status = "approved"
	Suspended Status = "suspended"
	Revoked   Status = "revoked"
)

// RateLimit bounds a spoke's request rate (spec.md §3.4).
type RateLimit struct {
	RPM   int
	Burst int
}

// Record is a spoke's registry entry (spec.md §3.4).
type Record struct {
	SpokeID                  string
	InstanceCode             string
	Name                     string
	BaseURL                  string
	APIURL                   string
	IdPURL                   string
	Certificate              CertInfo
	ContactEmail             string
	Status                   Status
	TrustLevel               trust.Level
	MaxClassificationAllowed string
	AllowedPolicyScopes      []string
	RateLimit                RateLimit
	AuditRetentionDays       int
	ApprovedBy               string
	ApprovedAt               time.Time
	LastHeartbeat            time.Time
	CreatedAt                time.Time
}

// HeartbeatStats accompanies RecordHeartbeat (spec.md §4.2).
type HeartbeatStats struct {
	LatencyMS          int
	OPALConnected      bool
}

// Token is a minted spoke credential (spec.md §3.5).
type Token struct {
	Token     string
	SpokeID   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Grant carries the fields an approval assigns (spec.md §4.2 ApproveSpoke).
type Grant struct {
	TrustLevel               trust.Level
	MaxClassificationAllowed string
	AllowedPolicyScopes      []string
}

// Events are fired after a state transition commits, outside any lock, so
// handlers may safely trigger bundle rebuilds or publisher refreshes
// (spec.md §4.2, §9 "breaker state recorded outside the I/O" applies
// equally here: never call out while holding the registry's lock).
type Events struct {
	OnApproved  func(ctx context.Context, spokeID string, grant Grant)
	OnSuspended func(ctx context.Context, spokeID string, reason string)
	OnRevoked   func(ctx context.Context, spokeID string, reason string)
}

const (
	defaultRPM             = 60
	defaultBurst           = 10
	defaultRetentionDays   = 90
	defaultTokenTTL        = 24 * time.Hour
	tokenRandomBytes       = 32
)

// Registry is the concurrency-safe spoke registry.
type Registry struct {
	mu sync.Mutex

	records map[string]*Record          // spokeId -> record
	tokens  map[string]*Token           // token -> Token
	limiter map[string]*rate.Limiter    // spokeId -> rate limiter

	trust     *trust.Registry
	events    Events
	tokenTTL  time.Duration
	strictCert bool
	clock     func() time.Time
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithTokenTTL overrides the default 24h token lifetime.
func WithTokenTTL(d time.Duration) Option { return func(r *Registry) { r.tokenTTL = d } }

// WithStrictCertValidation rejects certificates signed with SHA-1 or
// weaker algorithms; without it such certificates are accepted with no
// warning.
func WithStrictCertValidation() Option { return func(r *Registry) { r.strictCert = true } }

// WithClock overrides time.Now, for deterministic tests.
func WithClock(clock func() time.Time) Option { return func(r *Registry) { r.clock = clock } }

// NewRegistry builds an empty spoke Registry backed by trustRegistry for
// edge creation/removal on approval/suspend/revoke.
func NewRegistry(trustRegistry *trust.Registry, events Events, opts ...Option) *Registry {
	r := &Registry{
		records:  map[string]*Record{},
		tokens:   map[string]*Token{},
		limiter:  map[string]*rate.Limiter{},
		trust:    trustRegistry,
		events:   events,
		tokenTTL: defaultTokenTTL,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) now() time.Time { return r.clock() }

// LoadRecords seeds the registry from persisted records at startup,
// without re-running validation or emitting lifecycle events.
func (r *Registry) LoadRecords(records []Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range records {
		rec := records[i]
		r.records[rec.SpokeID] = &rec
	}
}

// RegisterRequest is the input to RegisterSpoke (spec.md §4.2).
type RegisterRequest struct {
	InstanceCode  string
	Name          string
	BaseURL       string
	APIURL        string
	IdPURL        string
	CertificatePEM []byte
	ContactEmail  string
}

// RegisterSpoke validates the certificate, assigns a spokeId, and persists
// a pending record with empty scopes (spec.md §4.2).
func (r *Registry) RegisterSpoke(req RegisterRequest) (*Record, []string, error) {
	code := strings.ToUpper(strings.TrimSpace(req.InstanceCode))
	if len(code) != 3 {
		return nil, nil, errs.New(errs.InvalidInput, "", "instanceCode must be 3 letters, got %q", req.InstanceCode)
	}

	cert, err := ValidateCertificate(req.CertificatePEM, r.strictCert, r.now())
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.InstanceCode == code && rec.Status != Revoked {
			return nil, nil, errs.New(errs.Conflict, "", "instance code %s already held by an active spoke", code)
		}
	}

	id := fmt.Sprintf("spoke-%s-%s", strings.ToLower(code), randomHex(4))
	rec := &Record{
		SpokeID:                  id,
		InstanceCode:             code,
		Name:                     req.Name,
		BaseURL:                  req.BaseURL,
		APIURL:                   req.APIURL,
		IdPURL:                   req.IdPURL,
		Certificate:              cert,
		ContactEmail:             req.ContactEmail,
		Status:                   Pending,
		TrustLevel:               trust.Development,
		MaxClassificationAllowed: "UNCLASSIFIED",
		AllowedPolicyScopes:      nil,
		RateLimit:                RateLimit{RPM: defaultRPM, Burst: defaultBurst},
		AuditRetentionDays:       defaultRetentionDays,
		CreatedAt:                r.now(),
	}
	r.records[id] = rec
	cp := *rec
	return &cp, cert.Warnings, nil
}

// ApproveSpoke transitions a pending spoke to approved, granting trust
// level, classification cap, and scopes; creates the hub->spoke trust
// edge (source "HUB", target the spoke's instance code), and the
// spoke->hub direction is left to the caller's topology (spec.md §4.2).
// Only legal from pending.
func (r *Registry) ApproveSpoke(ctx context.Context, spokeID, approver string, grant Grant) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.records[spokeID]
	if !ok {
		r.mu.Unlock()
		return nil, errs.New(errs.NotFound, "", "unknown spoke %s", spokeID)
	}
	if rec.Status != Pending {
		r.mu.Unlock()
		return nil, errs.New(errs.Conflict, "", "spoke %s is %s, not pending", spokeID, rec.Status)
	}
	rec.Status = Approved
	rec.TrustLevel = grant.TrustLevel
	rec.MaxClassificationAllowed = grant.MaxClassificationAllowed
	rec.AllowedPolicyScopes = append([]string(nil), grant.AllowedPolicyScopes...)
	rec.ApprovedBy = approver
	rec.ApprovedAt = r.now()
	cp := *rec
	r.mu.Unlock()

	if r.trust != nil {
		r.trust.Put(trust.Edge{
			Source:            "HUB",
			Target:            rec.InstanceCode,
			TrustLevel:        grant.TrustLevel,
			MaxClassification: grant.MaxClassificationAllowed,
			AllowedScopes:     grant.AllowedPolicyScopes,
			DataIsolation:     trust.Filtered,
			Enabled:           true,
		})
	}
	if r.events.OnApproved != nil {
		r.events.OnApproved(ctx, spokeID, grant)
	}
	return &cp, nil
}

// SuspendSpoke moves an approved spoke to suspended, invalidating every
// outstanding token atomically (spec.md §4.2).
func (r *Registry) SuspendSpoke(ctx context.Context, spokeID, reason string) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.records[spokeID]
	if !ok {
		r.mu.Unlock()
		return nil, errs.New(errs.NotFound, "", "unknown spoke %s", spokeID)
	}
	if rec.Status != Approved {
		r.mu.Unlock()
		return nil, errs.New(errs.Conflict, "", "spoke %s is %s, not approved", spokeID, rec.Status)
	}
	rec.Status = Suspended
	r.invalidateTokensLocked(spokeID)
	cp := *rec
	r.mu.Unlock()

	if r.trust != nil {
		r.trust.Disable("HUB", rec.InstanceCode)
	}
	if r.events.OnSuspended != nil {
		r.events.OnSuspended(ctx, spokeID, reason)
	}
	return &cp, nil
}

// RevokeSpoke terminally removes a spoke, freeing its instance code for
// re-registration and removing its trust edges (spec.md §4.2).
func (r *Registry) RevokeSpoke(ctx context.Context, spokeID, reason string) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.records[spokeID]
	if !ok {
		r.mu.Unlock()
		return nil, errs.New(errs.NotFound, "", "unknown spoke %s", spokeID)
	}
	if rec.Status == Revoked {
		r.mu.Unlock()
		return nil, errs.New(errs.Conflict, "", "spoke %s already revoked", spokeID)
	}
	rec.Status = Revoked
	r.invalidateTokensLocked(spokeID)
	cp := *rec
	r.mu.Unlock()

	if r.trust != nil {
		r.trust.Remove("HUB", rec.InstanceCode)
	}
	if r.events.OnRevoked != nil {
		r.events.OnRevoked(ctx, spokeID, reason)
	}
	return &cp, nil
}

func (r *Registry) invalidateTokensLocked(spokeID string) {
	for tok, t := range r.tokens {
		if t.SpokeID == spokeID {
			delete(r.tokens, tok)
		}
	}
}

// GenerateSpokeToken mints a token for an approved spoke, scopes frozen
// to its currently allowed scopes (spec.md §3.5, §4.2).
func (r *Registry) GenerateSpokeToken(spokeID string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[spokeID]
	if !ok {
		return nil, errs.New(errs.NotFound, "", "unknown spoke %s", spokeID)
	}
	if rec.Status != Approved {
		return nil, errs.New(errs.Unauthorized, "", "spoke %s is not approved", spokeID)
	}

	raw := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, errs.Wrap(errs.Fatal, "", err, "generating token randomness")
	}
	tok := &Token{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		SpokeID:   spokeID,
		Scopes:    append([]string(nil), rec.AllowedPolicyScopes...),
		IssuedAt:  r.now(),
		ExpiresAt: r.now().Add(r.tokenTTL),
	}
	r.tokens[tok.Token] = tok
	cp := *tok
	return &cp, nil
}

// ValidationResult is the outcome of ValidateToken (spec.md §4.2).
type ValidationResult struct {
	Valid  bool
	Reason string
	Spoke  *Record
	Scopes []string
}

// ValidateToken checks a token for expiry and its spoke's current status.
// Invariant (spec.md §8 #1): valid == (now < expiresAt && spoke approved).
func (r *Registry) ValidateToken(token string) ValidationResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[token]
	if !ok {
		return ValidationResult{Valid: false, Reason: "unknown token"}
	}
	if r.now().After(tok.ExpiresAt) {
		return ValidationResult{Valid: false, Reason: "token expired"}
	}
	rec, ok := r.records[tok.SpokeID]
	if !ok || rec.Status != Approved {
		return ValidationResult{Valid: false, Reason: "spoke not approved"}
	}
	cp := *rec
	return ValidationResult{Valid: true, Spoke: &cp, Scopes: append([]string(nil), tok.Scopes...)}
}

// GetActiveToken returns any non-expired token for a spoke (spec.md §3.5).
func (r *Registry) GetActiveToken(spokeID string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.SpokeID == spokeID && r.now().Before(t.ExpiresAt) {
			cp := *t
			return &cp, true
		}
	}
	return nil, false
}

// RecordHeartbeat updates lastHeartbeat (spec.md §4.2). The stats are not
// stored: Record has no latency or connectivity fields, and this method
// does not pass them to internal/metrics.
func (r *Registry) RecordHeartbeat(spokeID string, stats HeartbeatStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[spokeID]
	if !ok {
		return errs.New(errs.NotFound, "", "unknown spoke %s", spokeID)
	}
	rec.LastHeartbeat = r.now()
	_ = stats // not retained
	return nil
}

// GetUnhealthy returns spokes whose heartbeat is older than maxAge, or
// never set (spec.md §4.2).
func (r *Registry) GetUnhealthy(maxAge time.Duration) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []Record
	for _, rec := range r.records {
		if rec.Status != Approved {
			continue
		}
		if rec.LastHeartbeat.IsZero() || now.Sub(rec.LastHeartbeat) > maxAge {
			out = append(out, *rec)
		}
	}
	return out
}

// Get returns a copy of a spoke record by id.
func (r *Registry) Get(spokeID string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[spokeID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List returns copies of every spoke record, optionally filtered by status.
func (r *Registry) List(status Status) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Limiter returns (creating if necessary) the rate.Limiter for a spoke,
// configured from its registered RateLimit (spec.md §3.4, §5 backpressure).
func (r *Registry) Limiter(spokeID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiter[spokeID]; ok {
		return l
	}
	rpm, burst := defaultRPM, defaultBurst
	if rec, ok := r.records[spokeID]; ok {
		rpm, burst = rec.RateLimit.RPM, rec.RateLimit.Burst
	}
	l := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	r.limiter[spokeID] = l
	return l
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// fall back to a fixed suffix rather than panic during registration.
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(b)
}
