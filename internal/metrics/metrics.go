// Package metrics implements Metrics & Health Scoring (spec.md §4.9):
// prometheus counters/gauges/histograms plus a rolling 5-minute health
// score per spoke. Grounded on the teacher's prometheus.Registerer
// wiring pattern (constructor takes a Registerer, never the global
// registry, so tests can use their own).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const window = 5 * time.Minute

// Status is the derived overall health status (spec.md §4.9).
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Collectors bundles the hub's prometheus instruments (spec.md §4.9).
type Collectors struct {
	IntrospectionTotal    *prometheus.CounterVec
	ExchangeTotal         *prometheus.CounterVec
	HeartbeatTotal        *prometheus.CounterVec
	FederationSyncTotal   *prometheus.CounterVec
	BreakerState          *prometheus.GaugeVec
	RequestLatency        *prometheus.HistogramVec
}

// NewCollectors registers every instrument against reg (spec.md §4.9
// "Counters (incl. labels), gauges, histograms").
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		IntrospectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_introspection_total",
			Help: "Outbound introspection calls by origin instance and outcome.",
		}, []string{"origin", "outcome"}),
		ExchangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_token_exchange_total",
			Help: "Token exchange attempts by origin, target, and outcome.",
		}, []string{"origin", "target", "outcome"}),
		HeartbeatTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_spoke_heartbeat_total",
			Help: "Spoke heartbeats received by spoke id and outcome.",
		}, []string{"spoke_id", "outcome"}),
		FederationSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_federation_sync_total",
			Help: "Federation sync cycles by peer realm and outcome.",
		}, []string{"peer", "outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hub_circuit_breaker_state",
			Help: "Circuit breaker state per target: 0=closed 1=half-open 2=open.",
		}, []string{"target"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hub_outbound_request_latency_seconds",
			Help:    "Latency of outbound calls by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(c.IntrospectionTotal, c.ExchangeTotal, c.HeartbeatTotal, c.FederationSyncTotal, c.BreakerState, c.RequestLatency)
	return c
}

// sample is one timestamped outcome in the rolling health-score window.
type sample struct {
	at      time.Time
	success bool
}

// spokeHealth accumulates the rolling samples behind one spoke's health
// score (spec.md §4.9).
type spokeHealth struct {
	authSamples         []sample
	heartbeatSamples    []sample
	consecutiveSyncFails int
}

// HealthScorer computes the per-spoke rolling health score (spec.md
// §4.9). Kept separate from Collectors: the score is a derived view over
// recent events, not itself a prometheus instrument, mirroring the
// spec's split between raw counters and the rolling score.
type HealthScorer struct {
	mu     sync.Mutex
	spokes map[string]*spokeHealth
	clock  func() time.Time
}

// Option configures a HealthScorer.
type Option func(*HealthScorer)

// WithClock overrides time.Now, for deterministic rolling-window tests.
func WithClock(c func() time.Time) Option { return func(h *HealthScorer) { h.clock = c } }

// NewHealthScorer builds an empty HealthScorer.
func NewHealthScorer(opts ...Option) *HealthScorer {
	h := &HealthScorer{spokes: map[string]*spokeHealth{}, clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HealthScorer) now() time.Time { return h.clock() }

func (h *HealthScorer) entry(spokeID string) *spokeHealth {
	s, ok := h.spokes[spokeID]
	if !ok {
		s = &spokeHealth{}
		h.spokes[spokeID] = s
	}
	return s
}

// RecordAuthorization records an introspection/exchange outcome for a
// spoke (feeds authorizationHealth).
func (h *HealthScorer) RecordAuthorization(spokeID string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.entry(spokeID)
	s.authSamples = pruneSamples(append(s.authSamples, sample{at: h.now(), success: success}), h.now())
}

// RecordHeartbeat records a heartbeat outcome for a spoke (feeds
// connectivityHealth).
func (h *HealthScorer) RecordHeartbeat(spokeID string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.entry(spokeID)
	s.heartbeatSamples = pruneSamples(append(s.heartbeatSamples, sample{at: h.now(), success: success}), h.now())
}

// RecordSyncOutcome records a federation-sync success/failure for a spoke
// (feeds policySyncHealth via a consecutive-failure counter).
func (h *HealthScorer) RecordSyncOutcome(spokeID string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.entry(spokeID)
	if success {
		s.consecutiveSyncFails = 0
	} else {
		s.consecutiveSyncFails++
	}
}

func pruneSamples(samples []sample, now time.Time) []sample {
	cutoff := now.Add(-window)
	out := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Score is the computed per-component and overall health (spec.md §4.9).
type Score struct {
	AuthorizationHealth float64
	ConnectivityHealth  float64
	PolicySyncHealth    float64
	Overall             float64
	Status              Status
}

// Score computes the current rolling health score for a spoke (spec.md
// §4.9 formulas).
func (h *HealthScorer) Score(spokeID string) Score {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.spokes[spokeID]
	if !ok {
		return Score{AuthorizationHealth: 100, ConnectivityHealth: 100, PolicySyncHealth: 100, Overall: 100, Status: Healthy}
	}

	s.authSamples = pruneSamples(s.authSamples, h.now())
	s.heartbeatSamples = pruneSamples(s.heartbeatSamples, h.now())

	authHealth := ratioPercent(s.authSamples)
	connHealth := ratioPercent(s.heartbeatSamples)

	policyHealth := 100.0 - 20.0*float64(s.consecutiveSyncFails)
	if policyHealth < 0 {
		policyHealth = 0
	}

	overall := authHealth
	if connHealth < overall {
		overall = connHealth
	}
	if policyHealth < overall {
		overall = policyHealth
	}

	status := Unhealthy
	switch {
	case overall >= 90:
		status = Healthy
	case overall >= 60:
		status = Degraded
	}

	return Score{
		AuthorizationHealth: authHealth,
		ConnectivityHealth:  connHealth,
		PolicySyncHealth:    policyHealth,
		Overall:             overall,
		Status:              status,
	}
}

func ratioPercent(samples []sample) float64 {
	if len(samples) == 0 {
		return 100
	}
	var successes int
	for _, s := range samples {
		if s.success {
			successes++
		}
	}
	return 100 * float64(successes) / float64(len(samples))
}
