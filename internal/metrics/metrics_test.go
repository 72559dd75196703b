package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewCollectors_RegistersEveryInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.IntrospectionTotal.WithLabelValues("GBR", "allowed").Inc()
	c.ExchangeTotal.WithLabelValues("GBR", "USA", "allowed").Inc()
	c.HeartbeatTotal.WithLabelValues("spoke-1", "ok").Inc()
	c.FederationSyncTotal.WithLabelValues("GBR", "ok").Inc()
	c.BreakerState.WithLabelValues("spoke-1").Set(1)
	c.RequestLatency.WithLabelValues("introspect").Observe(0.05)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 6)
}

func TestHealthScorer_NoSamplesIsFullyHealthy(t *testing.T) {
	h := NewHealthScorer()
	score := h.Score("unknown-spoke")
	require.Equal(t, 100.0, score.Overall)
	require.Equal(t, Healthy, score.Status)
}

func TestHealthScorer_AuthorizationFailuresDegradeScore(t *testing.T) {
	h := NewHealthScorer()
	for i := 0; i < 8; i++ {
		h.RecordAuthorization("spoke-1", true)
	}
	h.RecordAuthorization("spoke-1", false)
	h.RecordAuthorization("spoke-1", false)

	score := h.Score("spoke-1")
	require.InDelta(t, 80.0, score.AuthorizationHealth, 0.01)
	require.Equal(t, Degraded, score.Status)
}

func TestHealthScorer_SamplesOutsideWindowAreExcluded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := now
	h := NewHealthScorer(WithClock(func() time.Time { return cur }))

	h.RecordAuthorization("spoke-1", false)
	cur = now.Add(6 * time.Minute)
	h.RecordAuthorization("spoke-1", true)

	score := h.Score("spoke-1")
	require.Equal(t, 100.0, score.AuthorizationHealth, "the failure outside the 5-minute window must no longer count")
}

func TestHealthScorer_ConsecutiveSyncFailuresCapPolicyHealthAtZero(t *testing.T) {
	h := NewHealthScorer()
	for i := 0; i < 10; i++ {
		h.RecordSyncOutcome("spoke-1", false)
	}
	score := h.Score("spoke-1")
	require.Equal(t, 0.0, score.PolicySyncHealth)
	require.Equal(t, Unhealthy, score.Status)
}

func TestHealthScorer_SyncSuccessResetsConsecutiveFailures(t *testing.T) {
	h := NewHealthScorer()
	h.RecordSyncOutcome("spoke-1", false)
	h.RecordSyncOutcome("spoke-1", false)
	h.RecordSyncOutcome("spoke-1", true)

	score := h.Score("spoke-1")
	require.Equal(t, 100.0, score.PolicySyncHealth)
}

func TestHealthScorer_OverallIsMinimumOfComponents(t *testing.T) {
	h := NewHealthScorer()
	for i := 0; i < 10; i++ {
		h.RecordAuthorization("spoke-1", true)
		h.RecordHeartbeat("spoke-1", true)
	}
	h.RecordSyncOutcome("spoke-1", false)
	h.RecordSyncOutcome("spoke-1", false)

	score := h.Score("spoke-1")
	require.Equal(t, score.PolicySyncHealth, score.Overall, "policy sync is the worst component here and must drive overall")
	require.Equal(t, 100.0, score.AuthorizationHealth)
	require.Equal(t, 100.0, score.ConnectivityHealth)
}
