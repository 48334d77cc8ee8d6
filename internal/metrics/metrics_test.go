package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, scansTotal)
	require.NotNil(t, agentRunsTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(agentRunsTotalFor("crawl", "completed"))
	ObserveAgentRun("crawl", "completed", 1500*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(agentRunsTotalFor("crawl", "completed")))

	ObserveAdmission("deduplicated")
	require.GreaterOrEqual(t, testutil.ToFloat64(admissionsTotal.WithLabelValues("deduplicated")), 1.0)

	ObserveScan("light", "preview_ready", 72)
	require.GreaterOrEqual(t, testutil.ToFloat64(scansTotal.WithLabelValues("light", "preview_ready")), 1.0)

	ObserveRankQuery("deadline")
	ObserveRankCache("hit")
	require.GreaterOrEqual(t, testutil.ToFloat64(rankQueriesTotal.WithLabelValues("deadline")), 1.0)
	require.GreaterOrEqual(t, testutil.ToFloat64(rankCacheTotal.WithLabelValues("hit")), 1.0)

	IncActiveScans()
	IncActiveScans()
	DecActiveScans()
	require.GreaterOrEqual(t, testutil.ToFloat64(activeScans), 1.0)
}

func agentRunsTotalFor(agent, status string) prometheus.Counter {
	Init()
	return agentRunsTotal.WithLabelValues(agent, status)
}
