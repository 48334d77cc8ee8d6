package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
)

func TestStoreScanLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	scan := audit.ScanRequest{
		ID:             "scan-1",
		Domain:         "example.com",
		Mode:           audit.ModeLight,
		IdempotencyKey: "example.com-light-2025-05-01",
		Status:         audit.ScanStatusRunning,
		CreatedAt:      now,
	}
	require.NoError(t, store.CreateScan(ctx, scan))
	require.Error(t, store.CreateScan(ctx, scan))

	found, err := store.FindActiveScan(ctx, scan.IdempotencyKey, audit.ActiveScanStatuses)
	require.NoError(t, err)
	require.Equal(t, "scan-1", found.ID)

	_, err = store.FindActiveScan(ctx, scan.IdempotencyKey, []audit.ScanStatus{audit.ScanStatusFailed})
	require.True(t, errors.Is(err, audit.ErrNotFound))

	summary := &audit.ScoreSummary{Overall: 71}
	require.NoError(t, store.CompleteScan(ctx, scan.ID, audit.ScanResult{
		Status:       audit.ScanStatusPreviewReady,
		ScoreSummary: summary,
		CompletedAt:  now.Add(time.Minute),
	}))
	require.NoError(t, store.SetReportURI(ctx, scan.ID, "memory://reports/scan-1.json.gz"))

	got, err := store.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusPreviewReady, got.Status)
	require.Equal(t, 71, got.ScoreSummary.Overall)
	require.Equal(t, "memory://reports/scan-1.json.gz", got.ReportURI)
	require.NotNil(t, got.CompletedAt)

	require.True(t, errors.Is(store.CompleteScan(ctx, "missing", audit.ScanResult{}), audit.ErrNotFound))
}

func TestStoreAgentRunTerminalRowsAreImmutable(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.InsertAgentRun(ctx, audit.AgentRun{
		ID: "run-1", ScanID: "scan-1", Agent: audit.AgentCrawl, Status: audit.AgentStatusPending,
	}))
	require.NoError(t, store.StartAgentRun(ctx, "run-1", now))
	require.NoError(t, store.CompleteAgentRun(ctx, "run-1", audit.AgentCompletion{
		Status: audit.AgentStatusCompleted, CompletedAt: now, DurationMs: 12,
	}))
	require.NoError(t, store.CompleteAgentRun(ctx, "run-1", audit.AgentCompletion{
		Status: audit.AgentStatusFailed, CompletedAt: now, ErrorMessage: "late",
	}))
	require.NoError(t, store.InsertAgentRun(ctx, audit.AgentRun{
		ID: "run-2", ScanID: "scan-1", Agent: audit.AgentSERPRank, Status: audit.AgentStatusSkipped,
	}))

	runs, err := store.ListAgentRuns(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, audit.AgentStatusCompleted, runs[0].Status)
	require.Empty(t, runs[0].ErrorMessage)
	require.Equal(t, audit.AgentStatusSkipped, runs[1].Status)
}

func TestStoreStartAgentRunOnlyLeavesPending(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertAgentRun(ctx, audit.AgentRun{
		ID: "run-1", ScanID: "scan-1", Agent: audit.AgentCrawl, Status: audit.AgentStatusPending,
	}))
	require.NoError(t, store.StartAgentRun(ctx, "run-1", start))

	runs, err := store.ListAgentRuns(ctx, "scan-1")
	require.NoError(t, err)
	require.Equal(t, audit.AgentStatusRunning, runs[0].Status)
	require.True(t, runs[0].StartedAt.Equal(start))

	// A second start must not restamp the row.
	require.NoError(t, store.StartAgentRun(ctx, "run-1", start.Add(time.Hour)))
	runs, err = store.ListAgentRuns(ctx, "scan-1")
	require.NoError(t, err)
	require.True(t, runs[0].StartedAt.Equal(start))

	require.ErrorIs(t, store.StartAgentRun(ctx, "ghost", start), audit.ErrNotFound)
}

func TestStoreMergeRollupConcurrent(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Hour)
			require.NoError(t, store.MergeRollup(ctx, audit.RollupDelta{
				Domain:    "example.com",
				ScanID:    "scan-" + at.Format("15"),
				Mode:      audit.ModeFull,
				Scores:    audit.CategoryScores{Overall: i},
				Point:     audit.TrendPoint{Date: "2025-05-01", Score: i},
				ScannedAt: at,
			}))
		}(i)
	}
	wg.Wait()

	r, err := store.GetRollup(ctx, "example.com")
	require.NoError(t, err)
	require.EqualValues(t, n, r.ScanCount)
	require.Len(t, r.ScoreTrend, n)
	require.Equal(t, n-1, r.Scores.Overall)
	require.Equal(t, base, r.FirstScanAt)
	require.Equal(t, base.Add((n-1)*time.Hour), r.LatestScanAt)

	_, err = store.GetRollup(ctx, "other.com")
	require.True(t, errors.Is(err, audit.ErrNotFound))
}
