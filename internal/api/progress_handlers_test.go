package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/storage/memory"
)

const testScanID = "0190b6a4-8d3e-7c1a-9f1e-2b3c4d5e6f70"

type brokenReader struct{}

func (brokenReader) GetScan(context.Context, string) (audit.ScanRequest, error) {
	return audit.ScanRequest{}, errors.New("connection refused")
}

func (brokenReader) ListAgentRuns(context.Context, string) ([]audit.AgentRun, error) {
	return nil, errors.New("connection refused")
}

func (brokenReader) GetRollup(context.Context, string) (audit.Rollup, error) {
	return audit.Rollup{}, errors.New("connection refused")
}

func progressRouter(reader ScanReader) http.Handler {
	h := NewProgressHandler(reader, nil)
	r := chi.NewRouter()
	r.Get("/v1/scans/{scan_id}", h.GetScan)
	r.Get("/v1/scans/{scan_id}/agents", h.ListAgentRuns)
	r.Get("/v1/rollups/{domain}", h.GetRollup)
	return r
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateScan(ctx, audit.ScanRequest{
		ID: testScanID, Domain: "example.com", Mode: audit.ModeLight,
		IdempotencyKey: "example.com-light-2025-06-02", Status: audit.ScanStatusRunning, CreatedAt: now,
	}))
	require.NoError(t, store.InsertAgentRun(ctx, audit.AgentRun{
		ID: "run-1", ScanID: testScanID, Agent: audit.AgentCrawl, Mode: audit.ModeLight,
		Status: audit.AgentStatusCompleted, CompletedAt: &now,
	}))
	for i := range 3 {
		day := now.AddDate(0, 0, i)
		require.NoError(t, store.MergeRollup(ctx, audit.RollupDelta{
			Domain: "example.com", ScanID: "s" + day.Format("0102"), Mode: audit.ModeLight,
			Scores:    audit.CategoryScores{Overall: 60 + i},
			Point:     audit.TrendPoint{Date: day.Format(time.DateOnly), Score: 60 + i},
			ScannedAt: day,
		}))
	}
	return store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetScan(t *testing.T) {
	t.Parallel()

	h := progressRouter(seededStore(t))
	rec := get(t, h, "/v1/scans/"+testScanID)
	require.Equal(t, http.StatusOK, rec.Code)

	var scan audit.ScanRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scan))
	require.Equal(t, "example.com", scan.Domain)
	require.Equal(t, audit.ScanStatusRunning, scan.Status)

	require.Equal(t, http.StatusBadRequest, get(t, h, "/v1/scans/not-a-uuid").Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/v1/scans/0190b6a4-8d3e-7c1a-9f1e-000000000000").Code)
}

func TestListAgentRuns(t *testing.T) {
	t.Parallel()

	h := progressRouter(seededStore(t))
	rec := get(t, h, "/v1/scans/"+testScanID+"/agents")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ScanID    string           `json:"scan_id"`
		AgentRuns []audit.AgentRun `json:"agent_runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, testScanID, body.ScanID)
	require.Len(t, body.AgentRuns, 1)
	require.Equal(t, audit.AgentCrawl, body.AgentRuns[0].Agent)

	require.Equal(t, http.StatusNotFound, get(t, h, "/v1/scans/0190b6a4-8d3e-7c1a-9f1e-000000000000/agents").Code)
}

func TestGetRollupTrimsTrend(t *testing.T) {
	t.Parallel()

	h := progressRouter(seededStore(t))
	rec := get(t, h, "/v1/rollups/www.Example.com?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var rollup audit.Rollup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rollup))
	require.EqualValues(t, 3, rollup.ScanCount)
	require.Len(t, rollup.ScoreTrend, 2)
	require.Equal(t, 62, rollup.ScoreTrend[1].Score)

	require.Equal(t, http.StatusBadRequest, get(t, h, "/v1/rollups/example.com?limit=0").Code)
	require.Equal(t, http.StatusBadRequest, get(t, h, "/v1/rollups/localhost").Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/v1/rollups/unknown.org").Code)
}

func TestProgressStoreFailures(t *testing.T) {
	t.Parallel()

	h := progressRouter(brokenReader{})
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/v1/scans/"+testScanID).Code)
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/v1/rollups/example.com").Code)

	nilReader := progressRouter(nil)
	require.Equal(t, http.StatusServiceUnavailable, get(t, nilReader, "/v1/scans/"+testScanID).Code)
}
