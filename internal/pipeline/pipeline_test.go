package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/analysis/aireadiness"
	"github.com/JakeFAU/site-audit/internal/analysis/competitive"
	"github.com/JakeFAU/site-audit/internal/archive"
	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/clock/system"
	"github.com/JakeFAU/site-audit/internal/executor"
	"github.com/JakeFAU/site-audit/internal/keywords"
	pubmemory "github.com/JakeFAU/site-audit/internal/publisher/memory"
	"github.com/JakeFAU/site-audit/internal/rollup"
	"github.com/JakeFAU/site-audit/internal/storage/memory"
)

const homeHTML = `<!doctype html>
<html lang="en"><head>
<title>Acme Plumbing | Austin Plumbers</title>
<meta name="description" content="Plumbing repairs in Austin.">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Plumber","name":"Acme"}</script>
</head>
<body>
<header><nav>
  <a href="/services/drain-cleaning">Drain Cleaning</a>
  <a href="/services/water-heaters">Water Heater Repair</a>
</nav></header>
<h1>Austin's trusted plumbers</h1>
<section class="services-grid"><h2>Drain Cleaning</h2><h2>Water Heater Repair</h2></section>
</body></html>`

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%03d", s.n.Add(1)), nil
}

type fakeCrawler struct {
	res   audit.CrawlResult
	err   error
	calls atomic.Int32
	opts  audit.CrawlOptions
}

func (f *fakeCrawler) Crawl(_ context.Context, _ string, opts audit.CrawlOptions) (audit.CrawlResult, error) {
	f.calls.Add(1)
	f.opts = opts
	return f.res, f.err
}

type fakePerformance struct {
	res   audit.PerformanceResult
	err   error
	delay time.Duration
	// ctxErr is the context error observed after the delay.
	ctxErr atomic.Value
}

func (f *fakePerformance) Measure(ctx context.Context, _ string) (audit.PerformanceResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.ctxErr.Store(fmt.Sprint(ctx.Err()))
	return f.res, f.err
}

type fakeRanker struct {
	keywords []string
	location string
}

func (f *fakeRanker) CheckAll(_ context.Context, _ string, kws []string, location string, _, _ time.Duration) []audit.RankResult {
	f.keywords = kws
	f.location = location
	out := make([]audit.RankResult, len(kws))
	for i, kw := range kws {
		out[i] = audit.RankResult{Keyword: kw, Checked: true, Competitors: []audit.Competitor{
			{Domain: "rival.com", URL: "https://rival.com/", Position: 1},
		}}
	}
	pos := 4
	out[0].Position = &pos
	return out
}

type harness struct {
	store     *memory.Store
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	crawler   *fakeCrawler
	perf      *fakePerformance
	deps      Deps
	cfg       Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	clock := system.NewFixed(time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC))
	h := &harness{
		store:     store,
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		crawler: &fakeCrawler{res: audit.CrawlResult{
			OK:           true,
			HTML:         homeHTML,
			URL:          "https://acmeplumbing.com/",
			PagesCrawled: 1,
			Summary:      audit.CrawlSummary{Title: "Acme Plumbing | Austin Plumbers", StatusCode: 200},
		}},
		perf: &fakePerformance{res: audit.PerformanceResult{Score: ptr(82.0)}},
	}
	h.deps = Deps{
		Store:       store,
		Executor:    executor.New(store, clock, &seqIDs{}, zap.NewNop()),
		Crawler:     h.crawler,
		Performance: h.perf,
		Competitive: competitive.New(),
		AIReadiness: aireadiness.New(),
		Rollups:     rollup.New(store, clock, time.UTC, nil),
		Archiver:    archive.New(h.blobs, "reports"),
		Publisher:   h.publisher,
		Clock:       clock,
	}
	h.cfg = Config{LightMaxPages: 5, FullMaxPages: 25, MaxKeywords: 6, AIEnabled: true, ArchiveReports: true}
	return h
}

func (h *harness) admit(t *testing.T, scanID string, mode audit.Mode) {
	t.Helper()
	require.NoError(t, h.store.CreateScan(context.Background(), audit.ScanRequest{
		ID:             scanID,
		Domain:         "acmeplumbing.com",
		Mode:           mode,
		IdempotencyKey: "acmeplumbing.com-" + string(mode) + "-2025-06-02",
		Status:         audit.ScanStatusRunning,
	}))
}

func ptr[T any](v T) *T { return &v }

func runsByAgent(t *testing.T, store *memory.Store, scanID string) map[audit.AgentName]audit.AgentRun {
	t.Helper()
	runs, err := store.ListAgentRuns(context.Background(), scanID)
	require.NoError(t, err)
	out := map[audit.AgentName]audit.AgentRun{}
	for _, r := range runs {
		_, dup := out[r.Agent]
		require.False(t, dup, "duplicate row for %s", r.Agent)
		require.True(t, r.Status.Terminal(), "%s left %s", r.Agent, r.Status)
		out[r.Agent] = r
	}
	return out
}

func TestOrchestrateLightScan(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.admit(t, "scan-1", audit.ModeLight)
	p := New(h.deps, h.cfg)

	res, err := p.Orchestrate(context.Background(), "scan-1", "acmeplumbing.com", audit.ModeLight, "Austin, TX")
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusPreviewReady, res.Status)
	require.Equal(t, 5, h.crawler.opts.MaxPages)

	runs := runsByAgent(t, h.store, "scan-1")
	require.Len(t, runs, 3)
	require.Equal(t, audit.AgentStatusCompleted, runs[audit.AgentCrawl].Status)
	require.Equal(t, audit.AgentStatusCompleted, runs[audit.AgentPerformance].Status)
	require.Equal(t, audit.AgentStatusCompleted, runs[audit.AgentAIReadiness].Status)

	scan, err := h.store.GetScan(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusPreviewReady, scan.Status)
	require.NotNil(t, scan.ScoreSummary)
	require.Equal(t, 82, scan.ScoreSummary.Performance)
	require.NotNil(t, scan.ScoreSummary.AIVisibility)
	require.Equal(t, audit.VisibilityFull, scan.ScoreSummary.VisibilityMode)
	require.Equal(t, []string{"drain cleaning", "water heater repair"}, scan.FullReport.Services)
	require.Empty(t, scan.FullReport.Rankings)
	require.Equal(t, 3, scan.FullReport.Agents.Scheduled)
	require.Equal(t, 3, scan.FullReport.Agents.Counts[audit.AgentStatusCompleted])

	require.Equal(t, "memory://reports/acmeplumbing.com/2025-06-02/scan-1.json.gz", scan.ReportURI)
	require.Equal(t, scan.ReportURI, res.ReportURI)
	data, _, ok := h.blobs.Object("reports/acmeplumbing.com/2025-06-02/scan-1.json.gz")
	require.True(t, ok)
	archived, err := archive.Load(data)
	require.NoError(t, err)
	require.Equal(t, "scan-1", archived.ScanID)

	rollup, err := h.store.GetRollup(context.Background(), "acmeplumbing.com")
	require.NoError(t, err)
	require.EqualValues(t, 1, rollup.ScanCount)
	require.Equal(t, scan.ScoreSummary.Overall, rollup.Scores.Overall)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, EventScanCompleted, msgs[0].Topic)
	event := msgs[0].Payload.(audit.ScanCompletedEvent)
	require.Equal(t, audit.ScanStatusPreviewReady, event.Status)
	require.Equal(t, scan.ScoreSummary.Overall, *event.Overall)
}

func TestOrchestrateFullScanCrawlFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.crawler.res = audit.CrawlResult{}
	h.crawler.err = errors.New("homepage fetch failed: 503")
	ranker := &fakeRanker{}
	h.deps.Ranker = ranker
	h.admit(t, "scan-2", audit.ModeFull)

	res, err := New(h.deps, h.cfg).Orchestrate(context.Background(), "scan-2", "acmeplumbing.com", audit.ModeFull, "Austin, TX")
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusPreviewReady, res.Status)
	require.Equal(t, 25, h.crawler.opts.MaxPages)

	runs := runsByAgent(t, h.store, "scan-2")
	require.Len(t, runs, 5)
	require.Equal(t, audit.AgentStatusFailed, runs[audit.AgentCrawl].Status)
	require.Contains(t, runs[audit.AgentCrawl].ErrorMessage, "503")
	require.Equal(t, audit.AgentStatusCompleted, runs[audit.AgentSERPRank].Status)
	require.Equal(t, audit.AgentStatusCompleted, runs[audit.AgentCompetitive].Status)
	require.Equal(t, audit.AgentStatusSkipped, runs[audit.AgentAIReadiness].Status)
	require.Equal(t, "no crawled content is available", runs[audit.AgentAIReadiness].ErrorMessage)

	require.NotEmpty(t, ranker.keywords)
	require.Equal(t, "Austin, TX", ranker.location)

	summary := res.Summary
	require.Equal(t, audit.VisibilityLimited, summary.VisibilityMode)
	require.Contains(t, summary.LimitedVisibilityReason, "503")
	require.Equal(t, keywords.WarningCrawlFailed, res.Report.ServiceDetectionWarning)
	require.NotNil(t, res.Report.Competitive)
	require.Equal(t, "rival.com", res.Report.Competitive.Competitors[0].Domain)
}

func TestOrchestrateSkipsRankWithoutChecker(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.admit(t, "scan-3", audit.ModeFull)

	res, err := New(h.deps, h.cfg).Orchestrate(context.Background(), "scan-3", "acmeplumbing.com", audit.ModeFull, "")
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusPreviewReady, res.Status)

	runs := runsByAgent(t, h.store, "scan-3")
	require.Len(t, runs, 5)
	require.Equal(t, audit.AgentStatusSkipped, runs[audit.AgentSERPRank].Status)
	require.Equal(t, "rank checking is not configured", runs[audit.AgentSERPRank].ErrorMessage)
	require.Equal(t, audit.AgentStatusSkipped, runs[audit.AgentCompetitive].Status)
	require.Equal(t, "no rank results are available", runs[audit.AgentCompetitive].ErrorMessage)
	require.Equal(t, 2, res.Report.Agents.Counts[audit.AgentStatusSkipped])
	require.Contains(t, res.Summary.Fallbacks, "serp")
}

func TestOrchestrateSettlesPhaseAWithoutCancelling(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.crawler.res = audit.CrawlResult{}
	h.crawler.err = errors.New("connection refused")
	h.perf.delay = 20 * time.Millisecond
	h.admit(t, "scan-4", audit.ModeLight)

	res, err := New(h.deps, h.cfg).Orchestrate(context.Background(), "scan-4", "acmeplumbing.com", audit.ModeLight, "")
	require.NoError(t, err)
	require.Equal(t, "<nil>", h.perf.ctxErr.Load())

	runs := runsByAgent(t, h.store, "scan-4")
	require.Equal(t, audit.AgentStatusFailed, runs[audit.AgentCrawl].Status)
	require.Equal(t, audit.AgentStatusCompleted, runs[audit.AgentPerformance].Status)
	require.Equal(t, 82, res.Summary.Performance)
}

func TestOrchestrateAIDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.AIEnabled = false
	h.cfg.ArchiveReports = false
	h.admit(t, "scan-5", audit.ModeLight)

	res, err := New(h.deps, h.cfg).Orchestrate(context.Background(), "scan-5", "acmeplumbing.com", audit.ModeLight, "")
	require.NoError(t, err)
	require.Nil(t, res.Summary.AIVisibility)
	require.Empty(t, res.ReportURI)

	runs := runsByAgent(t, h.store, "scan-5")
	require.Equal(t, "ai readiness analysis is disabled", runs[audit.AgentAIReadiness].ErrorMessage)
}

type failingRunStore struct {
	*memory.Store
}

func (failingRunStore) InsertAgentRun(context.Context, audit.AgentRun) error {
	return errors.New("connection reset")
}

func TestOrchestrateFailsOnStoreWriteError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.AIEnabled = false
	broken := failingRunStore{Store: h.store}
	h.deps.Store = broken
	h.deps.Executor = executor.New(broken, h.deps.Clock, &seqIDs{}, zap.NewNop())
	h.admit(t, "scan-6", audit.ModeLight)

	res, err := New(h.deps, h.cfg).Orchestrate(context.Background(), "scan-6", "acmeplumbing.com", audit.ModeLight, "")
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusFailed, res.Status)
	require.Contains(t, res.Error, "connection reset")

	scan, err := h.store.GetScan(context.Background(), "scan-6")
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusFailed, scan.Status)
	require.NotEmpty(t, scan.ErrorMessage)
	require.Nil(t, scan.ScoreSummary)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, audit.ScanStatusFailed, msgs[0].Payload.(audit.ScanCompletedEvent).Status)
}

func TestOrchestrateReturnsErrorWhenScanRowMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := New(h.deps, h.cfg).Orchestrate(context.Background(), "ghost", "acmeplumbing.com", audit.ModeLight, "")
	require.ErrorIs(t, err, audit.ErrStoreUnavailable)
}

func TestOrchestrateToleratesPublishFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.publisher.FailWith(errors.New("topic not found"))
	h.admit(t, "scan-7", audit.ModeLight)

	res, err := New(h.deps, h.cfg).Orchestrate(context.Background(), "scan-7", "acmeplumbing.com", audit.ModeLight, "")
	require.NoError(t, err)
	require.Equal(t, audit.ScanStatusPreviewReady, res.Status)
}

func TestSummarizeAgentsRequiresTerminalRows(t *testing.T) {
	t.Parallel()

	phases := []Phase{{Name: "crawl", Agent: audit.AgentCrawl}, {Name: "keywords"}}
	_, err := summarizeAgents([]audit.AgentRun{{Agent: audit.AgentCrawl, Status: audit.AgentStatusRunning}}, phases)
	require.ErrorContains(t, err, "crawl has no terminal run")

	sum, err := summarizeAgents([]audit.AgentRun{{Agent: audit.AgentCrawl, Status: audit.AgentStatusFailed, ErrorMessage: "boom"}}, phases)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Scheduled)
	require.Equal(t, 1, sum.Counts[audit.AgentStatusFailed])
	require.Equal(t, "boom", sum.Agents[0].Error)
}
