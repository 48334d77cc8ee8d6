// Package pipeline drives one admitted scan through its phase graph, scores
// whatever the phases produced and records the terminal scan row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/archive"
	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/executor"
	"github.com/JakeFAU/site-audit/internal/keywords"
	"github.com/JakeFAU/site-audit/internal/logging"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/rollup"
	"github.com/JakeFAU/site-audit/internal/scoring"
)

// EventScanCompleted is the event attribute of terminal scan notifications.
const EventScanCompleted = "scan.completed"

// RankChecker checks where a domain ranks for keywords.
type RankChecker interface {
	CheckAll(ctx context.Context, domain string, keywords []string, location string, deadline, delay time.Duration) []audit.RankResult
}

// Config holds the knobs the phases consume.
type Config struct {
	LightMaxPages  int
	FullMaxPages   int
	MaxKeywords    int
	RankDeadline   time.Duration
	RankDelay      time.Duration
	AIEnabled      bool
	ArchiveReports bool
}

// Deps are the collaborators a Pipeline drives. Ranker, Competitive,
// AIReadiness, Rollups, Archiver and Publisher may be nil; the corresponding
// phase or step is then skipped.
type Deps struct {
	Store       audit.Store
	Executor    *executor.Executor
	Crawler     audit.CrawlFetcher
	Performance audit.PerformanceFetcher
	Ranker      RankChecker
	Competitive audit.CompetitiveAnalyzer
	AIReadiness audit.AIReadinessAnalyzer
	Rollups     *rollup.Updater
	Archiver    *archive.Archiver
	Publisher   audit.Publisher
	Clock       audit.Clock
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Result is what one orchestration produced.
type Result struct {
	ScanID    string              `json:"scan_id"`
	Status    audit.ScanStatus    `json:"status"`
	Summary   *audit.ScoreSummary `json:"score_summary,omitempty"`
	Findings  []audit.Finding     `json:"findings,omitempty"`
	Report    *audit.Report       `json:"full_report,omitempty"`
	ReportURI string              `json:"report_uri,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Pipeline orchestrates scans.
type Pipeline struct {
	deps      Deps
	cfg       Config
	scheduler *Scheduler
	logger    *zap.Logger
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	logger := deps.Logger.Named("pipeline")
	return &Pipeline{
		deps:      deps,
		cfg:       cfg,
		scheduler: NewScheduler(deps.Executor, deps.Tracer, logger),
		logger:    logger,
	}
}

// Orchestrate runs every phase scheduled for mode, aggregates the outputs and
// moves the scan to preview_ready, or to failed when the pipeline itself
// broke. The returned error is non-nil only when the terminal scan row could
// not be written.
func (p *Pipeline) Orchestrate(ctx context.Context, scanID, domain string, mode audit.Mode, locationHint string) (Result, error) {
	metrics.IncActiveScans()
	defer metrics.DecActiveScans()

	ctx, span := p.deps.Tracer.Start(ctx, "scan.orchestrate", trace.WithAttributes(
		attribute.String("scan.id", scanID),
		attribute.String("scan.domain", domain),
		attribute.String("scan.mode", string(mode)),
	))
	defer span.End()
	logger := logging.ForScan(p.logger, scanID, domain, string(mode))
	started := p.deps.Clock.Now()
	logger.Info("scan started")

	st := NewState(scanID, domain, mode, locationHint)
	if err := p.scheduler.Execute(ctx, p.Phases(), st); err != nil {
		span.RecordError(err)
		return p.fail(ctx, st, logger, fmt.Errorf("run phases: %w", err))
	}

	in := st.inputs()
	in.GeneratedAt = p.deps.Clock.Now().UTC()
	agg, err := safeAggregate(in)
	if err != nil {
		span.RecordError(err)
		return p.fail(ctx, st, logger, err)
	}

	runs, err := p.deps.Store.ListAgentRuns(ctx, scanID)
	if err != nil {
		return p.fail(ctx, st, logger, fmt.Errorf("%w: list agent runs: %v", audit.ErrStoreUnavailable, err))
	}
	agents, err := summarizeAgents(runs, Scheduled(p.Phases(), mode))
	if err != nil {
		return p.fail(ctx, st, logger, err)
	}
	agg.Report.Agents = &agents

	completedAt := p.deps.Clock.Now().UTC()
	summary := agg.Summary
	report := agg.Report
	if err := p.deps.Store.CompleteScan(context.WithoutCancel(ctx), scanID, audit.ScanResult{
		Status:       audit.ScanStatusPreviewReady,
		Findings:     agg.Findings,
		ScoreSummary: &summary,
		FullReport:   &report,
		CompletedAt:  completedAt,
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Error("complete scan failed", zap.Error(err))
		return Result{ScanID: scanID, Status: audit.ScanStatusRunning}, fmt.Errorf("%w: complete scan: %v", audit.ErrStoreUnavailable, err)
	}

	res := Result{
		ScanID:   scanID,
		Status:   audit.ScanStatusPreviewReady,
		Summary:  &summary,
		Findings: agg.Findings,
		Report:   &report,
	}

	// Rollups, archives and events are best effort once the scan is terminal.
	post := context.WithoutCancel(ctx)
	if p.deps.Rollups != nil {
		p.deps.Rollups.Merge(post, domain, scanID, mode, summary.Categories())
	}
	res.ReportURI = p.archive(post, report, logger)
	p.publish(post, audit.ScanCompletedEvent{
		ScanID:       scanID,
		Domain:       domain,
		Mode:         mode,
		Status:       res.Status,
		Overall:      &summary.Overall,
		FindingCount: summary.FindingCount,
		ReportURI:    res.ReportURI,
		CompletedAt:  completedAt,
	}, logger)

	metrics.ObserveScan(string(mode), string(res.Status), summary.Overall)
	span.SetAttributes(attribute.Int("scan.overall", summary.Overall))
	logger.Info("scan completed",
		zap.Int("overall", summary.Overall),
		zap.Int("findings", summary.FindingCount),
		zap.String("visibility", string(summary.VisibilityMode)),
		zap.Duration("duration", completedAt.Sub(started)),
	)
	return res, nil
}

// Phases is the full phase table; modes decide which of them a scan runs.
func (p *Pipeline) Phases() []Phase {
	both := []audit.Mode{audit.ModeLight, audit.ModeFull}
	full := []audit.Mode{audit.ModeFull}
	return []Phase{
		{
			Name:  "crawl",
			Agent: audit.AgentCrawl,
			Modes: both,
			Run: agentPhase(p.deps.Executor, audit.AgentCrawl, p.crawl,
				func(st *State, v audit.CrawlResult) { st.setCrawl(v) }),
		},
		{
			Name:  "performance",
			Agent: audit.AgentPerformance,
			Modes: both,
			Run: agentPhase(p.deps.Executor, audit.AgentPerformance,
				func(ctx context.Context, st *State) (audit.PerformanceResult, error) {
					return p.deps.Performance.Measure(ctx, st.Domain)
				},
				func(st *State, v audit.PerformanceResult) { st.setPerformance(v) }),
		},
		{
			Name:      "keywords",
			DependsOn: []string{"crawl", "performance"},
			Modes:     both,
			Run:       p.deriveKeywords,
		},
		{
			Name:      "serp_rank",
			Agent:     audit.AgentSERPRank,
			DependsOn: []string{"keywords"},
			Modes:     full,
			RunIf: func(st *State) (bool, string) {
				if p.deps.Ranker == nil {
					return false, "rank checking is not configured"
				}
				if kw := st.Keywords(); kw == nil || len(kw.Keywords) == 0 {
					return false, "no keywords were derived"
				}
				return true, ""
			},
			Run: agentPhase(p.deps.Executor, audit.AgentSERPRank,
				func(ctx context.Context, st *State) (audit.RankResults, error) {
					return p.deps.Ranker.CheckAll(ctx, st.Domain, st.Keywords().Keywords, st.LocationHint,
						p.cfg.RankDeadline, p.cfg.RankDelay), nil
				},
				func(st *State, v audit.RankResults) { st.setRankings(v) }),
		},
		{
			Name:      "competitive",
			Agent:     audit.AgentCompetitive,
			DependsOn: []string{"serp_rank"},
			Modes:     full,
			RunIf: func(st *State) (bool, string) {
				if p.deps.Competitive == nil {
					return false, "competitive analysis is not configured"
				}
				for _, r := range st.Rankings() {
					if r.Checked {
						return true, ""
					}
				}
				return false, "no rank results are available"
			},
			Run: agentPhase(p.deps.Executor, audit.AgentCompetitive,
				func(ctx context.Context, st *State) (audit.CompetitiveResult, error) {
					return p.deps.Competitive.Analyze(ctx, st.Domain, st.Rankings())
				},
				func(st *State, v audit.CompetitiveResult) { st.setCompetitive(v) }),
		},
		{
			Name:      "ai_readiness",
			Agent:     audit.AgentAIReadiness,
			DependsOn: []string{"crawl", "performance"},
			Modes:     both,
			RunIf: func(st *State) (bool, string) {
				if !p.cfg.AIEnabled || p.deps.AIReadiness == nil {
					return false, "ai readiness analysis is disabled"
				}
				if c := st.Crawl(); c == nil || c.HTML == "" {
					return false, "no crawled content is available"
				}
				return true, ""
			},
			Run: agentPhase(p.deps.Executor, audit.AgentAIReadiness,
				func(ctx context.Context, st *State) (audit.AIReadinessResult, error) {
					c := st.Crawl()
					return p.deps.AIReadiness.Analyze(ctx, c.HTML, c.URL)
				},
				func(st *State, v audit.AIReadinessResult) { st.setAIReadiness(v) }),
		},
	}
}

func (p *Pipeline) crawl(ctx context.Context, st *State) (audit.CrawlResult, error) {
	maxPages := p.cfg.LightMaxPages
	if st.Mode == audit.ModeFull {
		maxPages = p.cfg.FullMaxPages
	}
	res, err := p.deps.Crawler.Crawl(ctx, st.Domain, audit.CrawlOptions{MaxPages: maxPages, LocationHint: st.LocationHint})
	if err != nil {
		return audit.CrawlResult{}, err
	}
	if !res.OK {
		return audit.CrawlResult{}, errors.New("crawl returned no content")
	}
	return res, nil
}

func (p *Pipeline) deriveKeywords(_ context.Context, st *State) error {
	in := keywords.Input{
		Domain:       st.Domain,
		LocationHint: st.LocationHint,
		MaxKeywords:  p.cfg.MaxKeywords,
	}
	if c := st.Crawl(); c != nil {
		in.CrawlOK = c.OK
		in.HTML = c.HTML
		in.Title = c.Summary.Title
		in.Description = c.Summary.Description
	}
	res := keywords.Derive(in)
	st.setKeywords(res)
	p.logger.Debug("keywords derived",
		zap.String("scan_id", st.ScanID),
		zap.Int("services", len(res.Services)),
		zap.Int("keywords", len(res.Keywords)),
		zap.Bool("fallback", res.Fallback),
	)
	return nil
}

func (p *Pipeline) archive(ctx context.Context, report audit.Report, logger *zap.Logger) string {
	if !p.cfg.ArchiveReports || p.deps.Archiver == nil {
		return ""
	}
	uri, err := p.deps.Archiver.Store(ctx, report)
	if err != nil {
		logger.Warn("report archive failed", zap.Error(err))
		return ""
	}
	if err := p.deps.Store.SetReportURI(ctx, report.ScanID, uri); err != nil {
		logger.Warn("report uri update failed", zap.String("uri", uri), zap.Error(err))
	}
	return uri
}

func (p *Pipeline) publish(ctx context.Context, event audit.ScanCompletedEvent, logger *zap.Logger) {
	if p.deps.Publisher == nil {
		return
	}
	if _, err := p.deps.Publisher.Publish(ctx, EventScanCompleted, event); err != nil {
		logger.Warn("scan event publish failed", zap.Error(err))
	}
}

// fail marks the scan failed with cause.
func (p *Pipeline) fail(ctx context.Context, st *State, logger *zap.Logger, cause error) (Result, error) {
	msg := audit.TruncateRunes(cause.Error(), audit.MaxErrorRunes)
	logger.Error("scan failed", zap.Error(cause))
	completedAt := p.deps.Clock.Now().UTC()
	ctx = context.WithoutCancel(ctx)
	if err := p.deps.Store.CompleteScan(ctx, st.ScanID, audit.ScanResult{
		Status:       audit.ScanStatusFailed,
		ErrorMessage: msg,
		CompletedAt:  completedAt,
	}); err != nil {
		logger.Error("mark scan failed", zap.Error(err))
		return Result{ScanID: st.ScanID, Status: audit.ScanStatusRunning, Error: msg},
			fmt.Errorf("%w: mark scan failed: %v", audit.ErrStoreUnavailable, err)
	}
	metrics.ObserveScan(string(st.Mode), string(audit.ScanStatusFailed), 0)
	p.publish(ctx, audit.ScanCompletedEvent{
		ScanID:       st.ScanID,
		Domain:       st.Domain,
		Mode:         st.Mode,
		Status:       audit.ScanStatusFailed,
		ErrorMessage: msg,
		CompletedAt:  completedAt,
	}, logger)
	return Result{ScanID: st.ScanID, Status: audit.ScanStatusFailed, Error: msg}, nil
}

func safeAggregate(in scoring.Inputs) (res scoring.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("aggregate panicked: %v", r)
		}
	}()
	return scoring.Aggregate(in)
}
