package audit

import (
	"context"
	"io"
	"time"
)

// ScanStore persists ScanRequest rows.
type ScanStore interface {
	CreateScan(ctx context.Context, scan ScanRequest) error
	FindActiveScan(ctx context.Context, idempotencyKey string, statuses []ScanStatus) (ScanRequest, error)
	CompleteScan(ctx context.Context, scanID string, result ScanResult) error
	SetReportURI(ctx context.Context, scanID, uri string) error
	GetScan(ctx context.Context, scanID string) (ScanRequest, error)
}

// AgentRunStore persists AgentRun rows. StartAgentRun only moves a pending
// row to running; CompleteAgentRun must refuse to touch a row that already
// carries a terminal status.
type AgentRunStore interface {
	StartAgentRun(ctx context.Context, runID string, startedAt time.Time) error
	CompleteAgentRun(ctx context.Context, runID string, completion AgentCompletion) error
	InsertAgentRun(ctx context.Context, run AgentRun) error
	ListAgentRuns(ctx context.Context, scanID string) ([]AgentRun, error)
}

// RollupStore applies commutative merges to per-domain rollups.
type RollupStore interface {
	MergeRollup(ctx context.Context, delta RollupDelta) error
	GetRollup(ctx context.Context, domain string) (Rollup, error)
}

// Store bundles every table the pipeline touches.
type Store interface {
	ScanStore
	AgentRunStore
	RollupStore
}

// CrawlFetcher crawls a domain and reports page content and issues.
type CrawlFetcher interface {
	Crawl(ctx context.Context, domain string, opts CrawlOptions) (CrawlResult, error)
}

// PerformanceFetcher measures page performance for a domain.
type PerformanceFetcher interface {
	Measure(ctx context.Context, domain string) (PerformanceResult, error)
}

// RankQueryService runs one search query.
type RankQueryService interface {
	Query(ctx context.Context, keyword, location string) (SERPResponse, error)
}

// CompetitiveAnalyzer derives competitor insights from rank results.
type CompetitiveAnalyzer interface {
	Analyze(ctx context.Context, domain string, results []RankResult) (CompetitiveResult, error)
}

// AIReadinessAnalyzer scores how well a page is prepared for AI answers.
type AIReadinessAnalyzer interface {
	Analyze(ctx context.Context, html, pageURL string) (AIReadinessResult, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
