// Package audit defines the scan, agent run, rollup and finding types shared
// across the scan pipeline, plus the narrow interfaces the pipeline depends on.
package audit

import (
	"errors"
	"time"
)

// Sentinel errors shared by stores and the API layer.
var (
	ErrNotFound         = errors.New("record not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidDomain    = errors.New("invalid domain")
)

// Mode selects which agents a scan schedules.
type Mode string

// Supported scan modes.
const (
	ModeLight Mode = "light"
	ModeFull  Mode = "full"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeLight || m == ModeFull
}

// ScanStatus represents the lifecycle state of a ScanRequest.
type ScanStatus string

// Scan status values persisted in the scan store.
const (
	ScanStatusQueued       ScanStatus = "queued"
	ScanStatusRunning      ScanStatus = "running"
	ScanStatusPreviewReady ScanStatus = "preview_ready"
	ScanStatusFailed       ScanStatus = "failed"
	// ScanStatusCompleted is never written by the pipeline. Rows carrying it
	// still count as active during deduplication.
	ScanStatusCompleted ScanStatus = "completed"
)

// ActiveScanStatuses are the statuses that block a new non-forced admission.
var ActiveScanStatuses = []ScanStatus{ScanStatusRunning, ScanStatusPreviewReady, ScanStatusCompleted}

// Terminal reports whether no further transition happens from s.
func (s ScanStatus) Terminal() bool {
	return s == ScanStatusPreviewReady || s == ScanStatusFailed || s == ScanStatusCompleted
}

// ScanRequest is one admitted scan attempt.
type ScanRequest struct {
	ID             string        `json:"scan_id"`
	Domain         string        `json:"domain"`
	Mode           Mode          `json:"mode"`
	IdempotencyKey string        `json:"idempotency_key"`
	LocationHint   string        `json:"location_hint,omitempty"`
	Status         ScanStatus    `json:"status"`
	Findings       []Finding     `json:"findings,omitempty"`
	ScoreSummary   *ScoreSummary `json:"score_summary,omitempty"`
	FullReport     *Report       `json:"full_report,omitempty"`
	ReportURI      string        `json:"report_uri,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// ScanResult is the terminal payload written onto a ScanRequest.
type ScanResult struct {
	Status       ScanStatus
	Findings     []Finding
	ScoreSummary *ScoreSummary
	FullReport   *Report
	ErrorMessage string
	CompletedAt  time.Time
}

// AgentName identifies one data-gathering unit of the pipeline.
type AgentName string

// Agents known to the pipeline.
const (
	AgentCrawl       AgentName = "crawl"
	AgentPerformance AgentName = "performance"
	AgentSERPRank    AgentName = "serp_rank"
	AgentCompetitive AgentName = "competitive"
	AgentAIReadiness AgentName = "ai_readiness"
)

// AgentStatus is the lifecycle state of one AgentRun row.
type AgentStatus string

// Agent run statuses.
const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusSkipped   AgentStatus = "skipped"
)

// Terminal reports whether s is completed, failed or skipped.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed || s == AgentStatusSkipped
}

// AgentRun records one execution attempt of an agent for a scan.
type AgentRun struct {
	ID            string         `json:"id"`
	ScanID        string         `json:"scan_id"`
	Agent         AgentName      `json:"agent"`
	Mode          Mode           `json:"mode"`
	Status        AgentStatus    `json:"status"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	ResultSummary map[string]any `json:"result_summary,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// AgentCompletion carries the terminal fields for an AgentRun.
type AgentCompletion struct {
	Status        AgentStatus
	CompletedAt   time.Time
	DurationMs    int64
	ResultSummary map[string]any
	ErrorMessage  string
}

// CategoryScores holds the per-category scores stored on a rollup.
type CategoryScores struct {
	Overall     int `json:"overall"`
	Technical   int `json:"technical"`
	Performance int `json:"performance"`
	Content     int `json:"content"`
	SERP        int `json:"serp"`
	Authority   int `json:"authority"`
}

// TrendPoint is one entry in a rollup's score history.
type TrendPoint struct {
	Date   string `json:"date"`
	Score  int    `json:"score"`
	ScanID string `json:"scan_id"`
	Mode   Mode   `json:"mode"`
}

// Rollup is the per-domain running history of scan scores.
type Rollup struct {
	Domain       string         `json:"domain"`
	LatestScanID string         `json:"latest_scan_id"`
	ScanMode     Mode           `json:"scan_mode"`
	Scores       CategoryScores `json:"scores"`
	ScanCount    int64          `json:"scan_count"`
	ScoreTrend   []TrendPoint   `json:"score_trend"`
	FirstScanAt  time.Time      `json:"first_scan_at"`
	LatestScanAt time.Time      `json:"latest_scan_at"`
}

// RollupDelta is the commutative update a completed scan applies to a rollup.
type RollupDelta struct {
	Domain    string
	ScanID    string
	Mode      Mode
	Scores    CategoryScores
	Point     TrendPoint
	ScannedAt time.Time
}

// MaxErrorRunes bounds error text persisted on scans and agent runs.
const MaxErrorRunes = 500

// TruncateRunes shortens s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ScanCompletedEvent is published once a scan reaches a terminal status.
type ScanCompletedEvent struct {
	ScanID       string     `json:"scan_id"`
	Domain       string     `json:"domain"`
	Mode         Mode       `json:"mode"`
	Status       ScanStatus `json:"status"`
	Overall      *int       `json:"overall,omitempty"`
	FindingCount int        `json:"finding_count"`
	ReportURI    string     `json:"report_uri,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  time.Time  `json:"completed_at"`
}
