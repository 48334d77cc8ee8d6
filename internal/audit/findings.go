package audit

import "time"

// Severity classifies the impact of a Finding.
type Severity string

// Severity levels, highest first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities; lower is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Category groups findings by the score they affect.
type Category string

// Finding categories.
const (
	CategoryTechnical    Category = "technical"
	CategoryPerformance  Category = "performance"
	CategoryContent      Category = "content"
	CategorySERP         Category = "serp"
	CategoryAuthority    Category = "authority"
	CategoryCompetitive  Category = "competitive"
	CategoryAIVisibility Category = "ai_visibility"
	CategoryDataQuality  Category = "data_quality"
)

// Finding is one issue or observation surfaced by a scan.
type Finding struct {
	ID             string   `json:"id"`
	RuleID         string   `json:"rule_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	Category       Category `json:"category"`
	Source         string   `json:"source"`
	Recommendation string   `json:"recommendation,omitempty"`
	URL            string   `json:"url,omitempty"`
}

// VisibilityMode describes how much of the site the scan could see.
type VisibilityMode string

// Visibility modes.
const (
	VisibilityFull    VisibilityMode = "full"
	VisibilityLimited VisibilityMode = "limited"
)

// LeadRange is an estimated band of lost leads.
type LeadRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// ScoreSummary is the scored outcome of one scan.
type ScoreSummary struct {
	Overall                 int              `json:"overall"`
	Technical               int              `json:"technical"`
	Performance             int              `json:"performance"`
	Content                 int              `json:"content"`
	SERP                    int              `json:"serp"`
	Authority               int              `json:"authority"`
	AIVisibility            *int             `json:"ai_visibility,omitempty"`
	Fallbacks               []string         `json:"fallbacks,omitempty"`
	TrafficAtRisk           int              `json:"traffic_at_risk_pct"`
	EstimatedLostClicks     int              `json:"estimated_lost_clicks"`
	LeadRange               LeadRange        `json:"lead_range"`
	SeverityCounts          map[Severity]int `json:"severity_counts"`
	FindingCount            int              `json:"finding_count"`
	VisibilityMode          VisibilityMode   `json:"visibility_mode"`
	LimitedVisibilityReason string           `json:"limited_visibility_reason,omitempty"`
	RemediationSteps        []string         `json:"remediation_steps,omitempty"`
}

// Categories projects the summary onto the scores kept by a rollup.
func (s ScoreSummary) Categories() CategoryScores {
	return CategoryScores{
		Overall:     s.Overall,
		Technical:   s.Technical,
		Performance: s.Performance,
		Content:     s.Content,
		SERP:        s.SERP,
		Authority:   s.Authority,
	}
}

// AgentSummary describes how every scheduled agent of a scan finished.
type AgentSummary struct {
	Scheduled int                 `json:"scheduled"`
	Counts    map[AgentStatus]int `json:"counts"`
	Agents    []AgentBrief        `json:"agents"`
}

// AgentBrief is a compact view of one terminal AgentRun.
type AgentBrief struct {
	Agent      AgentName   `json:"agent"`
	Status     AgentStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

// Report is the full scan report stored on the ScanRequest and archived.
type Report struct {
	ScanID                  string             `json:"scan_id"`
	Domain                  string             `json:"domain"`
	Mode                    Mode               `json:"mode"`
	GeneratedAt             time.Time          `json:"generated_at"`
	Summary                 ScoreSummary       `json:"summary"`
	Findings                []Finding          `json:"findings"`
	Crawl                   *CrawlResult       `json:"crawl,omitempty"`
	Performance             *PerformanceResult `json:"performance,omitempty"`
	Services                []string           `json:"services,omitempty"`
	Keywords                []string           `json:"keywords,omitempty"`
	ServiceDetectionWarning string             `json:"service_detection_warning,omitempty"`
	Rankings                []RankResult       `json:"rankings,omitempty"`
	Competitive             *CompetitiveResult `json:"competitive,omitempty"`
	AIReadiness             *AIReadinessResult `json:"ai_readiness,omitempty"`
	Agents                  *AgentSummary      `json:"agents,omitempty"`
}
