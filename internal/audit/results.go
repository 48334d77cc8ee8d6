package audit

// CrawlOptions bounds one crawl of a domain.
type CrawlOptions struct {
	MaxPages     int
	LocationHint string
}

// CrawlSummary aggregates crawl-level statistics.
type CrawlSummary struct {
	// HealthScore is reported by crawlers that compute their own site health.
	HealthScore   *float64 `json:"health_score,omitempty"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	StatusCode    int      `json:"status_code"`
	ErrorPages    int      `json:"error_pages"`
	UsedHeadless  bool     `json:"used_headless"`
	ContentSHA256 string   `json:"content_sha256,omitempty"`
}

// CrawlResult is the output of a CrawlFetcher.
type CrawlResult struct {
	OK           bool         `json:"ok"`
	HTML         string       `json:"-"`
	URL          string       `json:"url"`
	Findings     []Finding    `json:"findings"`
	Summary      CrawlSummary `json:"summary"`
	PagesCrawled int          `json:"pages_crawled"`
}

// ResultSummary implements executor.Summarizer.
func (r CrawlResult) ResultSummary() map[string]any {
	return map[string]any{
		"ok":            r.OK,
		"pages_crawled": r.PagesCrawled,
		"findings":      len(r.Findings),
		"status_code":   r.Summary.StatusCode,
	}
}

// CoreWebVitals carries lab or field web vitals. Nil fields were not measured.
type CoreWebVitals struct {
	LCPMs  *float64 `json:"lcp_ms,omitempty"`
	CLS    *float64 `json:"cls,omitempty"`
	INPMs  *float64 `json:"inp_ms,omitempty"`
	FCPMs  *float64 `json:"fcp_ms,omitempty"`
	TTFBMs *float64 `json:"ttfb_ms,omitempty"`
}

// PerformanceRecommendation is one audit the performance provider flagged.
type PerformanceRecommendation struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	SavingsMs     float64 `json:"savings_ms,omitempty"`
	AuditScoreRaw float64 `json:"score"`
}

// PerformanceResult is the output of a PerformanceFetcher.
type PerformanceResult struct {
	Score           *float64                    `json:"score,omitempty"`
	CoreWebVitals   CoreWebVitals               `json:"core_web_vitals"`
	Recommendations []PerformanceRecommendation `json:"recommendations,omitempty"`
}

// ResultSummary implements executor.Summarizer.
func (r PerformanceResult) ResultSummary() map[string]any {
	out := map[string]any{"recommendations": len(r.Recommendations)}
	if r.Score != nil {
		out["score"] = *r.Score
	}
	if r.CoreWebVitals.LCPMs != nil {
		out["lcp_ms"] = *r.CoreWebVitals.LCPMs
	}
	return out
}

// OrganicListing is one organic search result.
type OrganicListing struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// SERPResponse is the output of a RankQueryService call.
type SERPResponse struct {
	OrganicListings []OrganicListing `json:"organic_listings"`
}

// Competitor is a non-matching listing retained for a keyword.
type Competitor struct {
	Domain   string `json:"domain"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// RankResult classifies the target domain for one keyword. A nil Position
// means the domain was not found (or the keyword was never checked).
type RankResult struct {
	Keyword     string       `json:"keyword"`
	Position    *int         `json:"position"`
	URL         string       `json:"url,omitempty"`
	Competitors []Competitor `json:"competitors"`
	Checked     bool         `json:"checked"`
	Error       string       `json:"error,omitempty"`
}

// RankResults is the output of the rank agent.
type RankResults []RankResult

// ResultSummary implements executor.Summarizer.
func (r RankResults) ResultSummary() map[string]any {
	ranking, checked := 0, 0
	for _, res := range r {
		if res.Position != nil {
			ranking++
		}
		if res.Checked {
			checked++
		}
	}
	return map[string]any{"keywords": len(r), "checked": checked, "ranking": ranking}
}

// CompetitorSummary aggregates one competing domain across keywords.
type CompetitorSummary struct {
	Domain       string  `json:"domain"`
	Appearances  int     `json:"appearances"`
	BestPosition int     `json:"best_position"`
	ShareOfVoice float64 `json:"share_of_voice"`
}

// CompetitiveResult is the output of a CompetitiveAnalyzer.
type CompetitiveResult struct {
	Findings    []Finding           `json:"findings"`
	Competitors []CompetitorSummary `json:"competitors"`
	Summary     string              `json:"summary"`
}

// ResultSummary implements executor.Summarizer.
func (r CompetitiveResult) ResultSummary() map[string]any {
	return map[string]any{"competitors": len(r.Competitors), "findings": len(r.Findings)}
}

// AIReadinessResult is the output of an AIReadinessAnalyzer.
type AIReadinessResult struct {
	VisibilityScore        float64   `json:"visibility_score"`
	StructuredDataCoverage float64   `json:"structured_data_coverage"`
	SchemaTypes            []string  `json:"schema_types,omitempty"`
	Findings               []Finding `json:"findings"`
}

// ResultSummary implements executor.Summarizer.
func (r AIReadinessResult) ResultSummary() map[string]any {
	return map[string]any{
		"visibility_score":         r.VisibilityScore,
		"structured_data_coverage": r.StructuredDataCoverage,
		"findings":                 len(r.Findings),
	}
}
