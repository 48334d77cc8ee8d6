// Package scoring folds whatever phase outputs a scan produced into category
// scores, business estimates and an ordered findings list.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Named fallbacks used when a phase produced no data.
const (
	TechnicalFallback    = 40
	PerformanceFallback  = 50
	ContentFallback      = 50
	SERPNeutral          = 50
	AuthorityPlaceholder = 50
)

// Category weights for the composite score.
const (
	weightTechnical   = 0.25
	weightPerformance = 0.25
	weightContent     = 0.20
	weightSERP        = 0.15
	weightAuthority   = 0.15
)

// AgentState is how a scheduled agent settled.
type AgentState struct {
	Status audit.AgentStatus
	Reason string
}

// Inputs is everything the aggregator may use. Nil outputs mean the phase
// produced nothing; Agents explains why for scheduled agents.
type Inputs struct {
	ScanID      string
	Domain      string
	Mode        audit.Mode
	GeneratedAt time.Time

	Crawl                   *audit.CrawlResult
	Performance             *audit.PerformanceResult
	Services                []string
	Keywords                []string
	ServiceDetectionWarning string
	Rankings                []audit.RankResult
	Competitive             *audit.CompetitiveResult
	AIReadiness             *audit.AIReadinessResult

	Agents map[audit.AgentName]AgentState
}

// Result is the aggregate of one scan.
type Result struct {
	Findings []audit.Finding
	Summary  audit.ScoreSummary
	Report   audit.Report
}

// Aggregate scores in. It is deterministic for equal inputs.
func Aggregate(in Inputs) (Result, error) {
	if in.ScanID == "" || in.Domain == "" {
		return Result{}, errors.New("aggregate: scan id and domain are required")
	}
	crawlOK := in.Crawl != nil && in.Crawl.OK

	findings := collectFindings(in, crawlOK)
	sortFindings(findings)

	var summary audit.ScoreSummary
	summary.Technical, summary.Fallbacks = technicalScore(in.Crawl, crawlOK, summary.Fallbacks)
	summary.Performance, summary.Fallbacks = performanceScore(in.Performance, summary.Fallbacks)
	summary.Content, summary.Fallbacks = contentScore(in.Crawl, crawlOK, in.AIReadiness, summary.Fallbacks)
	summary.SERP, summary.Fallbacks = serpScore(in.Rankings, summary.Fallbacks)
	summary.Authority = AuthorityPlaceholder
	if in.AIReadiness != nil {
		v := clampRound(in.AIReadiness.VisibilityScore)
		summary.AIVisibility = &v
	}
	summary.Overall = clampRound(
		weightTechnical*float64(summary.Technical) +
			weightPerformance*float64(summary.Performance) +
			weightContent*float64(summary.Content) +
			weightSERP*float64(summary.SERP) +
			weightAuthority*float64(summary.Authority))

	applyBusinessMetrics(&summary, len(findings))
	summary.FindingCount = len(findings)
	summary.SeverityCounts = severityCounts(findings)
	applyVisibility(&summary, in, crawlOK)

	report := audit.Report{
		ScanID:                  in.ScanID,
		Domain:                  in.Domain,
		Mode:                    in.Mode,
		GeneratedAt:             in.GeneratedAt,
		Summary:                 summary,
		Findings:                findings,
		Crawl:                   in.Crawl,
		Performance:             in.Performance,
		Services:                in.Services,
		Keywords:                in.Keywords,
		ServiceDetectionWarning: in.ServiceDetectionWarning,
		Rankings:                in.Rankings,
		Competitive:             in.Competitive,
		AIReadiness:             in.AIReadiness,
	}
	return Result{Findings: findings, Summary: summary, Report: report}, nil
}

func technicalScore(crawl *audit.CrawlResult, ok bool, fallbacks []string) (int, []string) {
	if !ok {
		return TechnicalFallback, append(fallbacks, "technical")
	}
	if hs := crawl.Summary.HealthScore; hs != nil {
		return clampRound(*hs), fallbacks
	}
	c := countSeverities(crawl.Findings, nil)
	penalty := 15*c[audit.SeverityCritical] + 10*c[audit.SeverityHigh] + 5*c[audit.SeverityMedium] + 2*c[audit.SeverityLow]
	return clampRound(float64(100 - penalty)), fallbacks
}

func performanceScore(perf *audit.PerformanceResult, fallbacks []string) (int, []string) {
	if perf == nil || perf.Score == nil {
		return PerformanceFallback, append(fallbacks, "performance")
	}
	return clampRound(*perf.Score), fallbacks
}

func contentScore(crawl *audit.CrawlResult, ok bool, ai *audit.AIReadinessResult, fallbacks []string) (int, []string) {
	if !ok {
		return ContentFallback, append(fallbacks, "content")
	}
	content := audit.CategoryContent
	c := countSeverities(crawl.Findings, &content)
	base := float64(100 - (12*c[audit.SeverityHigh] + 6*c[audit.SeverityMedium] + 3*c[audit.SeverityLow]))
	base = clamp(base)
	if ai != nil {
		base = 0.7*base + 0.3*clamp(ai.VisibilityScore)
	}
	return clampRound(base), fallbacks
}

// serpScore averages per-keyword points. Keywords never reached count as not
// ranking; no checked keyword at all means there is no rank data.
func serpScore(rankings []audit.RankResult, fallbacks []string) (int, []string) {
	checked := 0
	total := 0
	for _, r := range rankings {
		if r.Checked {
			checked++
		}
		total += positionPoints(r.Position)
	}
	if checked == 0 {
		return SERPNeutral, append(fallbacks, "serp")
	}
	return clampRound(float64(total) / float64(len(rankings))), fallbacks
}

func positionPoints(pos *int) int {
	switch {
	case pos == nil || *pos <= 0:
		return 0
	case *pos <= 3:
		return 100
	case *pos <= 10:
		return 70
	case *pos <= 20:
		return 40
	default:
		return 20
	}
}

func applyBusinessMetrics(s *audit.ScoreSummary, findingCount int) {
	gap := float64(100 - s.Overall)
	s.TrafficAtRisk = int(math.Max(5, math.Round(0.6*gap)))
	s.EstimatedLostClicks = int(math.Max(50, 25*gap+10*float64(findingCount)))
	low := int(math.Max(1, math.Round(0.02*float64(s.EstimatedLostClicks))))
	high := int(math.Max(float64(low+1), math.Round(0.05*float64(s.EstimatedLostClicks))))
	s.LeadRange = audit.LeadRange{Low: low, High: high}
}

func applyVisibility(s *audit.ScoreSummary, in Inputs, crawlOK bool) {
	if crawlOK {
		s.VisibilityMode = audit.VisibilityFull
		return
	}
	s.VisibilityMode = audit.VisibilityLimited
	reason := "The site could not be crawled."
	if st, ok := in.Agents[audit.AgentCrawl]; ok && st.Reason != "" {
		reason = fmt.Sprintf("The site could not be crawled: %s", st.Reason)
	}
	s.LimitedVisibilityReason = audit.TruncateRunes(reason, audit.MaxErrorRunes)
	s.RemediationSteps = []string{
		"Confirm the homepage loads over HTTPS without errors.",
		"Allow our crawler's user agent in robots.txt and any firewall or bot protection.",
		"Re-run the scan with force=true once the site is reachable.",
	}
}

func countSeverities(findings []audit.Finding, category *audit.Category) map[audit.Severity]int {
	out := map[audit.Severity]int{}
	for _, f := range findings {
		if category != nil && f.Category != *category {
			continue
		}
		out[f.Severity]++
	}
	return out
}

func severityCounts(findings []audit.Finding) map[audit.Severity]int {
	out := map[audit.Severity]int{
		audit.SeverityCritical: 0,
		audit.SeverityHigh:     0,
		audit.SeverityMedium:   0,
		audit.SeverityLow:      0,
		audit.SeverityInfo:     0,
	}
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}

func sortFindings(findings []audit.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		fi, fj := findings[i], findings[j]
		if ri, rj := fi.Severity.Rank(), fj.Severity.Rank(); ri != rj {
			return ri < rj
		}
		if fi.Title != fj.Title {
			return fi.Title < fj.Title
		}
		return fi.ID < fj.ID
	})
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}

func clampRound(v float64) int {
	return int(math.Round(clamp(v)))
}
