package scoring

import (
	"fmt"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Web vitals thresholds.
const (
	lcpMediumMs = 2500
	lcpHighMs   = 4000
	clsMedium   = 0.1
	clsHigh     = 0.25
)

func collectFindings(in Inputs, crawlOK bool) []audit.Finding {
	var out []audit.Finding
	if crawlOK {
		out = append(out, in.Crawl.Findings...)
	}
	out = append(out, performanceFindings(in.Performance)...)
	out = append(out, rankFindings(in.Rankings)...)
	if in.Competitive != nil {
		out = append(out, in.Competitive.Findings...)
	}
	if in.AIReadiness != nil {
		out = append(out, in.AIReadiness.Findings...)
	}
	out = append(out, unavailableFindings(in, crawlOK)...)
	if in.ServiceDetectionWarning != "" {
		out = append(out, audit.Finding{
			ID:             "data:service_detection",
			RuleID:         "service_detection",
			Title:          "Services Not Detected",
			Description:    in.ServiceDetectionWarning,
			Severity:       audit.SeverityLow,
			Category:       audit.CategoryDataQuality,
			Source:         "keywords",
			Recommendation: "List each service you offer on its own page or in a clearly labelled services section.",
		})
	}
	if out == nil {
		out = []audit.Finding{}
	}
	return out
}

func performanceFindings(perf *audit.PerformanceResult) []audit.Finding {
	if perf == nil {
		return nil
	}
	var out []audit.Finding
	if lcp := perf.CoreWebVitals.LCPMs; lcp != nil && *lcp > lcpMediumMs {
		sev := audit.SeverityMedium
		if *lcp > lcpHighMs {
			sev = audit.SeverityHigh
		}
		out = append(out, audit.Finding{
			ID:             "performance:lcp",
			RuleID:         "slow_lcp",
			Title:          "Slow Page Speed",
			Description:    fmt.Sprintf("Largest Contentful Paint is %.0fms; aim for under %dms.", *lcp, lcpMediumMs),
			Severity:       sev,
			Category:       audit.CategoryPerformance,
			Source:         string(audit.AgentPerformance),
			Recommendation: "Compress hero images, defer non-critical scripts and serve assets from a CDN.",
		})
	}
	if cls := perf.CoreWebVitals.CLS; cls != nil && *cls > clsMedium {
		sev := audit.SeverityMedium
		if *cls > clsHigh {
			sev = audit.SeverityHigh
		}
		out = append(out, audit.Finding{
			ID:             "performance:cls",
			RuleID:         "layout_shift",
			Title:          "Layout Shift Issues",
			Description:    fmt.Sprintf("Cumulative Layout Shift is %.2f; aim for under %.1f.", *cls, clsMedium),
			Severity:       sev,
			Category:       audit.CategoryPerformance,
			Source:         string(audit.AgentPerformance),
			Recommendation: "Reserve space for images, embeds and ads with explicit width and height.",
		})
	}
	return out
}

func rankFindings(rankings []audit.RankResult) []audit.Finding {
	checked, ranking := 0, 0
	for _, r := range rankings {
		if r.Checked {
			checked++
		}
		if r.Position != nil {
			ranking++
		}
	}
	if checked == 0 {
		return nil
	}
	switch {
	case ranking == 0:
		return []audit.Finding{{
			ID:             "serp:no_rankings",
			RuleID:         "no_rankings",
			Title:          "Not Ranking For Target Keywords",
			Description:    fmt.Sprintf("The site did not appear in results for any of %d keywords checked.", len(rankings)),
			Severity:       audit.SeverityHigh,
			Category:       audit.CategorySERP,
			Source:         string(audit.AgentSERPRank),
			Recommendation: "Create a dedicated page per service and location with matching titles and headings.",
		}}
	case ranking*2 < len(rankings):
		return []audit.Finding{{
			ID:             "serp:few_rankings",
			RuleID:         "few_rankings",
			Title:          "Few Keywords Ranking",
			Description:    fmt.Sprintf("The site ranks for %d of %d keywords checked.", ranking, len(rankings)),
			Severity:       audit.SeverityMedium,
			Category:       audit.CategorySERP,
			Source:         string(audit.AgentSERPRank),
			Recommendation: "Strengthen the pages targeting non-ranking keywords with more specific content.",
		}}
	}
	return nil
}

// unavailableFindings explains every scheduled agent that produced no data.
func unavailableFindings(in Inputs, crawlOK bool) []audit.Finding {
	type gap struct {
		agent    audit.AgentName
		title    string
		severity audit.Severity
		missing  bool
	}
	gaps := []gap{
		{audit.AgentCrawl, "Limited Site Visibility", audit.SeverityHigh, !crawlOK},
		{audit.AgentPerformance, "Performance Analysis Limited", audit.SeverityMedium,
			in.Performance == nil || in.Performance.Score == nil},
		{audit.AgentSERPRank, "Ranking Data Unavailable", audit.SeverityInfo, !anyChecked(in.Rankings)},
		{audit.AgentCompetitive, "Competitive Analysis Unavailable", audit.SeverityInfo, in.Competitive == nil},
		{audit.AgentAIReadiness, "AI Readiness Analysis Limited", audit.SeverityInfo, in.AIReadiness == nil},
	}

	var out []audit.Finding
	for _, s := range gaps {
		state, scheduled := in.Agents[s.agent]
		if !scheduled || !s.missing {
			continue
		}
		desc := fmt.Sprintf("The %s step %s", s.agent, describeStatus(state.Status))
		if state.Reason != "" {
			desc += ": " + state.Reason
		}
		out = append(out, audit.Finding{
			ID:          "data:" + string(s.agent),
			RuleID:      "data_unavailable",
			Title:       s.title,
			Description: audit.TruncateRunes(desc+".", audit.MaxErrorRunes),
			Severity:    s.severity,
			Category:    audit.CategoryDataQuality,
			Source:      string(s.agent),
		})
	}
	return out
}

func describeStatus(s audit.AgentStatus) string {
	switch s {
	case audit.AgentStatusSkipped:
		return "was skipped"
	case audit.AgentStatusFailed:
		return "failed"
	default:
		return "returned no data"
	}
}

func anyChecked(rankings []audit.RankResult) bool {
	for _, r := range rankings {
		if r.Checked {
			return true
		}
	}
	return false
}
