// Package competitive derives competitor insights from rank results.
package competitive

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/site-audit/internal/audit"
)

const maxCompetitors = 10

// Analyzer implements audit.CompetitiveAnalyzer. It needs no external calls:
// everything comes from the competitors the rank checker kept.
type Analyzer struct{}

// New returns an Analyzer.
func New() *Analyzer { return &Analyzer{} }

// Analyze aggregates competitors across checked keywords.
func (a *Analyzer) Analyze(ctx context.Context, domain string, results []audit.RankResult) (audit.CompetitiveResult, error) {
	if err := ctx.Err(); err != nil {
		return audit.CompetitiveResult{}, fmt.Errorf("competitive analysis canceled: %w", err)
	}

	byDomain := map[string]*audit.CompetitorSummary{}
	checked, ranking, outranked := 0, 0, 0
	for _, r := range results {
		if !r.Checked {
			continue
		}
		checked++
		if r.Position != nil {
			ranking++
		}
		seen := map[string]bool{}
		beaten := false
		for _, c := range r.Competitors {
			if c.Domain == "" || c.Domain == domain || seen[c.Domain] {
				continue
			}
			seen[c.Domain] = true
			s, ok := byDomain[c.Domain]
			if !ok {
				s = &audit.CompetitorSummary{Domain: c.Domain, BestPosition: c.Position}
				byDomain[c.Domain] = s
			}
			s.Appearances++
			s.BestPosition = min(s.BestPosition, c.Position)
			if c.Position <= 3 && (r.Position == nil || *r.Position > c.Position) {
				beaten = true
			}
		}
		if beaten {
			outranked++
		}
	}
	if checked == 0 {
		return audit.CompetitiveResult{Competitors: []audit.CompetitorSummary{}, Findings: []audit.Finding{},
			Summary: "No keywords were checked."}, nil
	}

	competitors := make([]audit.CompetitorSummary, 0, len(byDomain))
	for _, s := range byDomain {
		s.ShareOfVoice = float64(s.Appearances) / float64(checked)
		competitors = append(competitors, *s)
	}
	sort.Slice(competitors, func(i, j int) bool {
		ci, cj := competitors[i], competitors[j]
		if ci.Appearances != cj.Appearances {
			return ci.Appearances > cj.Appearances
		}
		if ci.BestPosition != cj.BestPosition {
			return ci.BestPosition < cj.BestPosition
		}
		return ci.Domain < cj.Domain
	})
	if len(competitors) > maxCompetitors {
		competitors = competitors[:maxCompetitors]
	}

	return audit.CompetitiveResult{
		Findings:    findings(competitors, checked, outranked),
		Competitors: competitors,
		Summary:     summarize(competitors, checked, ranking),
	}, nil
}

func findings(competitors []audit.CompetitorSummary, checked, outranked int) []audit.Finding {
	out := []audit.Finding{}
	if outranked > 0 {
		sev := audit.SeverityMedium
		if outranked*2 >= checked {
			sev = audit.SeverityHigh
		}
		out = append(out, audit.Finding{
			ID:          "competitive:outranked",
			RuleID:      "competitors_outrank",
			Title:       "Competitors Outrank You",
			Description: fmt.Sprintf("A competitor holds a top-3 spot above you for %d of %d keywords.", outranked, checked),
			Severity:    sev,
			Category:    audit.CategoryCompetitive,
			Source:      string(audit.AgentCompetitive),
			Recommendation: "Study the top-ranking pages for these keywords and build service pages " +
				"that answer the same questions better.",
		})
	}
	if len(competitors) > 0 && competitors[0].ShareOfVoice >= 0.5 {
		top := competitors[0]
		out = append(out, audit.Finding{
			ID:     "competitive:dominant",
			RuleID: "dominant_competitor",
			Title:  "Dominant Competitor: " + top.Domain,
			Description: fmt.Sprintf("%s appears for %d of %d keywords (best position %d).",
				top.Domain, top.Appearances, checked, top.BestPosition),
			Severity:       audit.SeverityMedium,
			Category:       audit.CategoryCompetitive,
			Source:         string(audit.AgentCompetitive),
			Recommendation: "Compare your content, reviews and local listings against " + top.Domain + ".",
		})
	}
	return out
}

func summarize(competitors []audit.CompetitorSummary, checked, ranking int) string {
	if len(competitors) == 0 {
		return fmt.Sprintf("No competitors found; you rank for %d of %d keywords.", ranking, checked)
	}
	top := competitors[0]
	return fmt.Sprintf("%s appears for %d of %d keywords; you rank for %d.",
		top.Domain, top.Appearances, checked, ranking)
}
