// Package aireadiness scores how well a page is prepared to be quoted by AI
// answer engines: structured data, FAQ content and a clean outline.
package aireadiness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// ErrNoContent is returned when there is no HTML to analyze.
var ErrNoContent = errors.New("no html to analyze")

// coverageGroups are the schema families a local business site should carry.
var coverageGroups = [][]string{
	{"Organization", "LocalBusiness", "ProfessionalService", "HomeAndConstructionBusiness"},
	{"WebSite", "WebPage"},
	{"BreadcrumbList"},
	{"FAQPage"},
	{"Service", "Product", "Offer"},
}

var businessTypes = map[string]bool{
	"Organization": true, "LocalBusiness": true, "ProfessionalService": true, "HomeAndConstructionBusiness": true,
	"Plumber": true, "Electrician": true, "Dentist": true, "LegalService": true, "Restaurant": true,
}

// Analyzer implements audit.AIReadinessAnalyzer.
type Analyzer struct{}

// New returns an Analyzer.
func New() *Analyzer { return &Analyzer{} }

type signals struct {
	schemaTypes    []string
	invalidJSONLD  int
	hasJSONLD      bool
	hasBusiness    bool
	hasFAQ         bool
	hasDescription bool
	h1Count        int
	h2Count        int
	words          int
	hasLang        bool
	hasOpenGraph   bool
}

// Analyze inspects html fetched from pageURL.
func (a *Analyzer) Analyze(ctx context.Context, html, pageURL string) (audit.AIReadinessResult, error) {
	if err := ctx.Err(); err != nil {
		return audit.AIReadinessResult{}, fmt.Errorf("ai readiness canceled: %w", err)
	}
	if strings.TrimSpace(html) == "" {
		return audit.AIReadinessResult{}, ErrNoContent
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return audit.AIReadinessResult{}, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	s := collect(doc)
	return audit.AIReadinessResult{
		VisibilityScore:        score(s),
		StructuredDataCoverage: coverage(s.schemaTypes),
		SchemaTypes:            s.schemaTypes,
		Findings:               findings(s, pageURL),
	}, nil
}

func collect(doc *goquery.Document) signals {
	var s signals
	types := map[string]bool{}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(sel.Text()), &v); err != nil {
			s.invalidJSONLD++
			return
		}
		s.hasJSONLD = true
		walkTypes(v, types)
	})
	doc.Find("[itemtype]").Each(func(_ int, sel *goquery.Selection) {
		it := sel.AttrOr("itemtype", "")
		if i := strings.LastIndex(it, "/"); i >= 0 {
			it = it[i+1:]
		}
		if it != "" {
			types[it] = true
		}
	})
	for t := range types {
		s.schemaTypes = append(s.schemaTypes, t)
		if businessTypes[t] {
			s.hasBusiness = true
		}
	}
	sort.Strings(s.schemaTypes)

	s.hasFAQ = types["FAQPage"]
	doc.Find("h2, h3").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(sel.Text())
		if strings.Contains(text, "faq") || strings.Contains(text, "frequently asked") {
			s.hasFAQ = true
		}
		return !s.hasFAQ
	})

	s.hasDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")) != ""
	s.h1Count = doc.Find("h1").Length()
	s.h2Count = doc.Find("h2").Length()
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	s.words = len(strings.Fields(body.Text()))
	s.hasLang = strings.TrimSpace(doc.Find("html").AttrOr("lang", "")) != ""
	s.hasOpenGraph = doc.Find(`meta[property^="og:"]`).Length() > 0
	return s
}

// walkTypes collects every @type in a JSON-LD value, following @graph and
// nested objects.
func walkTypes(v any, into map[string]bool) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkTypes(item, into)
		}
	case map[string]any:
		switch typ := t["@type"].(type) {
		case string:
			into[typ] = true
		case []any:
			for _, x := range typ {
				if s, ok := x.(string); ok {
					into[s] = true
				}
			}
		}
		for k, child := range t {
			if k != "@type" && k != "@context" {
				walkTypes(child, into)
			}
		}
	}
}

func score(s signals) float64 {
	total := 0.0
	if s.hasJSONLD {
		total += 25
	}
	if s.hasBusiness {
		total += 15
	}
	if s.hasFAQ {
		total += 15
	}
	if s.hasDescription {
		total += 10
	}
	if s.h1Count == 1 && s.h2Count > 0 {
		total += 15
	}
	if s.words >= 300 {
		total += 10
	}
	if s.hasLang {
		total += 5
	}
	if s.hasOpenGraph {
		total += 5
	}
	return total
}

// coverage is the percentage of coverageGroups with at least one type present.
func coverage(types []string) float64 {
	present := map[string]bool{}
	for _, t := range types {
		present[t] = true
	}
	hit := 0
	for _, group := range coverageGroups {
		for _, t := range group {
			if present[t] {
				hit++
				break
			}
		}
	}
	return float64(hit) * 100 / float64(len(coverageGroups))
}

func findings(s signals, pageURL string) []audit.Finding {
	out := []audit.Finding{}
	add := func(rule, title, desc string, sev audit.Severity, rec string) {
		out = append(out, audit.Finding{
			ID:             "ai_readiness:" + rule,
			RuleID:         rule,
			Title:          title,
			Description:    desc,
			Severity:       sev,
			Category:       audit.CategoryAIVisibility,
			Source:         string(audit.AgentAIReadiness),
			Recommendation: rec,
			URL:            pageURL,
		})
	}

	if s.invalidJSONLD > 0 {
		add("invalid_structured_data", "Invalid Structured Data",
			fmt.Sprintf("%d JSON-LD blocks could not be parsed.", s.invalidJSONLD),
			audit.SeverityMedium, "Validate JSON-LD with the Rich Results Test and fix syntax errors.")
	}
	switch {
	case len(s.schemaTypes) == 0:
		add("missing_structured_data", "Missing Structured Data",
			"The homepage carries no schema.org markup, so AI assistants must guess what the business does.",
			audit.SeverityHigh, "Add LocalBusiness (or Organization) JSON-LD with name, address, phone and services.")
	case !s.hasBusiness:
		add("missing_business_schema", "No Business Schema",
			"Structured data is present but does not describe the business itself.",
			audit.SeverityMedium, "Add a LocalBusiness or Organization JSON-LD block.")
	}
	if !s.hasFAQ {
		add("missing_faq", "No FAQ Content",
			"No FAQ section or FAQPage markup was found.",
			audit.SeverityLow, "Answer common customer questions in an FAQ section marked up as FAQPage.")
	}
	if s.h1Count != 1 || s.h2Count == 0 {
		add("weak_heading_structure", "Weak Heading Structure",
			fmt.Sprintf("Found %d H1 and %d H2 headings.", s.h1Count, s.h2Count),
			audit.SeverityLow, "Use one H1 for the page topic and H2s for each service or question.")
	}
	if !s.hasOpenGraph {
		add("missing_open_graph", "Missing Open Graph Tags",
			"No og: meta tags were found.",
			audit.SeverityLow, "Add og:title, og:description and og:image tags.")
	}
	return out
}
