package collyfetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// pageFacts is what one crawled HTML page contributed.
type pageFacts struct {
	url         string
	title       string
	description string
	words       int
	hits        []string
}

type rule struct {
	id             string
	title          string
	severity       audit.Severity
	category       audit.Category
	recommendation string
	homeOnly       bool
	check          func(doc *goquery.Document, u *url.URL) bool
}

var rules = []rule{
	{
		id: "noindex", title: "Page Blocked From Indexing", severity: audit.SeverityCritical,
		category:       audit.CategoryTechnical,
		recommendation: "Remove the noindex robots directive from pages that should appear in search.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			content := strings.ToLower(doc.Find(`meta[name="robots"]`).AttrOr("content", ""))
			return strings.Contains(content, "noindex")
		},
	},
	{
		id: "no_https", title: "Site Not Served Over HTTPS", severity: audit.SeverityCritical,
		category:       audit.CategoryTechnical,
		recommendation: "Serve every page over HTTPS and redirect plain HTTP requests.",
		homeOnly:       true,
		check: func(_ *goquery.Document, u *url.URL) bool {
			return u.Scheme != "https"
		},
	},
	{
		id: "missing_title", title: "Missing Page Title", severity: audit.SeverityHigh,
		category:       audit.CategoryContent,
		recommendation: "Give every page a unique, descriptive <title>.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return strings.TrimSpace(doc.Find("title").First().Text()) == ""
		},
	},
	{
		id: "missing_viewport", title: "Not Mobile Friendly", severity: audit.SeverityHigh,
		category:       audit.CategoryTechnical,
		recommendation: `Add <meta name="viewport" content="width=device-width, initial-scale=1">.`,
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return doc.Find(`meta[name="viewport"]`).Length() == 0
		},
	},
	{
		id: "missing_meta_description", title: "Missing Meta Description", severity: audit.SeverityMedium,
		category:       audit.CategoryContent,
		recommendation: "Write a 120-160 character meta description summarizing each page.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")) == ""
		},
	},
	{
		id: "missing_h1", title: "Missing H1 Heading", severity: audit.SeverityMedium,
		category:       audit.CategoryContent,
		recommendation: "Add one H1 that states the page's main topic.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return strings.TrimSpace(doc.Find("h1").Text()) == ""
		},
	},
	{
		id: "thin_content", title: "Thin Content", severity: audit.SeverityMedium,
		category:       audit.CategoryContent,
		recommendation: "Expand key pages with at least 250 words of useful, specific copy.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return wordCount(doc) < 250
		},
	},
	{
		id: "title_too_long", title: "Page Title Too Long", severity: audit.SeverityLow,
		category:       audit.CategoryContent,
		recommendation: "Keep titles under 60 characters so they are not truncated in results.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return len([]rune(strings.TrimSpace(doc.Find("title").First().Text()))) > 60
		},
	},
	{
		id: "multiple_h1", title: "Multiple H1 Headings", severity: audit.SeverityLow,
		category:       audit.CategoryContent,
		recommendation: "Use a single H1 per page and H2-H6 for subsections.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return doc.Find("h1").Length() > 1
		},
	},
	{
		id: "images_missing_alt", title: "Images Missing Alt Text", severity: audit.SeverityLow,
		category:       audit.CategoryContent,
		recommendation: "Describe every meaningful image with alt text.",
		check: func(doc *goquery.Document, _ *url.URL) bool {
			missing := false
			doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if _, ok := s.Attr("alt"); !ok {
					missing = true
				}
				return !missing
			})
			return missing
		},
	},
	{
		id: "missing_canonical", title: "Missing Canonical Tag", severity: audit.SeverityLow,
		category:       audit.CategoryTechnical,
		recommendation: `Declare a <link rel="canonical"> on every indexable page.`,
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return doc.Find(`link[rel="canonical"]`).Length() == 0
		},
	},
	{
		id: "missing_lang", title: "Missing Language Attribute", severity: audit.SeverityLow,
		category:       audit.CategoryTechnical,
		recommendation: `Set the document language, e.g. <html lang="en">.`,
		homeOnly:       true,
		check: func(doc *goquery.Document, _ *url.URL) bool {
			return strings.TrimSpace(doc.Find("html").AttrOr("lang", "")) == ""
		},
	},
}

func analyzePage(rawURL string, body []byte, home bool) (pageFacts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return pageFacts{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return pageFacts{}, fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	facts := pageFacts{
		url:         rawURL,
		title:       strings.TrimSpace(doc.Find("title").First().Text()),
		description: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
		words:       wordCount(doc),
	}
	for _, r := range rules {
		if r.homeOnly && !home {
			continue
		}
		if r.check(doc, u) {
			facts.hits = append(facts.hits, r.id)
		}
	}
	return facts, nil
}

func wordCount(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	return len(strings.Fields(body.Text()))
}

// aggregateFindings folds per-page rule hits into one finding per rule so a
// site-wide template issue counts once.
func aggregateFindings(pages []pageFacts, errorPages []string) []audit.Finding {
	affected := map[string][]string{}
	for _, p := range pages {
		for _, id := range p.hits {
			affected[id] = append(affected[id], p.url)
		}
	}

	var findings []audit.Finding
	for _, r := range rules {
		urls := affected[r.id]
		if len(urls) == 0 {
			continue
		}
		findings = append(findings, audit.Finding{
			ID:             "crawl:" + r.id,
			RuleID:         r.id,
			Title:          r.title,
			Description:    fmt.Sprintf("Found on %d of %d crawled pages, e.g. %s.", len(urls), len(pages), urls[0]),
			Severity:       r.severity,
			Category:       r.category,
			Source:         string(audit.AgentCrawl),
			Recommendation: r.recommendation,
			URL:            urls[0],
		})
	}
	if len(errorPages) > 0 {
		findings = append(findings, audit.Finding{
			ID:             "crawl:broken_pages",
			RuleID:         "broken_pages",
			Title:          "Broken Internal Links",
			Description:    fmt.Sprintf("%d linked pages returned an error status, e.g. %s.", len(errorPages), errorPages[0]),
			Severity:       audit.SeverityHigh,
			Category:       audit.CategoryTechnical,
			Source:         string(audit.AgentCrawl),
			Recommendation: "Fix or redirect internal links that return 4xx or 5xx responses.",
			URL:            errorPages[0],
		})
	}
	return findings
}
