// Package keywords derives the services a site offers and the search
// keywords its rankings are checked for.
package keywords

import (
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Warnings attached when service detection falls back to generic keywords.
const (
	WarningNoServices  = "No services were detected on the homepage; rankings use generic keywords derived from the site title and domain."
	WarningCrawlFailed = "The homepage could not be crawled; rankings use generic keywords derived from the domain name."
)

const maxServices = 8

// Input is everything derivation looks at.
type Input struct {
	Domain       string
	LocationHint string
	CrawlOK      bool
	HTML         string
	Title        string
	Description  string
	MaxKeywords  int
}

// Result lists detected services and the keywords to rank-check.
type Result struct {
	Services []string
	Keywords []string
	Warning  string
	Fallback bool
}

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}&' ]+`)
	spaces     = regexp.MustCompile(`\s+`)
	titleSplit = regexp.MustCompile(`\s[|\-–—:•]\s`)
)

// Navigation and boilerplate labels that never name a service.
var boilerplate = map[string]struct{}{
	"home": {}, "about": {}, "about us": {}, "contact": {}, "contact us": {}, "blog": {}, "news": {},
	"login": {}, "log in": {}, "sign in": {}, "sign up": {}, "register": {}, "cart": {}, "checkout": {},
	"privacy policy": {}, "privacy": {}, "terms": {}, "terms of service": {}, "careers": {}, "jobs": {},
	"faq": {}, "faqs": {}, "menu": {}, "search": {}, "services": {}, "our services": {}, "products": {},
	"gallery": {}, "reviews": {}, "testimonials": {}, "team": {}, "our team": {}, "locations": {},
	"get a quote": {}, "free quote": {}, "book now": {}, "learn more": {}, "read more": {}, "shop": {},
	"welcome": {}, "resources": {}, "support": {}, "help": {}, "sitemap": {}, "pricing": {}, "portfolio": {},
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "our": {}, "your": {}, "with": {}, "you": {}, "we": {}, "a": {}, "an": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "at": {}, "by": {}, "is": {}, "are": {}, "why": {}, "how": {},
	"what": {}, "who": {}, "us": {}, "my": {}, "it": {}, "this": {}, "that": {}, "&": {},
}

// Derive detects services in the crawled HTML and builds keywords from them.
// When nothing is detected it falls back to generic keywords and sets Warning.
func Derive(in Input) Result {
	limit := in.MaxKeywords
	if limit <= 0 {
		limit = 10
	}

	var services []string
	if in.CrawlOK && in.HTML != "" {
		services = detectServices(in.HTML)
	}
	if len(services) > 0 {
		return Result{Services: services, Keywords: serviceKeywords(services, in.LocationHint, limit)}
	}

	res := Result{Fallback: true, Warning: WarningNoServices, Services: []string{}}
	if !in.CrawlOK {
		res.Warning = WarningCrawlFailed
	}
	res.Keywords = fallbackKeywords(in, limit)
	return res
}

// DisplayName title-cases a normalized service for display.
func DisplayName(service string) string {
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(service)
}

func detectServices(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	counts := map[string]int{}
	var order []string
	add := func(raw string, weight int) {
		phrase := normalize(raw)
		if !plausibleService(phrase) {
			return
		}
		if _, seen := counts[phrase]; !seen {
			order = append(order, phrase)
		}
		counts[phrase] += weight
	}

	doc.Find(`[class*="service"] h2, [class*="service"] h3, [class*="service"] h4, [class*="service"] li,
		[id*="service"] h2, [id*="service"] h3, [id*="service"] li`).Each(func(_ int, s *goquery.Selection) {
		add(s.Text(), 3)
	})
	doc.Find("nav a, header a, .menu a, .dropdown-menu a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.Contains(strings.ToLower(href), "service") {
			add(s.Text(), 3)
			return
		}
		add(s.Text(), 1)
	})
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		add(s.Text(), 1)
	})

	// A phrase seen only once as a plain heading or link is noise.
	var services []string
	for _, p := range order {
		if counts[p] >= 2 {
			services = append(services, p)
		}
	}
	slices.SortStableFunc(services, func(a, b string) int { return counts[b] - counts[a] })
	if len(services) > maxServices {
		services = services[:maxServices]
	}
	return services
}

func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = nonWord.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func plausibleService(phrase string) bool {
	if len(phrase) < 3 || len(phrase) > 60 {
		return false
	}
	if _, ok := boilerplate[phrase]; ok {
		return false
	}
	words := strings.Fields(phrase)
	if len(words) > 5 {
		return false
	}
	content := 0
	for _, w := range words {
		if _, ok := stopwords[w]; !ok && len(w) > 2 {
			content++
		}
	}
	return content > 0
}

func serviceKeywords(services []string, location string, limit int) []string {
	city := locality(location)
	var out []string
	for _, svc := range services {
		if city != "" {
			out = appendUnique(out, svc+" "+city)
		}
		out = appendUnique(out, svc)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func fallbackKeywords(in Input, limit int) []string {
	city := locality(in.LocationHint)
	brand := brandName(in.Domain)
	var out []string

	if in.Title != "" {
		for _, part := range titleSplit.Split(in.Title, -1) {
			phrase := normalize(part)
			if phrase == "" || phrase == brand || !plausibleService(phrase) {
				continue
			}
			out = appendUnique(out, phrase)
			if city != "" {
				out = appendUnique(out, phrase+" "+city)
			}
		}
	}
	if in.Description != "" {
		words := strings.Fields(normalize(in.Description))
		if len(words) > 6 {
			words = words[:6]
		}
		if phrase := strings.Join(words, " "); plausibleService(phrase) {
			out = appendUnique(out, phrase)
		}
	}
	if brand != "" {
		out = appendUnique(out, brand)
		if city != "" {
			out = appendUnique(out, brand+" "+city)
		}
	}
	if city != "" {
		out = appendUnique(out, "businesses near "+city)
	}
	if len(out) == 0 {
		out = append(out, in.Domain)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// brandName strips the public suffix: "www.acme-plumbing.co.uk" -> "acme plumbing".
func brandName(domain string) string {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	apex, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		apex = domain
	}
	suffix, _ := publicsuffix.PublicSuffix(apex)
	label := strings.TrimSuffix(strings.TrimSuffix(apex, suffix), ".")
	if label == "" {
		// The host is itself a public suffix, e.g. "co.uk".
		label, _, _ = strings.Cut(domain, ".")
	}
	return normalize(strings.NewReplacer("-", " ", "_", " ").Replace(label))
}

// locality keeps the part of a location hint before the first comma.
func locality(hint string) string {
	city, _, _ := strings.Cut(hint, ",")
	return normalize(city)
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
