package collyfetcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
)

func TestAnalyzePageRules(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<title>A very long title that keeps going well past the sixty character limit</title>
<meta name="robots" content="noindex, nofollow">
</head><body><h1>One</h1><h1>Two</h1><script>var words = "not counted";</script></body></html>`

	facts, err := analyzePage("https://example.com/", []byte(html), true)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"noindex", "missing_viewport", "missing_meta_description", "thin_content",
		"title_too_long", "multiple_h1", "missing_canonical", "missing_lang",
	}, facts.hits)
	require.Equal(t, 2, facts.words)
}

func TestAnalyzePageHomeOnlyRules(t *testing.T) {
	t.Parallel()

	facts, err := analyzePage("http://example.com/about", []byte(`<html><body></body></html>`), false)
	require.NoError(t, err)
	require.NotContains(t, facts.hits, "no_https")
	require.NotContains(t, facts.hits, "missing_lang")
	require.Contains(t, facts.hits, "missing_title")
}

func TestAggregateFindingsOnePerRule(t *testing.T) {
	t.Parallel()

	pages := []pageFacts{
		{url: "https://example.com/", hits: []string{"missing_h1", "missing_canonical"}},
		{url: "https://example.com/a", hits: []string{"missing_h1"}},
		{url: "https://example.com/b", hits: []string{"missing_h1"}},
	}
	findings := aggregateFindings(pages, nil)
	require.Len(t, findings, 2)
	require.Equal(t, "missing_h1", findings[0].RuleID)
	require.Equal(t, audit.SeverityMedium, findings[0].Severity)
	require.Contains(t, findings[0].Description, "3 of 3")
	require.Equal(t, "crawl:missing_canonical", findings[1].ID)

	findings = aggregateFindings(pages[:1], []string{"https://example.com/gone"})
	require.Equal(t, "broken_pages", findings[len(findings)-1].RuleID)
}
