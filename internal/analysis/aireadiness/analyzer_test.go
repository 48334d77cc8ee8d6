package aireadiness

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
)

func TestAnalyzeWellPreparedPage(t *testing.T) {
	t.Parallel()

	html := `<html lang="en"><head>
<meta name="description" content="Austin plumbing.">
<meta property="og:title" content="Austin Plumbing">
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[
  {"@type":"Plumber","name":"Austin Plumbing"},
  {"@type":"WebSite","name":"Austin Plumbing"},
  {"@type":"FAQPage","mainEntity":[{"@type":"Question","name":"Do you do weekends?"}]}
]}</script>
</head><body><h1>Austin Plumbing</h1><h2>Services</h2><p>` + strings.Repeat("word ", 320) + `</p></body></html>`

	res, err := New().Analyze(context.Background(), html, "https://example.com/")
	require.NoError(t, err)
	require.InDelta(t, 100, res.VisibilityScore, 1e-9)
	require.Equal(t, []string{"FAQPage", "Plumber", "Question", "WebSite"}, res.SchemaTypes)
	// WebSite and FAQPage groups only; Plumber is not in the coverage families.
	require.InDelta(t, 40, res.StructuredDataCoverage, 1e-9)
	require.Empty(t, res.Findings)
}

func TestAnalyzeBarePage(t *testing.T) {
	t.Parallel()

	html := `<html><head><script type="application/ld+json">{broken</script></head>
<body><h1>A</h1><h1>B</h1></body></html>`

	res, err := New().Analyze(context.Background(), html, "https://example.com/")
	require.NoError(t, err)
	require.Zero(t, res.VisibilityScore)
	require.Zero(t, res.StructuredDataCoverage)

	titles := map[string]audit.Severity{}
	for _, f := range res.Findings {
		titles[f.Title] = f.Severity
		require.Equal(t, audit.CategoryAIVisibility, f.Category)
	}
	require.Equal(t, audit.SeverityMedium, titles["Invalid Structured Data"])
	require.Equal(t, audit.SeverityHigh, titles["Missing Structured Data"])
	require.Contains(t, titles, "No FAQ Content")
	require.Contains(t, titles, "Weak Heading Structure")
	require.Contains(t, titles, "Missing Open Graph Tags")
}

func TestAnalyzeMicrodataAndFAQHeading(t *testing.T) {
	t.Parallel()

	html := `<html><body><div itemscope itemtype="https://schema.org/LocalBusiness"></div>
<h1>Home</h1><h2>Frequently Asked Questions</h2></body></html>`

	res, err := New().Analyze(context.Background(), html, "")
	require.NoError(t, err)
	require.Equal(t, []string{"LocalBusiness"}, res.SchemaTypes)
	require.InDelta(t, 20, res.StructuredDataCoverage, 1e-9)
	// business 15 + faq 15 + headings 15
	require.InDelta(t, 45, res.VisibilityScore, 1e-9)
}

func TestAnalyzeEmpty(t *testing.T) {
	t.Parallel()

	_, err := New().Analyze(context.Background(), "  ", "https://example.com/")
	require.ErrorIs(t, err, ErrNoContent)
}
