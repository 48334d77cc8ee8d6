package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/fetcher/headless"
)

const goodPage = `<!doctype html><html lang="en"><head>
<title>%s</title>
<meta name="description" content="Family plumbing and drain repair in Austin.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<link rel="canonical" href="/">
</head><body><h1>Plumbing</h1><p>%s</p>%s</body></html>`

func page(title, links string) string {
	return fmt.Sprintf(goodPage, title, strings.Repeat("useful words here ", 100), links)
}

func newSite(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlCollectsPagesAndFindings(t *testing.T) {
	t.Parallel()

	srv := newSite(t, map[string]string{
		"/":        page("Austin Plumbing", `<a href="/about">About</a><a href="/missing">Gone</a><a href="https://elsewhere.test/">x</a>`),
		"/about":   `<html><head><title>About</title></head><body><img src="a.png"><p>short</p></body></html>`,
		"/ignored": page("Never linked", ""),
	})

	f := New(Config{BaseURL: srv.URL + "/", IgnoreRobots: true, Timeout: 2 * time.Second})
	res, err := f.Crawl(context.Background(), "example.com", audit.CrawlOptions{MaxPages: 5})
	require.NoError(t, err)

	require.True(t, res.OK)
	require.Equal(t, 2, res.PagesCrawled)
	require.Equal(t, "Austin Plumbing", res.Summary.Title)
	require.Equal(t, "Family plumbing and drain repair in Austin.", res.Summary.Description)
	require.Equal(t, http.StatusOK, res.Summary.StatusCode)
	require.Equal(t, 1, res.Summary.ErrorPages)
	require.Len(t, res.Summary.ContentSHA256, 64)
	require.Nil(t, res.Summary.HealthScore)
	require.Contains(t, res.HTML, "Austin Plumbing")

	rules := map[string]audit.Finding{}
	for _, fnd := range res.Findings {
		rules[fnd.RuleID] = fnd
		require.Equal(t, string(audit.AgentCrawl), fnd.Source)
	}
	require.Contains(t, rules, "broken_pages")
	require.Contains(t, rules, "images_missing_alt")
	require.Contains(t, rules, "thin_content")
	require.Contains(t, rules, "no_https")
	require.NotContains(t, rules, "missing_lang")
	require.Equal(t, audit.SeverityCritical, rules["no_https"].Severity)
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	t.Parallel()

	links := ""
	routes := map[string]string{}
	for i := range 10 {
		path := fmt.Sprintf("/p%d", i)
		links += fmt.Sprintf(`<a href="%s">%d</a>`, path, i)
		routes[path] = page(fmt.Sprintf("Page %d", i), "")
	}
	routes["/"] = page("Home", links)
	srv := newSite(t, routes)

	f := New(Config{BaseURL: srv.URL + "/", IgnoreRobots: true, Parallelism: 4})
	res, err := f.Crawl(context.Background(), "example.com", audit.CrawlOptions{MaxPages: 3})
	require.NoError(t, err)
	require.Equal(t, 3, res.PagesCrawled)
}

func TestCrawlHomepageFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{BaseURL: srv.URL + "/", IgnoreRobots: true})
	_, err := f.Crawl(context.Background(), "example.com", audit.CrawlOptions{MaxPages: 5})
	require.ErrorContains(t, err, "homepage fetch failed")
}

func TestCrawlCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newSite(t, map[string]string{"/": page("Home", "")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{BaseURL: srv.URL + "/", IgnoreRobots: true})
	_, err := f.Crawl(ctx, "example.com", audit.CrawlOptions{MaxPages: 5})
	require.Error(t, err)
}

type stubRenderer struct {
	page  headless.Page
	err   error
	calls int
}

func (s *stubRenderer) Render(context.Context, string) (headless.Page, error) {
	s.calls++
	return s.page, s.err
}

func TestCrawlPromotesSPAShell(t *testing.T) {
	t.Parallel()

	srv := newSite(t, map[string]string{"/": `<html><body><div id="__next"></div></body></html>`})
	renderer := &stubRenderer{page: headless.Page{StatusCode: 200, HTML: page("Rendered Title", "")}}

	f := New(Config{BaseURL: srv.URL + "/", IgnoreRobots: true},
		WithRenderer(renderer, headless.NewDetector(0)))
	res, err := f.Crawl(context.Background(), "example.com", audit.CrawlOptions{MaxPages: 1})
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)
	require.True(t, res.Summary.UsedHeadless)
	require.Equal(t, "Rendered Title", res.Summary.Title)
}

func TestCrawlKeepsStaticHTMLWhenRenderFails(t *testing.T) {
	t.Parallel()

	srv := newSite(t, map[string]string{"/": `<html><head><title>Shell</title></head><body><div id="root"></div></body></html>`})
	renderer := &stubRenderer{err: errors.New("chrome missing")}

	f := New(Config{BaseURL: srv.URL + "/", IgnoreRobots: true},
		WithRenderer(renderer, headless.NewDetector(0)))
	res, err := f.Crawl(context.Background(), "example.com", audit.CrawlOptions{MaxPages: 1})
	require.NoError(t, err)
	require.False(t, res.Summary.UsedHeadless)
	require.Equal(t, "Shell", res.Summary.Title)
}
