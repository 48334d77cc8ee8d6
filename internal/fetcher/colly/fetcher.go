// Package collyfetcher crawls a site with gocolly and audits the pages it finds.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/fetcher/headless"
	contenthash "github.com/JakeFAU/site-audit/internal/hash/sha256"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	IgnoreRobots bool
	Timeout      time.Duration
	Parallelism  int
	Delay        time.Duration
	// BaseURL replaces https://<domain>/ as the crawl entry point.
	BaseURL string
}

// Renderer re-renders a page in a browser.
type Renderer interface {
	Render(ctx context.Context, url string) (headless.Page, error)
}

// Promoter decides whether a fetched homepage needs rendering.
type Promoter interface {
	ShouldPromote(status int, body []byte) bool
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRenderer enables headless promotion of the homepage.
func WithRenderer(r Renderer, p Promoter) Option {
	return func(f *Fetcher) {
		f.renderer = r
		f.promoter = p
	}
}

// WithLogger sets the fetcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// Fetcher implements audit.CrawlFetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	renderer  Renderer
	promoter  Promoter
	hasher    *contenthash.Hasher
	logger    *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		hasher:    contenthash.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type fetchedPage struct {
	url    string
	status int
	body   []byte
	depth  int
}

// crawlState is shared by the collector callbacks, which run concurrently.
type crawlState struct {
	mu         sync.Mutex
	requested  int
	maxPages   int
	pages      []fetchedPage
	errorPages []string
	home       *fetchedPage
	homeErr    error
}

// Crawl visits the domain's homepage and internal links up to opts.MaxPages.
// A homepage that cannot be fetched fails the crawl; other page errors become
// findings.
func (f *Fetcher) Crawl(ctx context.Context, domain string, opts audit.CrawlOptions) (audit.CrawlResult, error) {
	entry := f.entryURL(domain)
	entryURL, err := url.Parse(entry)
	if err != nil {
		return audit.CrawlResult{}, fmt.Errorf("parse entry url: %w", err)
	}
	state := &crawlState{maxPages: max(opts.MaxPages, 1)}
	robots := &robotsProbeState{}
	collector := f.buildCollector(ctx, entryURL.Hostname(), robots)
	f.configureHooks(ctx, collector, state)

	if err := runCollector(ctx, collector, entry); err != nil {
		return audit.CrawlResult{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.home == nil {
		if state.homeErr != nil {
			return audit.CrawlResult{}, fmt.Errorf("homepage fetch failed: %w", state.homeErr)
		}
		return audit.CrawlResult{}, errors.New("homepage fetch failed: no response")
	}

	home := *state.home
	usedHeadless := f.maybeRender(ctx, &home)
	return f.buildResult(home, state, robots, usedHeadless)
}

func (f *Fetcher) entryURL(domain string) string {
	if f.cfg.BaseURL != "" {
		return f.cfg.BaseURL
	}
	return audit.HomepageURL(domain)
}

func (f *Fetcher) buildCollector(ctx context.Context, host string, robots *robotsProbeState) *colly.Collector {
	bare := strings.TrimPrefix(host, "www.")
	c := colly.NewCollector(
		colly.Async(true),
		colly.MaxDepth(2),
		colly.AllowedDomains(bare, "www."+bare),
		colly.StdlibContext(ctx),
	)
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = f.cfg.IgnoreRobots
	c.SetRequestTimeout(f.cfg.Timeout)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.cfg.Parallelism,
		Delay:       f.cfg.Delay,
	})
	c.WithTransport(&robotsAwareTransport{base: f.transport, state: robots})
	return c
}

func (f *Fetcher) configureHooks(ctx context.Context, c *colly.Collector, state *crawlState) {
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.requested >= state.maxPages {
			r.Abort()
			return
		}
		state.requested++
	})

	c.OnResponse(func(r *colly.Response) {
		page := fetchedPage{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
			depth:  r.Request.Depth,
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		if page.depth == 1 && state.home == nil {
			state.home = &page
			return
		}
		if isHTML(r.Headers.Get("Content-Type")) {
			state.pages = append(state.pages, page)
		}
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		// Visit errors cover already-visited, off-site and too-deep links.
		_ = e.Request.Visit(e.Attr("href"))
	})

	c.OnError(func(r *colly.Response, err error) {
		state.mu.Lock()
		defer state.mu.Unlock()
		if r == nil || r.Request == nil {
			return
		}
		if r.Request.Depth == 1 {
			if state.homeErr == nil {
				state.homeErr = err
			}
			return
		}
		if r.StatusCode >= http.StatusBadRequest {
			state.errorPages = append(state.errorPages, r.Request.URL.String())
		}
	})
}

func (f *Fetcher) maybeRender(ctx context.Context, home *fetchedPage) bool {
	if f.renderer == nil || f.promoter == nil || !f.promoter.ShouldPromote(home.status, home.body) {
		return false
	}
	page, err := f.renderer.Render(ctx, home.url)
	if err != nil {
		f.logger.Warn("headless render failed; using static html", zap.String("url", home.url), zap.Error(err))
		return false
	}
	home.body = []byte(page.HTML)
	if page.StatusCode != 0 {
		home.status = page.StatusCode
	}
	return true
}

func (f *Fetcher) buildResult(
	home fetchedPage,
	state *crawlState,
	robots *robotsProbeState,
	usedHeadless bool,
) (audit.CrawlResult, error) {
	homeFacts, err := analyzePage(home.url, home.body, true)
	if err != nil {
		return audit.CrawlResult{}, err
	}
	facts := []pageFacts{homeFacts}
	for _, p := range state.pages {
		pf, err := analyzePage(p.url, p.body, false)
		if err != nil {
			f.logger.Debug("skipping unparsable page", zap.String("url", p.url), zap.Error(err))
			continue
		}
		facts = append(facts, pf)
	}

	findings := aggregateFindings(facts, state.errorPages)
	if indeterminate, reason := robots.fallback(); indeterminate {
		findings = append(findings, audit.Finding{
			ID:          "crawl:robots_indeterminate",
			RuleID:      "robots_indeterminate",
			Title:       "robots.txt Unreachable",
			Description: "robots.txt could not be fetched (" + reason + "); the crawl assumed everything was allowed.",
			Severity:    audit.SeverityInfo,
			Category:    audit.CategoryDataQuality,
			Source:      string(audit.AgentCrawl),
		})
	}

	return audit.CrawlResult{
		OK:       true,
		HTML:     string(home.body),
		URL:      home.url,
		Findings: findings,
		Summary: audit.CrawlSummary{
			Title:         homeFacts.title,
			Description:   homeFacts.description,
			StatusCode:    home.status,
			ErrorPages:    len(state.errorPages),
			UsedHeadless:  usedHeadless,
			ContentSHA256: f.hasher.Hash(home.body),
		},
		PagesCrawled: len(facts),
	}, nil
}

func runCollector(ctx context.Context, c *colly.Collector, entry string) error {
	done := make(chan error, 1)
	go func() {
		err := c.Visit(entry)
		c.Wait()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("crawl canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func isHTML(contentType string) bool {
	return contentType == "" || strings.Contains(strings.ToLower(contentType), "html")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
