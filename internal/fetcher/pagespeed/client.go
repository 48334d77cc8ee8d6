// Package pagespeed measures page performance through a PageSpeed Insights
// compatible API.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// DefaultEndpoint is Google's public PageSpeed Insights v5 API.
const DefaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

const maxRecommendations = 10

// Config controls the PSI client.
type Config struct {
	Endpoint string
	APIKey   string
	// Strategy is "mobile" or "desktop".
	Strategy string
	Timeout  time.Duration
}

// Client implements audit.PerformanceFetcher.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "mobile"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type psiResponse struct {
	LighthouseResult struct {
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]psiAudit `json:"audits"`
	} `json:"lighthouseResult"`
	LoadingExperience struct {
		Metrics map[string]struct {
			Percentile float64 `json:"percentile"`
		} `json:"metrics"`
	} `json:"loadingExperience"`
}

type psiAudit struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Score        *float64 `json:"score"`
	NumericValue *float64 `json:"numericValue"`
	Details      struct {
		Type             string  `json:"type"`
		OverallSavingsMs float64 `json:"overallSavingsMs"`
	} `json:"details"`
}

// Measure runs a lab measurement of the domain's homepage. The returned score
// is scaled to 0-100.
func (c *Client) Measure(ctx context.Context, domain string) (audit.PerformanceResult, error) {
	q := url.Values{}
	q.Set("url", audit.HomepageURL(domain))
	q.Set("strategy", c.cfg.Strategy)
	q.Set("category", "performance")
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return audit.PerformanceResult{}, fmt.Errorf("build pagespeed request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return audit.PerformanceResult{}, fmt.Errorf("pagespeed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audit.PerformanceResult{}, fmt.Errorf("pagespeed returned %d: %s", resp.StatusCode, body)
	}
	var payload psiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return audit.PerformanceResult{}, fmt.Errorf("decode pagespeed response: %w", err)
	}
	return toResult(payload), nil
}

func toResult(p psiResponse) audit.PerformanceResult {
	var out audit.PerformanceResult
	if s := p.LighthouseResult.Categories.Performance.Score; s != nil {
		scaled := *s * 100
		out.Score = &scaled
	}
	audits := p.LighthouseResult.Audits
	out.CoreWebVitals = audit.CoreWebVitals{
		LCPMs:  numeric(audits, "largest-contentful-paint"),
		CLS:    numeric(audits, "cumulative-layout-shift"),
		FCPMs:  numeric(audits, "first-contentful-paint"),
		TTFBMs: numeric(audits, "server-response-time"),
	}
	if m, ok := p.LoadingExperience.Metrics["INTERACTION_TO_NEXT_PAINT"]; ok {
		inp := m.Percentile
		out.CoreWebVitals.INPMs = &inp
	}

	for id, a := range audits {
		if a.Details.Type != "opportunity" || a.Score == nil || *a.Score >= 0.9 {
			continue
		}
		out.Recommendations = append(out.Recommendations, audit.PerformanceRecommendation{
			ID:            id,
			Title:         a.Title,
			SavingsMs:     a.Details.OverallSavingsMs,
			AuditScoreRaw: *a.Score,
		})
	}
	sort.Slice(out.Recommendations, func(i, j int) bool {
		ri, rj := out.Recommendations[i], out.Recommendations[j]
		if ri.SavingsMs != rj.SavingsMs {
			return ri.SavingsMs > rj.SavingsMs
		}
		return ri.ID < rj.ID
	})
	if len(out.Recommendations) > maxRecommendations {
		out.Recommendations = out.Recommendations[:maxRecommendations]
	}
	return out
}

func numeric(audits map[string]psiAudit, id string) *float64 {
	a, ok := audits[id]
	if !ok || a.NumericValue == nil {
		return nil
	}
	v := *a.NumericValue
	return &v
}
