// Package serp queries a SerpApi-compatible search results API.
package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Config controls the SERP client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client implements audit.RankQueryService.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type searchResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Link     string `json:"link"`
		Title    string `json:"title"`
	} `json:"organic_results"`
}

// Query runs one search for keyword near location.
func (c *Client) Query(ctx context.Context, keyword, location string) (audit.SERPResponse, error) {
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("engine", "google")
	q.Set("num", "20")
	if location != "" {
		q.Set("location", location)
	}
	q.Set("api_key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return audit.SERPResponse{}, fmt.Errorf("build serp request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return audit.SERPResponse{}, fmt.Errorf("serp request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audit.SERPResponse{}, fmt.Errorf("serp returned %d: %s", resp.StatusCode, body)
	}
	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return audit.SERPResponse{}, fmt.Errorf("decode serp response: %w", err)
	}
	if payload.Error != "" {
		return audit.SERPResponse{}, fmt.Errorf("serp error: %s", payload.Error)
	}

	out := audit.SERPResponse{OrganicListings: make([]audit.OrganicListing, 0, len(payload.OrganicResults))}
	for i, r := range payload.OrganicResults {
		pos := r.Position
		if pos <= 0 {
			pos = i + 1
		}
		out.OrganicListings = append(out.OrganicListings, audit.OrganicListing{Position: pos, URL: r.Link, Title: r.Title})
	}
	return out, nil
}
