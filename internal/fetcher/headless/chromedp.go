// Package headless renders JavaScript-heavy pages with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ErrDisabled is returned by Noop renderers.
var ErrDisabled = errors.New("headless renderer not configured")

// Page is the rendered DOM of one navigation.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
}

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Renderer drives a shared Chrome allocator, bounded by a slot semaphore.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer backed by chromedp.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser allocator.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to url and returns the DOM once the body is ready.
func (r *Renderer) Render(ctx context.Context, url string) (Page, error) {
	if err := r.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Tie the browser tab to the caller's cancellation as well.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html, finalURL string
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return Page{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, pageURL := meta.snapshotWithFallbacks(url, finalURL)
	return Page{URL: pageURL, StatusCode: status, HTML: html}, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	// First document response is the navigation itself; later ones are frames.
	if m.status == 0 {
		m.status = int(event.Response.Status)
		m.url = event.Response.URL
	}
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

// Noop never renders; it stands in when headless rendering is disabled.
type Noop struct{}

// Render always fails with ErrDisabled.
func (Noop) Render(context.Context, string) (Page, error) {
	return Page{}, ErrDisabled
}
