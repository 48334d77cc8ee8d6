package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsAwareTransport retries robots.txt fetches that time out and, when they
// keep failing, answers with an allow-all file so the crawl can proceed. The
// fallback is remembered so the crawl can report it.
type robotsAwareTransport struct {
	base  http.RoundTripper
	state *robotsProbeState
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.state == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.state.roundTripWithRetry(req, t.base)
}

func isRobotsTxtRequest(req *http.Request) bool {
	return req.URL != nil && strings.EqualFold(req.URL.Path, "/robots.txt")
}

type robotsProbeState struct {
	mu            sync.Mutex
	indeterminate bool
	reason        string
}

func (s *robotsProbeState) fallback() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indeterminate, s.reason
}

func (s *robotsProbeState) roundTripWithRetry(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := range maxAttempts {
		resp, err := base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientError(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			s.mu.Lock()
			s.indeterminate = true
			s.reason = err.Error()
			s.mu.Unlock()
			return syntheticAllowAll(req), nil
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, fmt.Errorf("robots roundtrip exhausted retries")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func syntheticAllowAll(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
