package headless

import (
	"bytes"
	"net/http"
	"strings"
)

// Detector decides when a plain HTTP fetch needs a headless re-render.
type Detector struct {
	BodyLengthThreshold int
}

// NewDetector creates a detector. A zero threshold defaults to 2048 bytes.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether the response looks like an unrendered SPA shell.
func (d *Detector) ShouldPromote(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < d.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag; count the remainder as script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
