// Package archive writes gzipped JSON scan reports to a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// ContentType is set on every archived report.
const ContentType = "application/gzip"

// Archiver stores reports under <prefix>/<domain>/<date>/<scan_id>.json.gz.
type Archiver struct {
	blobs  audit.BlobStore
	prefix string
}

// New constructs an Archiver.
func New(blobs audit.BlobStore, prefix string) *Archiver {
	return &Archiver{blobs: blobs, prefix: strings.Trim(prefix, "/")}
}

// Store compresses report and uploads it, returning the blob URI.
func (a *Archiver) Store(ctx context.Context, report audit.Report) (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("gzip writer: %w", err)
	}
	zw.Name = report.ScanID + ".json"
	zw.ModTime = report.GeneratedAt
	if err := json.NewEncoder(zw).Encode(report); err != nil {
		_ = zw.Close()
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("close gzip writer: %w", err)
	}

	uri, err := a.blobs.PutObject(ctx, a.Path(report), ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return uri, nil
}

// Path is the object path a report is stored under.
func (a *Archiver) Path(report audit.Report) string {
	day := report.GeneratedAt.UTC().Format(time.DateOnly)
	return path.Join(a.prefix, report.Domain, day, report.ScanID+".json.gz")
}

// Load decodes an archived report.
func Load(data []byte) (audit.Report, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return audit.Report{}, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = zr.Close() }()
	var report audit.Report
	if err := json.NewDecoder(zr).Decode(&report); err != nil {
		return audit.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
