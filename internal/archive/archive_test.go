package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/storage/memory"
)

type brokenBlobs struct{}

func (brokenBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	a := New(blobs, "/reports/")
	report := audit.Report{
		ScanID:      "scan-1",
		Domain:      "example.com",
		Mode:        audit.ModeFull,
		GeneratedAt: time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC),
		Summary:     audit.ScoreSummary{Overall: 71},
		Findings:    []audit.Finding{{ID: "f1", Title: "Missing Title"}},
	}

	uri, err := a.Store(context.Background(), report)
	require.NoError(t, err)
	require.Equal(t, "memory://reports/example.com/2025-06-02/scan-1.json.gz", uri)

	data, contentType, ok := blobs.Object("reports/example.com/2025-06-02/scan-1.json.gz")
	require.True(t, ok)
	require.Equal(t, ContentType, contentType)

	got, err := Load(data)
	require.NoError(t, err)
	require.Equal(t, 71, got.Summary.Overall)
	require.Equal(t, "Missing Title", got.Findings[0].Title)
	require.True(t, got.GeneratedAt.Equal(report.GeneratedAt))
}

func TestStoreUploadError(t *testing.T) {
	t.Parallel()

	_, err := New(brokenBlobs{}, "").Store(context.Background(), audit.Report{ScanID: "s", Domain: "d.com"})
	require.ErrorContains(t, err, "bucket missing")
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Load([]byte("not gzip"))
	require.Error(t, err)
}
