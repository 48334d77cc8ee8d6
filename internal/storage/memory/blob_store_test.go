package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "reports/scan.json.gz", "application/gzip", bytes.NewBufferString("content"))
	require.NoError(t, err)
	require.Equal(t, "memory://reports/scan.json.gz", uri)

	body, contentType, ok := store.Object("reports/scan.json.gz")
	require.True(t, ok)
	require.Equal(t, "application/gzip", contentType)
	body[0] = 'C'

	again, _, _ := store.Object("reports/scan.json.gz")
	require.Equal(t, "content", string(again))

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}
