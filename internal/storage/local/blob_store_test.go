package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "reports")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "scans/example.com/2025-06-02/scan-1.json.gz",
		"application/gzip", strings.NewReader("report"))
	require.NoError(t, err)

	want := filepath.Join(base, "scans", "example.com", "2025-06-02", "scan-1.json.gz")
	assert.Equal(t, "file://"+filepath.ToSlash(want), uri)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	assert.ErrorContains(t, err, "path is required")

	_, err = store.PutObject(context.Background(), "../escape.txt", "", strings.NewReader("x"))
	assert.ErrorContains(t, err, "path traversal")
}
