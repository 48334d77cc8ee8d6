package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf      bytes.Buffer
	closeErr error
	closed   bool
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func newFakeStore(w *fakeWriter, gotObject, gotType *string) *BlobStore {
	return &BlobStore{
		bucket: "reports",
		newWriter: func(_ context.Context, object, contentType string) io.WriteCloser {
			*gotObject, *gotType = object, contentType
			return w
		},
	}
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	var object, contentType string
	store := newFakeStore(w, &object, &contentType)

	uri, err := store.PutObject(context.Background(), "/scans/example.com/r.json.gz", "application/gzip", strings.NewReader("data"))
	require.NoError(t, err)
	require.Equal(t, "gs://reports/scans/example.com/r.json.gz", uri)
	require.Equal(t, "scans/example.com/r.json.gz", object)
	require.Equal(t, "application/gzip", contentType)
	require.Equal(t, "data", w.buf.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var object, contentType string
	_, err := newFakeStore(&fakeWriter{}, &object, &contentType).PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")

	w := &fakeWriter{}
	_, err = newFakeStore(w, &object, &contentType).PutObject(context.Background(), "a", "", errReader{})
	require.ErrorContains(t, err, "disk gone")
	require.True(t, w.closed)

	w = &fakeWriter{closeErr: errors.New("precondition failed")}
	_, err = newFakeStore(w, &object, &contentType).PutObject(context.Background(), "a", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "precondition failed")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
