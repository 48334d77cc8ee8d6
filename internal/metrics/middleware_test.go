package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/scans/{scan_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	beforeOK := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	beforeTeapot := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))

	for _, path := range []string{"/v1/scans/abc", "/teapot"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, beforeOK+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	require.Equal(t, beforeTeapot+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")))
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
