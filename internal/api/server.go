package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/config"
	"github.com/JakeFAU/site-audit/internal/gate"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/pipeline"
)

// Admitter decides whether a scan request starts a new scan.
type Admitter interface {
	Admit(ctx context.Context, req gate.Request) (gate.Admission, error)
}

// Orchestrator runs an admitted scan to a terminal status.
type Orchestrator interface {
	Orchestrate(ctx context.Context, scanID, domain string, mode audit.Mode, locationHint string) (pipeline.Result, error)
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the admission gate and the pipeline.
type Server struct {
	router       chi.Router
	admitter     Admitter
	orchestrator Orchestrator
	progress     *ProgressHandler
	pinger       Pinger
	validate     *requestValidator
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes. pinger may be nil.
func NewServer(
	admitter Admitter,
	orchestrator Orchestrator,
	reader ScanReader,
	pinger Pinger,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		admitter:     admitter,
		orchestrator: orchestrator,
		progress:     NewProgressHandler(reader, logger),
		pinger:       pinger,
		validate:     newRequestValidator(),
		logger:       logger,
	}
	timeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(timeoutMiddleware(timeout))
		r.Post("/scans", s.submitScan)
		r.Route("/scans/{scan_id}", func(r chi.Router) {
			r.Get("/", s.progress.GetScan)
			r.Get("/agents", s.progress.ListAgentRuns)
		})
		r.Get("/rollups/{domain}", s.progress.GetRollup)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scanRequest struct {
	URL          string `json:"url" validate:"required,max=2048"`
	Mode         string `json:"mode" validate:"omitempty,oneof=light full"`
	Force        bool   `json:"force"`
	LocationHint string `json:"location_hint" validate:"max=120"`
}

type scanResponse struct {
	ScanID         string              `json:"scan_id"`
	Status         audit.ScanStatus    `json:"status"`
	Deduplicated   bool                `json:"deduplicated"`
	IdempotencyKey string              `json:"idempotency_key"`
	ScoreSummary   *audit.ScoreSummary `json:"score_summary,omitempty"`
	ReportURI      string              `json:"report_uri,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// submitScan admits a scan and, when it is new, runs the pipeline before
// answering. Deduplicated requests answer immediately with the existing scan.
func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := audit.Mode(req.Mode)
	if mode == "" {
		mode = audit.ModeLight
	}

	adm, err := s.admitter.Admit(r.Context(), gate.Request{
		Domain:       req.URL,
		Mode:         mode,
		Force:        req.Force,
		LocationHint: req.LocationHint,
	})
	if err != nil {
		s.writeDomainError(w, "admit scan", err)
		return
	}
	resp := scanResponse{
		ScanID:         adm.ScanID,
		Status:         adm.Status,
		Deduplicated:   adm.Deduplicated,
		IdempotencyKey: adm.IdempotencyKey,
	}
	if adm.Deduplicated {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	domain, err := audit.NormalizeDomain(req.URL)
	if err != nil {
		s.writeDomainError(w, "normalize domain", err)
		return
	}
	// The scan runs to completion even if the caller goes away.
	res, err := s.orchestrator.Orchestrate(context.WithoutCancel(r.Context()), adm.ScanID, domain, mode, req.LocationHint)
	if err != nil {
		s.writeDomainError(w, "orchestrate scan", err)
		return
	}
	resp.Status = res.Status
	resp.ScoreSummary = res.Summary
	resp.ReportURI = res.ReportURI
	resp.Error = res.Error
	writeJSON(w, http.StatusCreated, resp)
}

// writeDomainError maps pipeline sentinel errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, audit.ErrInvalidDomain):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, audit.ErrStoreUnavailable):
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request timed out")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
