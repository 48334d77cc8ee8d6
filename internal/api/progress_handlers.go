package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
)

const (
	defaultTrendLimit = 30
	maxTrendLimit     = 365
	progressTimeout   = 3 * time.Second
)

// ScanReader is the read side of the scan store.
type ScanReader interface {
	GetScan(ctx context.Context, scanID string) (audit.ScanRequest, error)
	ListAgentRuns(ctx context.Context, scanID string) ([]audit.AgentRun, error)
	GetRollup(ctx context.Context, domain string) (audit.Rollup, error)
}

// ProgressHandler exposes read-only scan progress endpoints.
type ProgressHandler struct {
	reader  ScanReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the reader and logger.
func NewProgressHandler(reader ScanReader, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		reader:  reader,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// GetScan handles GET /v1/scans/{scan_id}. It returns the scan row with its
// findings and score summary, 400 for malformed IDs, 404 for unknown scans,
// or 503 when the store fails.
func (h *ProgressHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "scan store unavailable")
		return
	}
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	scan, err := h.reader.GetScan(ctx, scanID)
	if err != nil {
		h.writeReadError(w, "get scan", err, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// ListAgentRuns handles GET /v1/scans/{scan_id}/agents and returns
// {"scan_id": ..., "agent_runs": [...]} in start order.
func (h *ProgressHandler) ListAgentRuns(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "scan store unavailable")
		return
	}
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.reader.GetScan(ctx, scanID); err != nil {
		h.writeReadError(w, "get scan", err, "scan not found")
		return
	}
	runs, err := h.reader.ListAgentRuns(ctx, scanID)
	if err != nil {
		h.writeReadError(w, "list agent runs", err, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scan_id":    scanID,
		"agent_runs": runs,
	})
}

// GetRollup handles GET /v1/rollups/{domain}?limit=. The trend is trimmed to
// the most recent limit points.
func (h *ProgressHandler) GetRollup(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "scan store unavailable")
		return
	}
	domain, err := audit.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultTrendLimit, maxTrendLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rollup, err := h.reader.GetRollup(ctx, domain)
	if err != nil {
		h.writeReadError(w, "get rollup", err, "rollup not found")
		return
	}
	if n := len(rollup.ScoreTrend); n > limit {
		rollup.ScoreTrend = rollup.ScoreTrend[n-limit:]
	}
	writeJSON(w, http.StatusOK, rollup)
}

func (h *ProgressHandler) writeReadError(w http.ResponseWriter, op string, err error, notFound string) {
	if errors.Is(err, audit.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "scan store unavailable")
}

func parseScanID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "scan_id")
	if raw == "" {
		return "", errors.New("scan_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.New("invalid scan_id")
	}
	return id.String(), nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
