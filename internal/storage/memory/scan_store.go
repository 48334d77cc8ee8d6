package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Store is an in-memory audit.Store for development and tests.
type Store struct {
	mu      sync.RWMutex
	scans   map[string]audit.ScanRequest
	runs    map[string]audit.AgentRun
	byScan  map[string][]string
	rollups map[string]audit.Rollup
}

var _ audit.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		scans:   make(map[string]audit.ScanRequest),
		runs:    make(map[string]audit.AgentRun),
		byScan:  make(map[string][]string),
		rollups: make(map[string]audit.Rollup),
	}
}

// CreateScan stores a new scan row.
func (s *Store) CreateScan(_ context.Context, scan audit.ScanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scans[scan.ID]; exists {
		return fmt.Errorf("scan %s already exists", scan.ID)
	}
	s.scans[scan.ID] = scan
	return nil
}

// FindActiveScan returns the newest scan with the key and one of statuses.
func (s *Store) FindActiveScan(_ context.Context, key string, statuses []audit.ScanStatus) (audit.ScanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found audit.ScanRequest
		ok    bool
	)
	for _, scan := range s.scans {
		if scan.IdempotencyKey != key || !slices.Contains(statuses, scan.Status) {
			continue
		}
		if !ok || scan.CreatedAt.After(found.CreatedAt) {
			found, ok = scan, true
		}
	}
	if !ok {
		return audit.ScanRequest{}, audit.ErrNotFound
	}
	return found, nil
}

// CompleteScan writes the terminal payload onto a scan.
func (s *Store) CompleteScan(_ context.Context, scanID string, result audit.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return fmt.Errorf("scan %s: %w", scanID, audit.ErrNotFound)
	}
	scan.Status = result.Status
	scan.Findings = result.Findings
	scan.ScoreSummary = result.ScoreSummary
	scan.FullReport = result.FullReport
	scan.ErrorMessage = result.ErrorMessage
	scan.CompletedAt = pointerTime(result.CompletedAt)
	s.scans[scanID] = scan
	return nil
}

// SetReportURI records where the archived report lives.
func (s *Store) SetReportURI(_ context.Context, scanID, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return fmt.Errorf("scan %s: %w", scanID, audit.ErrNotFound)
	}
	scan.ReportURI = uri
	s.scans[scanID] = scan
	return nil
}

// GetScan fetches a scan by ID.
func (s *Store) GetScan(_ context.Context, scanID string) (audit.ScanRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return audit.ScanRequest{}, audit.ErrNotFound
	}
	return scan, nil
}

// StartAgentRun moves a pending agent row to running. Rows past pending are
// left untouched.
func (s *Store) StartAgentRun(_ context.Context, runID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("agent run %s: %w", runID, audit.ErrNotFound)
	}
	if run.Status != audit.AgentStatusPending {
		return nil
	}
	run.Status = audit.AgentStatusRunning
	run.StartedAt = pointerTime(startedAt)
	s.runs[runID] = run
	return nil
}

// InsertAgentRun inserts an agent row in whatever status it carries.
func (s *Store) InsertAgentRun(_ context.Context, run audit.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("agent run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	s.byScan[run.ScanID] = append(s.byScan[run.ScanID], run.ID)
	return nil
}

// CompleteAgentRun moves a pending or running row to its terminal status.
// Rows that are already terminal are left untouched.
func (s *Store) CompleteAgentRun(_ context.Context, runID string, c audit.AgentCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("agent run %s: %w", runID, audit.ErrNotFound)
	}
	if run.Status.Terminal() {
		return nil
	}
	run.Status = c.Status
	run.CompletedAt = pointerTime(c.CompletedAt)
	run.DurationMs = c.DurationMs
	run.ResultSummary = c.ResultSummary
	run.ErrorMessage = c.ErrorMessage
	s.runs[runID] = run
	return nil
}

// ListAgentRuns returns a scan's agent rows in insertion order.
func (s *Store) ListAgentRuns(_ context.Context, scanID string) ([]audit.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byScan[scanID]
	out := make([]audit.AgentRun, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.runs[id])
	}
	return out, nil
}
