package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// StartAgentRun moves a pending agent row to running.
func (s *Store) StartAgentRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE agent_runs SET status = 'running', started_at = ?
WHERE id = ? AND status = 'pending'`, formatTime(startedAt), runID)
	if err != nil {
		return fmt.Errorf("start agent run: %w", err)
	}
	return nil
}

// InsertAgentRun inserts an agent row in whatever status it carries.
func (s *Store) InsertAgentRun(ctx context.Context, run audit.AgentRun) error {
	summary, err := marshalNullable(run.ResultSummary, run.ResultSummary == nil)
	if err != nil {
		return fmt.Errorf("marshal result summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO agent_runs (id, scan_id, agent, mode, status, started_at, completed_at, duration_ms, result_summary, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScanID, string(run.Agent), string(run.Mode), string(run.Status),
		formatTimePtr(run.StartedAt), formatTimePtr(run.CompletedAt), run.DurationMs, summary, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

// CompleteAgentRun moves a pending or running row to its terminal status.
func (s *Store) CompleteAgentRun(ctx context.Context, runID string, c audit.AgentCompletion) error {
	summary, err := marshalNullable(c.ResultSummary, c.ResultSummary == nil)
	if err != nil {
		return fmt.Errorf("marshal result summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE agent_runs
SET status = ?, completed_at = ?, duration_ms = ?, result_summary = ?, error_message = ?
WHERE id = ? AND status IN ('pending', 'running')`,
		string(c.Status), formatTime(c.CompletedAt), c.DurationMs, summary, c.ErrorMessage, runID)
	if err != nil {
		return fmt.Errorf("complete agent run: %w", err)
	}
	return nil
}

// ListAgentRuns returns a scan's agent rows ordered by ID.
func (s *Store) ListAgentRuns(ctx context.Context, scanID string) ([]audit.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, scan_id, agent, mode, status, started_at, completed_at, duration_ms, result_summary, error_message
FROM agent_runs WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []audit.AgentRun
	for rows.Next() {
		var (
			run                         audit.AgentRun
			agent, mode, status         string
			started, completed, summary sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.ScanID, &agent, &mode, &status,
			&started, &completed, &run.DurationMs, &summary, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		run.Agent = audit.AgentName(agent)
		run.Mode = audit.Mode(mode)
		run.Status = audit.AgentStatus(status)
		if run.StartedAt, err = parseTimePtr(started); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseTimePtr(completed); err != nil {
			return nil, err
		}
		if summary.Valid {
			if err := json.Unmarshal([]byte(summary.String), &run.ResultSummary); err != nil {
				return nil, fmt.Errorf("decode result summary: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent runs: %w", err)
	}
	return runs, nil
}
