package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// StartAgentRun moves a pending agent row to running.
func (s *Store) StartAgentRun(ctx context.Context, runID string, startedAt time.Time) error {
	const query = `
UPDATE agent_runs
SET status = 'running', started_at = $1
WHERE id = $2 AND status = 'pending'`
	if _, err := s.pool.Exec(ctx, query, startedAt, runID); err != nil {
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
	const query = `
INSERT INTO agent_runs (
	id, scan_id, agent, mode, status, started_at, completed_at, duration_ms, result_summary, error_message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		run.ScanID,
		string(run.Agent),
		string(run.Mode),
		string(run.Status),
		run.StartedAt,
		run.CompletedAt,
		run.DurationMs,
		summary,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

// CompleteAgentRun moves a pending or running row to its terminal status.
// Terminal rows are never rewritten; a zero row count is not an error.
func (s *Store) CompleteAgentRun(ctx context.Context, runID string, c audit.AgentCompletion) error {
	summary, err := marshalNullable(c.ResultSummary, c.ResultSummary == nil)
	if err != nil {
		return fmt.Errorf("marshal result summary: %w", err)
	}
	const query = `
UPDATE agent_runs
SET status = $1, completed_at = $2, duration_ms = $3, result_summary = $4, error_message = $5
WHERE id = $6 AND status IN ('pending', 'running')`
	if _, err := s.pool.Exec(ctx, query,
		string(c.Status), c.CompletedAt, c.DurationMs, summary, c.ErrorMessage, runID); err != nil {
		return fmt.Errorf("complete agent run: %w", err)
	}
	return nil
}

// ListAgentRuns returns a scan's agent rows ordered by ID (UUIDv7, so by start).
func (s *Store) ListAgentRuns(ctx context.Context, scanID string) ([]audit.AgentRun, error) {
	const query = `
SELECT id, scan_id, agent, mode, status, started_at, completed_at, duration_ms, result_summary, error_message
FROM agent_runs
WHERE scan_id = $1
ORDER BY id`
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []audit.AgentRun
	for rows.Next() {
		var (
			run                   audit.AgentRun
			agent, mode, status   string
			startedAt, finishedAt *time.Time
			summary               []byte
		)
		if err := rows.Scan(
			&run.ID,
			&run.ScanID,
			&agent,
			&mode,
			&status,
			&startedAt,
			&finishedAt,
			&run.DurationMs,
			&summary,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		run.Agent = audit.AgentName(agent)
		run.Mode = audit.Mode(mode)
		run.Status = audit.AgentStatus(status)
		run.StartedAt = startedAt
		run.CompletedAt = finishedAt
		if len(summary) > 0 {
			if err := json.Unmarshal(summary, &run.ResultSummary); err != nil {
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
