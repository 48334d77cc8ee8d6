package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/site-audit/internal/audit"
)

const mergeRollupSQL = `
INSERT INTO domain_rollups (
	domain, latest_scan_id, scan_mode, scores, scan_count, score_trend, first_scan_at, latest_scan_at
) VALUES (?1, ?2, ?3, ?4, 1, json_array(json(?5)), ?6, ?6)
ON CONFLICT (domain) DO UPDATE SET
	scan_count     = domain_rollups.scan_count + 1,
	score_trend    = json_insert(domain_rollups.score_trend, '$[#]', json(?5)),
	first_scan_at  = min(domain_rollups.first_scan_at, excluded.first_scan_at),
	latest_scan_id = CASE WHEN excluded.latest_scan_at >= domain_rollups.latest_scan_at
		THEN excluded.latest_scan_id ELSE domain_rollups.latest_scan_id END,
	scan_mode      = CASE WHEN excluded.latest_scan_at >= domain_rollups.latest_scan_at
		THEN excluded.scan_mode ELSE domain_rollups.scan_mode END,
	scores         = CASE WHEN excluded.latest_scan_at >= domain_rollups.latest_scan_at
		THEN excluded.scores ELSE domain_rollups.scores END,
	latest_scan_at = max(domain_rollups.latest_scan_at, excluded.latest_scan_at)`

// MergeRollup applies one scan's delta to the domain rollup in one statement.
func (s *Store) MergeRollup(ctx context.Context, d audit.RollupDelta) error {
	scores, err := json.Marshal(d.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	point, err := json.Marshal(d.Point)
	if err != nil {
		return fmt.Errorf("marshal trend point: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, mergeRollupSQL,
		d.Domain, d.ScanID, string(d.Mode), string(scores), string(point), formatTime(d.ScannedAt)); err != nil {
		return fmt.Errorf("merge rollup: %w", err)
	}
	return nil
}

// GetRollup reads a domain's rollup.
func (s *Store) GetRollup(ctx context.Context, domain string) (audit.Rollup, error) {
	var (
		r                     audit.Rollup
		mode, scores, trend   string
		firstScan, latestScan string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT domain, latest_scan_id, scan_mode, scores, scan_count, score_trend, first_scan_at, latest_scan_at
FROM domain_rollups WHERE domain = ?`, domain).Scan(
		&r.Domain, &r.LatestScanID, &mode, &scores, &r.ScanCount, &trend, &firstScan, &latestScan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Rollup{}, audit.ErrNotFound
		}
		return audit.Rollup{}, fmt.Errorf("get rollup: %w", err)
	}
	r.ScanMode = audit.Mode(mode)
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return audit.Rollup{}, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal([]byte(trend), &r.ScoreTrend); err != nil {
		return audit.Rollup{}, fmt.Errorf("decode score trend: %w", err)
	}
	if r.FirstScanAt, err = parseTime(firstScan); err != nil {
		return audit.Rollup{}, err
	}
	if r.LatestScanAt, err = parseTime(latestScan); err != nil {
		return audit.Rollup{}, err
	}
	return r, nil
}
