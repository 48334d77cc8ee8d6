package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// The merge is a single statement so concurrent scans of one domain never
// lose a count or a trend point. Latest fields move only forward in time.
const mergeRollupSQL = `
INSERT INTO domain_rollups (
	domain, latest_scan_id, scan_mode, scores, scan_count, score_trend, first_scan_at, latest_scan_at
) VALUES ($1, $2, $3, $4, 1, jsonb_build_array($5::jsonb), $6, $6)
ON CONFLICT (domain) DO UPDATE SET
	scan_count     = domain_rollups.scan_count + 1,
	score_trend    = domain_rollups.score_trend || EXCLUDED.score_trend,
	first_scan_at  = LEAST(domain_rollups.first_scan_at, EXCLUDED.first_scan_at),
	latest_scan_id = CASE WHEN EXCLUDED.latest_scan_at >= domain_rollups.latest_scan_at
		THEN EXCLUDED.latest_scan_id ELSE domain_rollups.latest_scan_id END,
	scan_mode      = CASE WHEN EXCLUDED.latest_scan_at >= domain_rollups.latest_scan_at
		THEN EXCLUDED.scan_mode ELSE domain_rollups.scan_mode END,
	scores         = CASE WHEN EXCLUDED.latest_scan_at >= domain_rollups.latest_scan_at
		THEN EXCLUDED.scores ELSE domain_rollups.scores END,
	latest_scan_at = GREATEST(domain_rollups.latest_scan_at, EXCLUDED.latest_scan_at)`

// MergeRollup applies one scan's delta to the domain rollup.
func (s *Store) MergeRollup(ctx context.Context, d audit.RollupDelta) error {
	scores, err := json.Marshal(d.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	point, err := json.Marshal(d.Point)
	if err != nil {
		return fmt.Errorf("marshal trend point: %w", err)
	}
	if _, err := s.pool.Exec(ctx, mergeRollupSQL,
		d.Domain, d.ScanID, string(d.Mode), scores, point, d.ScannedAt); err != nil {
		return fmt.Errorf("merge rollup: %w", err)
	}
	return nil
}

// GetRollup reads a domain's rollup.
func (s *Store) GetRollup(ctx context.Context, domain string) (audit.Rollup, error) {
	const query = `
SELECT domain, latest_scan_id, scan_mode, scores, scan_count, score_trend, first_scan_at, latest_scan_at
FROM domain_rollups
WHERE domain = $1`
	var (
		r             audit.Rollup
		mode          string
		scores, trend []byte
	)
	err := s.pool.QueryRow(ctx, query, domain).Scan(
		&r.Domain,
		&r.LatestScanID,
		&mode,
		&scores,
		&r.ScanCount,
		&trend,
		&r.FirstScanAt,
		&r.LatestScanAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Rollup{}, audit.ErrNotFound
		}
		return audit.Rollup{}, fmt.Errorf("get rollup: %w", err)
	}
	r.ScanMode = audit.Mode(mode)
	if err := json.Unmarshal(scores, &r.Scores); err != nil {
		return audit.Rollup{}, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal(trend, &r.ScoreTrend); err != nil {
		return audit.Rollup{}, fmt.Errorf("decode score trend: %w", err)
	}
	return r, nil
}
