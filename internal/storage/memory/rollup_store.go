package memory

import (
	"context"
	"slices"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// MergeRollup applies a scan's delta under the store lock. Latest fields only
// move forward in time so out-of-order merges converge.
func (s *Store) MergeRollup(_ context.Context, d audit.RollupDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollups[d.Domain]
	if !ok {
		s.rollups[d.Domain] = audit.Rollup{
			Domain:       d.Domain,
			LatestScanID: d.ScanID,
			ScanMode:     d.Mode,
			Scores:       d.Scores,
			ScanCount:    1,
			ScoreTrend:   []audit.TrendPoint{d.Point},
			FirstScanAt:  d.ScannedAt,
			LatestScanAt: d.ScannedAt,
		}
		return nil
	}
	r.ScanCount++
	r.ScoreTrend = append(slices.Clone(r.ScoreTrend), d.Point)
	if !d.ScannedAt.Before(r.LatestScanAt) {
		r.LatestScanID = d.ScanID
		r.ScanMode = d.Mode
		r.Scores = d.Scores
		r.LatestScanAt = d.ScannedAt
	}
	if d.ScannedAt.Before(r.FirstScanAt) {
		r.FirstScanAt = d.ScannedAt
	}
	s.rollups[d.Domain] = r
	return nil
}

// GetRollup returns a copy of a domain's rollup.
func (s *Store) GetRollup(_ context.Context, domain string) (audit.Rollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rollups[domain]
	if !ok {
		return audit.Rollup{}, audit.ErrNotFound
	}
	r.ScoreTrend = slices.Clone(r.ScoreTrend)
	return r, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
