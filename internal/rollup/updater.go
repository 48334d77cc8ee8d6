// Package rollup keeps the per-domain score history current.
package rollup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Updater merges completed scans into domain rollups.
type Updater struct {
	store  audit.RollupStore
	clock  audit.Clock
	loc    *time.Location
	logger *zap.Logger
}

// New constructs an Updater. Trend dates are calendar days in loc.
func New(store audit.RollupStore, clock audit.Clock, loc *time.Location, logger *zap.Logger) *Updater {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{store: store, clock: clock, loc: loc, logger: logger.Named("rollup")}
}

// Merge applies one scan to its domain's rollup. It reports whether the merge
// was stored; failures are logged and never returned.
func (u *Updater) Merge(ctx context.Context, domain, scanID string, mode audit.Mode, scores audit.CategoryScores) bool {
	now := u.clock.Now()
	delta := audit.RollupDelta{
		Domain: domain,
		ScanID: scanID,
		Mode:   mode,
		Scores: scores,
		Point: audit.TrendPoint{
			Date:   now.In(u.loc).Format(time.DateOnly),
			Score:  scores.Overall,
			ScanID: scanID,
			Mode:   mode,
		},
		ScannedAt: now.UTC(),
	}
	if err := u.store.MergeRollup(ctx, delta); err != nil {
		u.logger.Warn("rollup merge failed",
			zap.String("domain", domain),
			zap.String("scan_id", scanID),
			zap.Error(err),
		)
		return false
	}
	u.logger.Debug("rollup merged", zap.String("domain", domain), zap.String("scan_id", scanID))
	return true
}
