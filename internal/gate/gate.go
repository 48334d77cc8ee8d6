// Package gate admits scans, enforcing at most one active scan per domain,
// mode and calendar day unless the caller forces a rerun.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

// Request is one admission attempt.
type Request struct {
	Domain       string
	Mode         audit.Mode
	Force        bool
	LocationHint string
}

// Admission reports which scan the caller should follow.
type Admission struct {
	ScanID         string
	Status         audit.ScanStatus
	IdempotencyKey string
	Deduplicated   bool
}

// Gate is the IdempotencyGate.
type Gate struct {
	store  audit.ScanStore
	clock  audit.Clock
	ids    audit.IDGenerator
	loc    *time.Location
	locks  *stripedLock
	logger *zap.Logger
}

// Option customizes a Gate.
type Option func(*Gate)

// WithLocation sets the zone used to compute the calendar day of a key.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithLockStripes sizes the in-process admission lock table.
func WithLockStripes(n int) Option {
	return func(g *Gate) {
		g.locks = newStripedLock(n)
	}
}

// New constructs a Gate.
func New(store audit.ScanStore, clock audit.Clock, ids audit.IDGenerator, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		store:  store,
		clock:  clock,
		ids:    ids,
		loc:    time.UTC,
		locks:  newStripedLock(64),
		logger: logger.Named("gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key builds the idempotency key for domain and mode on the day containing at.
func Key(domain string, mode audit.Mode, at time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s-%s-%s", domain, mode, at.In(loc).Format(time.DateOnly))
}

// Admit deduplicates against active scans for the same key, or creates a new
// running scan. Store failures are returned wrapped in audit.ErrStoreUnavailable.
func (g *Gate) Admit(ctx context.Context, req Request) (Admission, error) {
	domain, err := audit.NormalizeDomain(req.Domain)
	if err != nil {
		metrics.ObserveAdmission("invalid")
		return Admission{}, err
	}
	if !req.Mode.Valid() {
		metrics.ObserveAdmission("invalid")
		return Admission{}, fmt.Errorf("unknown scan mode %q", req.Mode)
	}

	now := g.clock.Now()
	key := Key(domain, req.Mode, now, g.loc)

	unlock := g.locks.lock(key)
	defer unlock()

	if !req.Force {
		existing, err := g.store.FindActiveScan(ctx, key, audit.ActiveScanStatuses)
		switch {
		case err == nil:
			metrics.ObserveAdmission("deduplicated")
			g.logger.Info("scan deduplicated",
				zap.String("idempotency_key", key),
				zap.String("scan_id", existing.ID),
				zap.String("status", string(existing.Status)),
			)
			return Admission{
				ScanID:         existing.ID,
				Status:         existing.Status,
				IdempotencyKey: key,
				Deduplicated:   true,
			}, nil
		case !errors.Is(err, audit.ErrNotFound):
			metrics.ObserveAdmission("error")
			return Admission{}, fmt.Errorf("%w: lookup %s: %v", audit.ErrStoreUnavailable, key, err)
		}
	}

	id, err := g.ids.NewID()
	if err != nil {
		metrics.ObserveAdmission("error")
		return Admission{}, fmt.Errorf("generate scan id: %w", err)
	}
	scan := audit.ScanRequest{
		ID:             id,
		Domain:         domain,
		Mode:           req.Mode,
		IdempotencyKey: key,
		LocationHint:   req.LocationHint,
		Status:         audit.ScanStatusRunning,
		CreatedAt:      now,
		StartedAt:      &now,
	}
	if err := g.store.CreateScan(ctx, scan); err != nil {
		metrics.ObserveAdmission("error")
		return Admission{}, fmt.Errorf("%w: create scan: %v", audit.ErrStoreUnavailable, err)
	}
	metrics.ObserveAdmission("admitted")
	g.logger.Info("scan admitted",
		zap.String("scan_id", id),
		zap.String("idempotency_key", key),
		zap.Bool("forced", req.Force),
	)
	return Admission{ScanID: id, Status: audit.ScanStatusRunning, IdempotencyKey: key}, nil
}

// Scan returns the admitted row, used by callers that start the pipeline.
func (g *Gate) Scan(ctx context.Context, scanID string) (audit.ScanRequest, error) {
	return g.store.GetScan(ctx, scanID)
}
