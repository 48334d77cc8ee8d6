// Package postgres provides Postgres-backed persistence for scans, agent runs
// and domain rollups.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-audit/internal/audit"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements audit.Store on Postgres.
type Store struct {
	pool pool
}

var _ audit.Store = (*Store)(nil)

// New connects a pgxpool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateScan inserts a new scan row.
func (s *Store) CreateScan(ctx context.Context, scan audit.ScanRequest) error {
	const query = `
INSERT INTO scan_requests (
	id, domain, mode, idempotency_key, location_hint, status, created_at, started_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		scan.ID,
		scan.Domain,
		string(scan.Mode),
		scan.IdempotencyKey,
		scan.LocationHint,
		string(scan.Status),
		scan.CreatedAt,
		scan.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

const scanColumns = `id, domain, mode, idempotency_key, location_hint, status, findings, score_summary,
	full_report, report_uri, error_message, created_at, started_at, completed_at`

// FindActiveScan returns the newest scan with the key and one of statuses.
func (s *Store) FindActiveScan(ctx context.Context, key string, statuses []audit.ScanStatus) (audit.ScanRequest, error) {
	query := `SELECT ` + scanColumns + `
FROM scan_requests
WHERE idempotency_key = $1 AND status = ANY($2)
ORDER BY created_at DESC
LIMIT 1`
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	scan, err := scanRow(s.pool.QueryRow(ctx, query, key, names))
	if err != nil {
		return audit.ScanRequest{}, fmt.Errorf("find active scan: %w", err)
	}
	return scan, nil
}

// GetScan fetches one scan by ID.
func (s *Store) GetScan(ctx context.Context, scanID string) (audit.ScanRequest, error) {
	query := `SELECT ` + scanColumns + ` FROM scan_requests WHERE id = $1`
	scan, err := scanRow(s.pool.QueryRow(ctx, query, scanID))
	if err != nil {
		return audit.ScanRequest{}, fmt.Errorf("get scan: %w", err)
	}
	return scan, nil
}

// CompleteScan writes the terminal payload onto a scan.
func (s *Store) CompleteScan(ctx context.Context, scanID string, result audit.ScanResult) error {
	findings, err := marshalNullable(result.Findings, result.Findings == nil)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	summary, err := marshalNullable(result.ScoreSummary, result.ScoreSummary == nil)
	if err != nil {
		return fmt.Errorf("marshal score summary: %w", err)
	}
	report, err := marshalNullable(result.FullReport, result.FullReport == nil)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	const query = `
UPDATE scan_requests
SET status = $1, findings = $2, score_summary = $3, full_report = $4, error_message = $5, completed_at = $6
WHERE id = $7`
	tag, err := s.pool.Exec(ctx, query,
		string(result.Status), findings, summary, report, result.ErrorMessage, result.CompletedAt, scanID)
	if err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete scan %s: %w", scanID, audit.ErrNotFound)
	}
	return nil
}

// SetReportURI records where the archived report lives.
func (s *Store) SetReportURI(ctx context.Context, scanID, uri string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scan_requests SET report_uri = $1 WHERE id = $2`, uri, scanID)
	if err != nil {
		return fmt.Errorf("set report uri: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set report uri %s: %w", scanID, audit.ErrNotFound)
	}
	return nil
}

func scanRow(row pgx.Row) (audit.ScanRequest, error) {
	var (
		scan                      audit.ScanRequest
		mode, status              string
		findings, summary, report []byte
	)
	err := row.Scan(
		&scan.ID,
		&scan.Domain,
		&mode,
		&scan.IdempotencyKey,
		&scan.LocationHint,
		&status,
		&findings,
		&summary,
		&report,
		&scan.ReportURI,
		&scan.ErrorMessage,
		&scan.CreatedAt,
		&scan.StartedAt,
		&scan.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.ScanRequest{}, audit.ErrNotFound
		}
		return audit.ScanRequest{}, err
	}
	scan.Mode = audit.Mode(mode)
	scan.Status = audit.ScanStatus(status)
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &scan.Findings); err != nil {
			return audit.ScanRequest{}, fmt.Errorf("decode findings: %w", err)
		}
	}
	if len(summary) > 0 {
		scan.ScoreSummary = &audit.ScoreSummary{}
		if err := json.Unmarshal(summary, scan.ScoreSummary); err != nil {
			return audit.ScanRequest{}, fmt.Errorf("decode score summary: %w", err)
		}
	}
	if len(report) > 0 {
		scan.FullReport = &audit.Report{}
		if err := json.Unmarshal(report, scan.FullReport); err != nil {
			return audit.ScanRequest{}, fmt.Errorf("decode report: %w", err)
		}
	}
	return scan, nil
}

func marshalNullable(v any, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}
