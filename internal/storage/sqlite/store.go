// Package sqlite is a single-file durable audit.Store for the CLI and small
// deployments, built on the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/site-audit/internal/audit"
)

//go:embed schema.sql
var schemaSQL string

// Timestamps are stored as fixed-width UTC text so string comparison in SQL
// matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements audit.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ audit.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// concurrent agents of the same scan.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database handle for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateScan inserts a new scan row.
func (s *Store) CreateScan(ctx context.Context, scan audit.ScanRequest) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scan_requests (id, domain, mode, idempotency_key, location_hint, status, created_at, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID, scan.Domain, string(scan.Mode), scan.IdempotencyKey, scan.LocationHint,
		string(scan.Status), formatTime(scan.CreatedAt), formatTimePtr(scan.StartedAt))
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

const scanColumns = `id, domain, mode, idempotency_key, location_hint, status, findings, score_summary,
	full_report, report_uri, error_message, created_at, started_at, completed_at`

// FindActiveScan returns the newest scan with the key and one of statuses.
func (s *Store) FindActiveScan(ctx context.Context, key string, statuses []audit.ScanStatus) (audit.ScanRequest, error) {
	if len(statuses) == 0 {
		return audit.ScanRequest{}, audit.ErrNotFound
	}
	args := make([]any, 0, len(statuses)+1)
	args = append(args, key)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `SELECT ` + scanColumns + ` FROM scan_requests
WHERE idempotency_key = ? AND status IN (` + placeholders + `)
ORDER BY created_at DESC LIMIT 1`
	scan, err := scanRow(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return audit.ScanRequest{}, fmt.Errorf("find active scan: %w", err)
	}
	return scan, nil
}

// GetScan fetches one scan by ID.
func (s *Store) GetScan(ctx context.Context, scanID string) (audit.ScanRequest, error) {
	scan, err := scanRow(s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scan_requests WHERE id = ?`, scanID))
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
	res, err := s.db.ExecContext(ctx, `
UPDATE scan_requests
SET status = ?, findings = ?, score_summary = ?, full_report = ?, error_message = ?, completed_at = ?
WHERE id = ?`,
		string(result.Status), findings, summary, report, result.ErrorMessage, formatTime(result.CompletedAt), scanID)
	if err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	return requireRow(res, scanID)
}

// SetReportURI records where the archived report lives.
func (s *Store) SetReportURI(ctx context.Context, scanID, uri string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scan_requests SET report_uri = ? WHERE id = ?`, uri, scanID)
	if err != nil {
		return fmt.Errorf("set report uri: %w", err)
	}
	return requireRow(res, scanID)
}

func requireRow(res sql.Result, scanID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("scan %s: %w", scanID, audit.ErrNotFound)
	}
	return nil
}

func scanRow(row *sql.Row) (audit.ScanRequest, error) {
	var (
		scan                      audit.ScanRequest
		mode, status, created     string
		findings, summary, report sql.NullString
		started, completed        sql.NullString
	)
	err := row.Scan(&scan.ID, &scan.Domain, &mode, &scan.IdempotencyKey, &scan.LocationHint, &status,
		&findings, &summary, &report, &scan.ReportURI, &scan.ErrorMessage, &created, &started, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.ScanRequest{}, audit.ErrNotFound
		}
		return audit.ScanRequest{}, err
	}
	scan.Mode = audit.Mode(mode)
	scan.Status = audit.ScanStatus(status)
	if scan.CreatedAt, err = parseTime(created); err != nil {
		return audit.ScanRequest{}, err
	}
	if scan.StartedAt, err = parseTimePtr(started); err != nil {
		return audit.ScanRequest{}, err
	}
	if scan.CompletedAt, err = parseTimePtr(completed); err != nil {
		return audit.ScanRequest{}, err
	}
	if findings.Valid {
		if err := json.Unmarshal([]byte(findings.String), &scan.Findings); err != nil {
			return audit.ScanRequest{}, fmt.Errorf("decode findings: %w", err)
		}
	}
	if summary.Valid {
		scan.ScoreSummary = &audit.ScoreSummary{}
		if err := json.Unmarshal([]byte(summary.String), scan.ScoreSummary); err != nil {
			return audit.ScanRequest{}, fmt.Errorf("decode score summary: %w", err)
		}
	}
	if report.Valid {
		scan.FullReport = &audit.Report{}
		if err := json.Unmarshal([]byte(report.String), scan.FullReport); err != nil {
			return audit.ScanRequest{}, fmt.Errorf("decode report: %w", err)
		}
	}
	return scan, nil
}

func marshalNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
