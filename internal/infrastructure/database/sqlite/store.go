// Package sqlite stores ApplicationRecords in a local SQLite database. It is
// the record store of the scanner CLI.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS application_records (
	package_name           TEXT PRIMARY KEY,
	app_name               TEXT NOT NULL DEFAULT '',
	version_name           TEXT NOT NULL DEFAULT '',
	is_system_app          INTEGER NOT NULL DEFAULT 0,
	is_sideloaded          INTEGER NOT NULL DEFAULT 0,
	installed_at           INTEGER,
	last_updated           INTEGER,
	last_used_at           INTEGER,
	risk_score             INTEGER NOT NULL DEFAULT 0,
	risk_level             TEXT NOT NULL,
	risk_reasons           TEXT NOT NULL DEFAULT '[]',
	alerts                 TEXT NOT NULL DEFAULT '[]',
	permissions            TEXT NOT NULL DEFAULT '[]',
	content_hash           TEXT,
	detection_ratio        TEXT,
	malicious_engine_count INTEGER,
	scan_id                TEXT NOT NULL,
	scanned_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_application_records_risk_score ON application_records (risk_score DESC);
`

const columns = `
	package_name, app_name, version_name, is_system_app, is_sideloaded,
	installed_at, last_updated, last_used_at,
	risk_score, risk_level, risk_reasons, alerts, permissions,
	content_hash, detection_ratio, malicious_engine_count,
	scan_id, scanned_at`

// Store is a services.AppStore backed by SQLite
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

var _ services.AppStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema
func Open(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	log = log.WithComponent("sqlite")

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY on replace
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("opened sqlite store")
	return &Store{db: db, logger: log}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ReplaceAll deletes every record and inserts records in one transaction
func (s *Store) ReplaceAll(ctx context.Context, records []models.ApplicationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// no-op after commit
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM application_records`); err != nil {
		return fmt.Errorf("failed to clear application records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO application_records (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		args, err := recordArgs(&records[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert application record %s: %w", records[i].PackageName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAll returns all records ordered by risk score, highest first
func (s *Store) GetAll(ctx context.Context) ([]models.ApplicationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM application_records ORDER BY risk_score DESC, package_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list application records: %w", err)
	}
	defer rows.Close()

	records := []models.ApplicationRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate application records: %w", err)
	}
	return records, nil
}

// GetByID retrieves a record by package name
func (s *Store) GetByID(ctx context.Context, packageName string) (*models.ApplicationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM application_records WHERE package_name = ?`, packageName)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.ErrAppNotFound
	}
	return rec, err
}

// UpdateMalwareVerdict sets the verdict columns while the row still carries contentHash
func (s *Store) UpdateMalwareVerdict(ctx context.Context, packageName, contentHash, ratio string, malicious int) (*models.ApplicationRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE application_records SET
			detection_ratio = ?, malicious_engine_count = ?
		WHERE package_name = ? AND content_hash = ?`,
		ratio, malicious, packageName, contentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to update malware verdict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update malware verdict: %w", err)
	}

	rec, err := s.GetByID(ctx, packageName)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, services.ErrContentChanged
	}
	return rec, nil
}

// DeleteAll removes every record
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM application_records`); err != nil {
		return fmt.Errorf("failed to delete application records: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func recordArgs(rec *models.ApplicationRecord) ([]any, error) {
	reasons, err := json.Marshal(nonNil(rec.RiskReasons))
	if err != nil {
		return nil, fmt.Errorf("failed to encode risk reasons: %w", err)
	}
	alerts, err := json.Marshal(nonNil(rec.Alerts))
	if err != nil {
		return nil, fmt.Errorf("failed to encode alerts: %w", err)
	}
	perms, err := json.Marshal(nonNil(rec.Permissions))
	if err != nil {
		return nil, fmt.Errorf("failed to encode permissions: %w", err)
	}

	return []any{
		rec.PackageName, rec.AppName, rec.VersionName, rec.IsSystemApp, rec.IsSideloaded,
		unixMillis(rec.InstalledAt), unixMillis(rec.LastUpdated), unixMillis(rec.LastUsedAt),
		rec.RiskScore, string(rec.RiskLevel), string(reasons), string(alerts), string(perms),
		nullString(rec.ContentHash), ptrString(rec.DetectionRatio), ptrInt(rec.MaliciousEngineCount),
		rec.ScanID.String(), rec.ScannedAt.UnixMilli(),
	}, nil
}

func scanRecord(row rowScanner) (*models.ApplicationRecord, error) {
	rec := &models.ApplicationRecord{}
	var (
		installedAt, lastUpdated, lastUsedAt sql.NullInt64
		riskLevel                            string
		reasons, alerts, perms               string
		contentHash, detectionRatio          sql.NullString
		malicious                            sql.NullInt64
		scanID                               string
		scannedAt                            int64
	)

	err := row.Scan(
		&rec.PackageName, &rec.AppName, &rec.VersionName, &rec.IsSystemApp, &rec.IsSideloaded,
		&installedAt, &lastUpdated, &lastUsedAt,
		&rec.RiskScore, &riskLevel, &reasons, &alerts, &perms,
		&contentHash, &detectionRatio, &malicious,
		&scanID, &scannedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan application record: %w", err)
	}

	rec.InstalledAt = fromMillis(installedAt)
	rec.LastUpdated = fromMillis(lastUpdated)
	rec.LastUsedAt = fromMillis(lastUsedAt)
	rec.RiskLevel = models.RiskLevel(riskLevel)
	rec.ScannedAt = time.UnixMilli(scannedAt).UTC()
	if contentHash.Valid {
		rec.ContentHash = contentHash.String
	}
	if detectionRatio.Valid {
		ratio := detectionRatio.String
		rec.DetectionRatio = &ratio
	}
	if malicious.Valid {
		n := int(malicious.Int64)
		rec.MaliciousEngineCount = &n
	}

	if rec.ScanID, err = uuid.Parse(scanID); err != nil {
		return nil, fmt.Errorf("failed to parse scan id: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &rec.RiskReasons); err != nil {
		return nil, fmt.Errorf("failed to decode risk reasons: %w", err)
	}
	if err := json.Unmarshal([]byte(alerts), &rec.Alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &rec.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return rec, nil
}

func unixMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ptrString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
