package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/internal/infrastructure/database"
)

const appRecordColumns = `
	package_name, app_name, version_name, is_system_app, is_sideloaded,
	installed_at, last_updated, last_used_at,
	risk_score, risk_level, risk_reasons, alerts, permissions,
	content_hash, detection_ratio, malicious_engine_count,
	scan_id, scanned_at`

// AppRecordRepository persists ApplicationRecords in PostgreSQL
type AppRecordRepository struct {
	db *database.PostgresDB
}

// NewAppRecordRepository creates a new application record repository
func NewAppRecordRepository(db *database.PostgresDB) *AppRecordRepository {
	return &AppRecordRepository{db: db}
}

var _ services.AppStore = (*AppRecordRepository)(nil)

// ReplaceAll deletes every record and inserts records in one transaction
func (r *AppRecordRepository) ReplaceAll(ctx context.Context, records []models.ApplicationRecord) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM application_records`); err != nil {
			return fmt.Errorf("failed to clear application records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i := range records {
			args, err := recordArgs(&records[i])
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO application_records (`+appRecordColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`, args...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range records {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to insert application record %s: %w", records[i].PackageName, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to replace application records: %w", err)
	}
	return nil
}

// GetAll returns all records ordered by risk score, highest first
func (r *AppRecordRepository) GetAll(ctx context.Context) ([]models.ApplicationRecord, error) {
	query := `SELECT ` + appRecordColumns + `
		FROM application_records
		ORDER BY risk_score DESC, package_name`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list application records: %w", err)
	}
	defer rows.Close()

	records := []models.ApplicationRecord{}
	for rows.Next() {
		rec, err := scanAppRecord(rows)
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
func (r *AppRecordRepository) GetByID(ctx context.Context, packageName string) (*models.ApplicationRecord, error) {
	query := `SELECT ` + appRecordColumns + `
		FROM application_records
		WHERE package_name = $1`

	rec, err := scanAppRecord(r.db.Pool().QueryRow(ctx, query, packageName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrAppNotFound
	}
	return rec, err
}

// UpdateMalwareVerdict sets the verdict columns while the row still carries contentHash
func (r *AppRecordRepository) UpdateMalwareVerdict(ctx context.Context, packageName, contentHash, ratio string, malicious int) (*models.ApplicationRecord, error) {
	query := `
		UPDATE application_records SET
			detection_ratio = $3, malicious_engine_count = $4
		WHERE package_name = $1 AND content_hash = $2
		RETURNING ` + appRecordColumns

	rec, err := scanAppRecord(r.db.Pool().QueryRow(ctx, query, packageName, contentHash, ratio, malicious))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, packageName); getErr != nil {
			return nil, getErr
		}
		return nil, services.ErrContentChanged
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update malware verdict: %w", err)
	}
	return rec, nil
}

// DeleteAll removes every record
func (r *AppRecordRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM application_records`); err != nil {
		return fmt.Errorf("failed to delete application records: %w", err)
	}
	return nil
}

func recordArgs(rec *models.ApplicationRecord) ([]any, error) {
	alerts, err := json.Marshal(nonNilAlerts(rec.Alerts))
	if err != nil {
		return nil, fmt.Errorf("failed to encode alerts: %w", err)
	}

	return []any{
		rec.PackageName, rec.AppName, rec.VersionName, rec.IsSystemApp, rec.IsSideloaded,
		timeToTimestamptz(rec.InstalledAt), timeToTimestamptz(rec.LastUpdated), timeToTimestamptz(rec.LastUsedAt),
		rec.RiskScore, string(rec.RiskLevel), nonNilStrings(rec.RiskReasons), alerts, nonNilStrings(rec.Permissions),
		textOrNull(rec.ContentHash), ptrToText(rec.DetectionRatio), ptrToInt4(rec.MaliciousEngineCount),
		rec.ScanID, rec.ScannedAt,
	}, nil
}

func scanAppRecord(row pgx.Row) (*models.ApplicationRecord, error) {
	rec := &models.ApplicationRecord{}
	var (
		installedAt, lastUpdated, lastUsedAt pgtype.Timestamptz
		riskLevel                            string
		alerts                               []byte
		contentHash, detectionRatio          pgtype.Text
		malicious                            pgtype.Int4
	)

	err := row.Scan(
		&rec.PackageName, &rec.AppName, &rec.VersionName, &rec.IsSystemApp, &rec.IsSideloaded,
		&installedAt, &lastUpdated, &lastUsedAt,
		&rec.RiskScore, &riskLevel, &rec.RiskReasons, &alerts, &rec.Permissions,
		&contentHash, &detectionRatio, &malicious,
		&rec.ScanID, &rec.ScannedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan application record: %w", err)
	}

	rec.InstalledAt = timestamptzToTime(installedAt)
	rec.LastUpdated = timestamptzToTime(lastUpdated)
	rec.LastUsedAt = timestamptzToTime(lastUsedAt)
	rec.RiskLevel = models.RiskLevel(riskLevel)
	rec.ContentHash = nullTextToString(contentHash)
	rec.DetectionRatio = textToPtr(detectionRatio)
	rec.MaliciousEngineCount = int4ToPtr(malicious)

	if err := json.Unmarshal(alerts, &rec.Alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return rec, nil
}
