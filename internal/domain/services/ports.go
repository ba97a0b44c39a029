package services

import (
	"context"
	"errors"
	"time"

	"privacyguard/internal/domain/models"
)

var (
	// ErrScanInProgress is returned when a rescan is requested while another is running
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrAppNotFound is returned when no record exists for an application identifier
	ErrAppNotFound = errors.New("application not found")
	// ErrContentChanged is returned when a verdict write targets a content hash
	// the record no longer carries
	ErrContentChanged = errors.New("application content changed")
)

// AppStore persists ApplicationRecords keyed by package name.
// ReplaceAll must be all-or-nothing.
type AppStore interface {
	ReplaceAll(ctx context.Context, records []models.ApplicationRecord) error
	GetAll(ctx context.Context) ([]models.ApplicationRecord, error)
	// GetByID returns ErrAppNotFound when the record is absent
	GetByID(ctx context.Context, packageName string) (*models.ApplicationRecord, error)
	// UpdateMalwareVerdict sets only the malware fields of the record, and only
	// while it still carries contentHash. It returns the updated record,
	// ErrAppNotFound, or ErrContentChanged.
	UpdateMalwareVerdict(ctx context.Context, packageName, contentHash, ratio string, malicious int) (*models.ApplicationRecord, error)
	DeleteAll(ctx context.Context) error
}

// MalwareIntel looks up an external verdict by SHA-256.
// A nil verdict or one with Found=false means no data.
type MalwareIntel interface {
	LookupHash(ctx context.Context, sha256 string) (*models.MalwareVerdict, error)
}

// ScanLock serializes rescans across processes sharing one store
type ScanLock interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// EventPublisher receives rescan lifecycle notifications
type EventPublisher interface {
	PublishScanProgress(ctx context.Context, progress models.ScanProgress) error
	PublishScanCompleted(ctx context.Context, summary *models.ScanSummary) error
	PublishVerdictUpdated(ctx context.Context, record *models.ApplicationRecord) error
}

// InventoryProvider supplies the installed applications for a scan, in scan order
type InventoryProvider interface {
	Inventory(ctx context.Context) ([]models.InventoryItem, error)
}

// ProtectionLevelSource reports the platform protection level of a permission.
// Implementations may fail for unknown or vendor permissions.
type ProtectionLevelSource interface {
	ProtectionLevel(identifier string) (int, error)
}

// ScanRecorder receives scan metrics
type ScanRecorder interface {
	ObserveScan(summary *models.ScanSummary)
	ObserveScanFailure(reason string)
	ObserveVerdictLookup(outcome string)
}
