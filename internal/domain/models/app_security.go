package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppCategory is the declared purpose of an app. The empty value means the
// platform did not report one.
type AppCategory string

const (
	AppCategoryUnknown       AppCategory = ""
	AppCategoryGame          AppCategory = "game"
	AppCategoryAudio         AppCategory = "audio"
	AppCategoryVideo         AppCategory = "video"
	AppCategoryImage         AppCategory = "image"
	AppCategorySocial        AppCategory = "social"
	AppCategoryNews          AppCategory = "news"
	AppCategoryMaps          AppCategory = "maps"
	AppCategoryProductivity  AppCategory = "productivity"
	AppCategoryAccessibility AppCategory = "accessibility"
	AppCategoryCommunication AppCategory = "communication"
	AppCategoryNavigation    AppCategory = "navigation"
)

// InventoryItem is one installed application as reported by the inventory provider
type InventoryItem struct {
	PackageName  string               `json:"package_name" yaml:"package_name"`
	AppName      string               `json:"app_name" yaml:"app_name"`
	VersionName  string               `json:"version_name" yaml:"version_name"`
	IsSystemApp  bool                 `json:"is_system_app" yaml:"is_system_app"`
	IsSideloaded bool                 `json:"is_sideloaded" yaml:"is_sideloaded"`
	InstalledAt  time.Time            `json:"installed_at" yaml:"installed_at"`
	LastUpdated  time.Time            `json:"last_updated" yaml:"last_updated"`
	LastUsedAt   time.Time            `json:"last_used_at,omitempty" yaml:"last_used_at"`
	Category     AppCategory          `json:"category,omitempty" yaml:"category"`
	Permissions  []DeclaredPermission `json:"permissions" yaml:"permissions"`

	// SourcePath locates the installed binary; ContentHash, when set, is
	// used instead of hashing SourcePath.
	SourcePath  string `json:"source_path,omitempty" yaml:"source_path"`
	ContentHash string `json:"content_hash,omitempty" yaml:"content_hash"`
}

// PermissionIdentifiers returns the declared permission identifiers in order
func (i InventoryItem) PermissionIdentifiers() []string {
	ids := make([]string, len(i.Permissions))
	for n, p := range i.Permissions {
		ids[n] = p.Identifier
	}
	return ids
}

// ApplicationRecord is the persisted per-app state, keyed by PackageName
type ApplicationRecord struct {
	PackageName  string    `json:"package_name"`
	AppName      string    `json:"app_name"`
	VersionName  string    `json:"version_name"`
	IsSystemApp  bool      `json:"is_system_app"`
	IsSideloaded bool      `json:"is_sideloaded"`
	InstalledAt  time.Time `json:"installed_at"`
	LastUpdated  time.Time `json:"last_updated"`
	LastUsedAt   time.Time `json:"last_used_at,omitempty"`

	RiskScore   int       `json:"risk_score"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskReasons []string  `json:"risk_reasons"`
	Alerts      []Alert   `json:"privacy_alerts"`
	Permissions []string  `json:"permissions"`

	// ContentHash is the hex SHA-256 of the installed binary; empty when it
	// could not be computed.
	ContentHash string `json:"sha256,omitempty"`

	// External malware verdict; nil means not yet known.
	DetectionRatio       *string `json:"detection_ratio,omitempty"`
	MaliciousEngineCount *int    `json:"malicious_engine_count,omitempty"`

	ScanID    uuid.UUID `json:"scan_id"`
	ScannedAt time.Time `json:"scanned_at"`
}

// HasMalwareVerdict reports whether an external verdict is recorded
func (r *ApplicationRecord) HasMalwareVerdict() bool {
	return r.DetectionRatio != nil
}

// SetMalwareVerdict records an external verdict
func (r *ApplicationRecord) SetMalwareVerdict(ratio string, malicious int) {
	r.DetectionRatio = &ratio
	r.MaliciousEngineCount = &malicious
}

// Clone returns a deep copy
func (r *ApplicationRecord) Clone() ApplicationRecord {
	out := *r
	out.RiskReasons = append([]string(nil), r.RiskReasons...)
	out.Alerts = append([]Alert(nil), r.Alerts...)
	out.Permissions = append([]string(nil), r.Permissions...)
	if r.DetectionRatio != nil {
		ratio := *r.DetectionRatio
		out.DetectionRatio = &ratio
	}
	if r.MaliciousEngineCount != nil {
		n := *r.MaliciousEngineCount
		out.MaliciousEngineCount = &n
	}
	return out
}

// AppScore returns the aggregator input row for this record
func (r *ApplicationRecord) AppScore() AppScore {
	return AppScore{Score: r.RiskScore, IsSystemApp: r.IsSystemApp}
}

// MalwareVerdict is the parsed response of the malware intelligence service
type MalwareVerdict struct {
	Found      bool `json:"found"`
	Malicious  int  `json:"malicious"`
	Suspicious int  `json:"suspicious"`
	Harmless   int  `json:"harmless"`
	Undetected int  `json:"undetected"`
}

// TotalEngines counts the engines that produced a usable result
func (v MalwareVerdict) TotalEngines() int {
	return v.Malicious + v.Harmless + v.Undetected + v.Suspicious
}

// DetectionRatio renders "<malicious>/<total>"
func (v MalwareVerdict) DetectionRatio() string {
	return fmt.Sprintf("%d/%d", v.Malicious, v.TotalEngines())
}
