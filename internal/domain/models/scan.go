package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanProgress is one progress emission of a rescan
type ScanProgress struct {
	ScanID   uuid.UUID `json:"scan_id"`
	Fraction float64   `json:"fraction"` // (index+1)/total
	Index    int       `json:"index"`
	Total    int       `json:"total"`
}

// ScanSummary describes a completed rescan
type ScanSummary struct {
	ScanID      uuid.UUID          `json:"scan_id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	AppCount    int                `json:"app_count"`
	Device      DeviceSafetyResult `json:"device"`
}

// Duration returns how long the rescan took
func (s ScanSummary) Duration() time.Duration {
	return s.CompletedAt.Sub(s.StartedAt)
}
