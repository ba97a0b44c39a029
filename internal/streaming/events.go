package streaming

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"privacyguard/internal/domain/models"
)

// EventType represents the type of scan event
type EventType string

const (
	EventTypeScanProgress   EventType = "scan_progress"
	EventTypeScanCompleted  EventType = "scan_completed"
	EventTypeVerdictUpdated EventType = "verdict_updated"
)

// ScanEvent is a real-time notification about rescans and verdicts
type ScanEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ScanID    string    `json:"scan_id,omitempty"`

	Progress *models.ScanProgress `json:"progress,omitempty"`
	Summary  *models.ScanSummary  `json:"summary,omitempty"`
	Verdict  *VerdictPayload      `json:"verdict,omitempty"`
}

// VerdictPayload carries an updated malware verdict for one app
type VerdictPayload struct {
	PackageName          string `json:"package_name"`
	ContentHash          string `json:"sha256"`
	DetectionRatio       string `json:"detection_ratio"`
	MaliciousEngineCount int    `json:"malicious_engine_count"`
}

func newEvent(eventType EventType) *ScanEvent {
	return &ScanEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// NewProgressEvent creates a progress event
func NewProgressEvent(p models.ScanProgress) *ScanEvent {
	e := newEvent(EventTypeScanProgress)
	e.ScanID = p.ScanID.String()
	e.Progress = &p
	return e
}

// NewCompletedEvent creates a scan completion event
func NewCompletedEvent(s *models.ScanSummary) *ScanEvent {
	e := newEvent(EventTypeScanCompleted)
	e.ScanID = s.ScanID.String()
	e.Summary = s
	return e
}

// NewVerdictEvent creates a verdict update event
func NewVerdictEvent(r *models.ApplicationRecord) *ScanEvent {
	e := newEvent(EventTypeVerdictUpdated)
	e.ScanID = r.ScanID.String()
	e.Verdict = &VerdictPayload{
		PackageName: r.PackageName,
		ContentHash: r.ContentHash,
	}
	if r.DetectionRatio != nil {
		e.Verdict.DetectionRatio = *r.DetectionRatio
	}
	if r.MaliciousEngineCount != nil {
		e.Verdict.MaliciousEngineCount = *r.MaliciousEngineCount
	}
	return e
}

// Subscription represents a client's subscription preferences
type Subscription struct {
	// Filter by event types (empty = all)
	Types []EventType `json:"types,omitempty"`

	// Filter by rescan (empty = all)
	ScanID string `json:"scan_id,omitempty"`

	// Filter verdict events by package (empty = all)
	PackageNames []string `json:"package_names,omitempty"`
}

// Matches checks if an event matches the subscription filters
func (s *Subscription) Matches(event *ScanEvent) bool {
	if len(s.Types) > 0 && !slices.Contains(s.Types, event.Type) {
		return false
	}

	if s.ScanID != "" && event.Type != EventTypeVerdictUpdated && s.ScanID != event.ScanID {
		return false
	}

	if len(s.PackageNames) > 0 && event.Verdict != nil && !slices.Contains(s.PackageNames, event.Verdict.PackageName) {
		return false
	}

	return true
}
