package services

import (
	"context"
	"errors"
	"time"

	"privacyguard/internal/domain/models"
	"privacyguard/pkg/logger"
)

// Lookup outcomes reported to the ScanRecorder
const (
	VerdictOutcomeFound    = "found"
	VerdictOutcomeNotFound = "not_found"
	VerdictOutcomeError    = "error"
	VerdictOutcomeSkipped  = "skipped"
	VerdictOutcomeStale    = "stale"
)

// MalwareVerdictService fetches external malware verdicts for single apps on
// demand. It is never called from a bulk rescan.
type MalwareVerdictService struct {
	store   AppStore
	intel   MalwareIntel
	timeout time.Duration
	logger  *logger.Logger

	events   EventPublisher
	recorder ScanRecorder
}

// NewMalwareVerdictService creates a new verdict service. timeout bounds each
// external lookup; zero disables the bound.
func NewMalwareVerdictService(store AppStore, intel MalwareIntel, timeout time.Duration, log *logger.Logger) *MalwareVerdictService {
	return &MalwareVerdictService{
		store:   store,
		intel:   intel,
		timeout: timeout,
		logger:  log.WithComponent("malware-verdict"),
	}
}

// SetEventPublisher enables verdict update events
func (s *MalwareVerdictService) SetEventPublisher(events EventPublisher) {
	s.events = events
}

// SetRecorder enables lookup metrics
func (s *MalwareVerdictService) SetRecorder(recorder ScanRecorder) {
	s.recorder = recorder
}

// Check looks up the verdict for one application and persists it when found.
// Records without a content hash, records that already carry a verdict
// (unless force is set), failed lookups and lookups without data all return
// the record unchanged. A verdict is written only while the record still
// carries the hash that was looked up; if a rescan changed it meanwhile the
// verdict is dropped and the current record returned. Only a missing record
// or a store failure is an error.
func (s *MalwareVerdictService) Check(ctx context.Context, packageName string, force bool) (*models.ApplicationRecord, error) {
	record, err := s.store.GetByID(ctx, packageName)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithApp(packageName)

	if record.ContentHash == "" || (record.HasMalwareVerdict() && !force) || s.intel == nil {
		s.observe(VerdictOutcomeSkipped)
		return record, nil
	}

	lookupCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	verdict, err := s.intel.LookupHash(lookupCtx, record.ContentHash)
	if err != nil {
		log.Warn().Err(err).Str("sha256", record.ContentHash).Msg("malware lookup failed")
		s.observe(VerdictOutcomeError)
		return record, nil
	}
	if verdict == nil || !verdict.Found {
		s.observe(VerdictOutcomeNotFound)
		return record, nil
	}

	updated, err := s.store.UpdateMalwareVerdict(ctx, packageName, record.ContentHash, verdict.DetectionRatio(), verdict.Malicious)
	if errors.Is(err, ErrContentChanged) {
		log.Info().Str("sha256", record.ContentHash).Msg("content changed during lookup, verdict dropped")
		s.observe(VerdictOutcomeStale)
		return s.store.GetByID(ctx, packageName)
	}
	if err != nil {
		return nil, err
	}
	record = updated
	s.observe(VerdictOutcomeFound)

	log.Info().
		Str("detection_ratio", *record.DetectionRatio).
		Int("malicious", verdict.Malicious).
		Msg("malware verdict updated")

	if s.events != nil {
		if err := s.events.PublishVerdictUpdated(ctx, record); err != nil {
			log.Warn().Err(err).Msg("failed to publish verdict event")
		}
	}
	return record, nil
}

func (s *MalwareVerdictService) observe(outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveVerdictLookup(outcome)
	}
}
