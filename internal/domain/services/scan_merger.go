package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"privacyguard/internal/domain/models"
	"privacyguard/pkg/logger"
)

// DefaultScanLockKey is the distributed lock key used when none is configured
const DefaultScanLockKey = "lock:rescan"

// ScanMergerConfig tunes the rescan loop
type ScanMergerConfig struct {
	// ProgressCadence emits progress every N items (and always on the last one)
	ProgressCadence int
	// Workers bounds concurrent scoring
	Workers int
	LockKey string
	LockTTL time.Duration
}

// DefaultScanMergerConfig returns the defaults
func DefaultScanMergerConfig() ScanMergerConfig {
	return ScanMergerConfig{
		ProgressCadence: 5,
		Workers:         4,
		LockKey:         DefaultScanLockKey,
		LockTTL:         5 * time.Minute,
	}
}

// ScanOption customizes a single rescan
type ScanOption func(*scanOptions)

type scanOptions struct {
	scanID uuid.UUID
	levels ProtectionLevelSource
}

// WithScanID fixes the rescan identifier instead of generating one
func WithScanID(id uuid.UUID) ScanOption {
	return func(o *scanOptions) { o.scanID = id }
}

// WithProtectionLevels classifies this rescan's permissions against levels
// reported by the host
func WithProtectionLevels(levels ProtectionLevelSource) ScanOption {
	return func(o *scanOptions) { o.levels = levels }
}

// ScanMerger owns the write path of the full record set. It recomputes every
// application's risk and carries the external malware verdict forward when
// the binary's content hash is unchanged.
type ScanMerger struct {
	store      AppStore
	scorer     *RiskScorer
	hasher     *ContentHasher
	aggregator *SafetyAggregator
	cfg        ScanMergerConfig
	logger     *logger.Logger

	lock     ScanLock
	events   EventPublisher
	recorder ScanRecorder

	mu      sync.Mutex
	running atomic.Bool
	now     func() time.Time
}

// NewScanMerger creates a new scan merger
func NewScanMerger(
	store AppStore,
	scorer *RiskScorer,
	hasher *ContentHasher,
	aggregator *SafetyAggregator,
	cfg ScanMergerConfig,
	log *logger.Logger,
) *ScanMerger {
	defaults := DefaultScanMergerConfig()
	if cfg.ProgressCadence < 1 {
		cfg.ProgressCadence = defaults.ProgressCadence
	}
	if cfg.Workers < 1 {
		cfg.Workers = defaults.Workers
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaults.LockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}

	return &ScanMerger{
		store:      store,
		scorer:     scorer,
		hasher:     hasher,
		aggregator: aggregator,
		cfg:        cfg,
		logger:     log.WithComponent("scan-merger"),
		now:        time.Now,
	}
}

// SetScanLock enables cross-process serialization
func (m *ScanMerger) SetScanLock(lock ScanLock) {
	m.lock = lock
}

// SetEventPublisher enables progress and completion events
func (m *ScanMerger) SetEventPublisher(events EventPublisher) {
	m.events = events
}

// SetRecorder enables scan metrics
func (m *ScanMerger) SetRecorder(recorder ScanRecorder) {
	m.recorder = recorder
}

// Running reports whether a rescan is in flight in this process
func (m *ScanMerger) Running() bool {
	return m.running.Load()
}

// Rescan starts a rescan and returns its progress stream and a one-shot error
// channel. Both channels are closed when the rescan ends. If another rescan
// is in flight the error channel yields ErrScanInProgress immediately.
//
// The progress channel is unbuffered: the rescan advances only as fast as the
// caller reads. Cancel ctx to abandon it; the persisted records are then left
// untouched.
func (m *ScanMerger) Rescan(ctx context.Context, inventory []models.InventoryItem, opts ...ScanOption) (<-chan models.ScanProgress, <-chan error) {
	progress := make(chan models.ScanProgress)
	errs := make(chan error, 1)

	release, err := m.begin(ctx)
	if err != nil {
		errs <- err
		close(progress)
		close(errs)
		return progress, errs
	}

	go func() {
		defer close(errs)
		defer close(progress)
		defer release()

		emit := func(p models.ScanProgress) error {
			select {
			case progress <- p:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err := m.run(ctx, inventory, emit, opts...); err != nil {
			errs <- err
		}
	}()

	return progress, errs
}

// RescanAndWait runs a rescan to completion, calling onProgress (if non-nil)
// for each progress emission in order.
func (m *ScanMerger) RescanAndWait(
	ctx context.Context,
	inventory []models.InventoryItem,
	onProgress func(models.ScanProgress),
	opts ...ScanOption,
) (*models.ScanSummary, error) {
	release, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	emit := func(p models.ScanProgress) error {
		if onProgress != nil {
			onProgress(p)
		}
		return nil
	}
	return m.run(ctx, inventory, emit, opts...)
}

func (m *ScanMerger) begin(ctx context.Context) (func(), error) {
	if !m.mu.TryLock() {
		return nil, ErrScanInProgress
	}

	if m.lock != nil {
		ok, err := m.lock.AcquireLock(ctx, m.cfg.LockKey, m.cfg.LockTTL)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to acquire scan lock: %w", err)
		}
		if !ok {
			m.mu.Unlock()
			return nil, ErrScanInProgress
		}
	}

	m.running.Store(true)
	return func() {
		if m.lock != nil {
			if err := m.lock.ReleaseLock(context.WithoutCancel(ctx), m.cfg.LockKey); err != nil {
				m.logger.Warn().Err(err).Msg("failed to release scan lock")
			}
		}
		m.running.Store(false)
		m.mu.Unlock()
	}, nil
}

func (m *ScanMerger) run(
	ctx context.Context,
	inventory []models.InventoryItem,
	emit func(models.ScanProgress) error,
	opts ...ScanOption,
) (*models.ScanSummary, error) {
	o := scanOptions{scanID: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	scorer := m.scorer
	if o.levels != nil {
		scorer = scorer.WithClassifier(scorer.classifier.WithLevels(o.levels))
	}

	log := m.logger.WithScanID(o.scanID.String())
	started := m.now()
	items := m.uniqueItems(inventory, log)

	log.Info().Int("apps", len(items)).Msg("rescan started")

	records, err := m.buildRecords(ctx, o.scanID, started, items, scorer, emit)
	if err != nil {
		m.fail(log, "build", err)
		return nil, err
	}

	// nothing has been written yet; a cancelled scan must not replace
	if err := ctx.Err(); err != nil {
		m.fail(log, "cancelled", err)
		return nil, err
	}

	if err := m.store.ReplaceAll(ctx, records); err != nil {
		m.fail(log, "persist", err)
		return nil, fmt.Errorf("failed to replace application records: %w", err)
	}

	summary := &models.ScanSummary{
		ScanID:      o.scanID,
		StartedAt:   started,
		CompletedAt: m.now(),
		AppCount:    len(records),
		Device:      m.aggregator.AggregateRecords(records),
	}

	if m.recorder != nil {
		m.recorder.ObserveScan(summary)
	}
	if m.events != nil {
		if err := m.events.PublishScanCompleted(context.WithoutCancel(ctx), summary); err != nil {
			log.Warn().Err(err).Msg("failed to publish scan completed event")
		}
	}

	log.Info().
		Int("apps", summary.AppCount).
		Int("safety_score", summary.Device.SafetyScore).
		Str("status", string(summary.Device.Status)).
		Dur("duration", summary.Duration()).
		Msg("rescan completed")

	return summary, nil
}

// buildRecords scores items on a bounded worker pool and assembles them,
// emitting progress, in inventory order.
func (m *ScanMerger) buildRecords(
	ctx context.Context,
	scanID uuid.UUID,
	scannedAt time.Time,
	items []models.InventoryItem,
	scorer *RiskScorer,
	emit func(models.ScanProgress) error,
) ([]models.ApplicationRecord, error) {
	prior, err := m.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior records: %w", err)
	}
	priorByID := make(map[string]*models.ApplicationRecord, len(prior))
	for i := range prior {
		priorByID[prior[i].PackageName] = &prior[i]
	}

	total := len(items)
	records := make([]models.ApplicationRecord, total)
	done := make([]chan struct{}, total)
	for i := range done {
		done[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	fed := make(chan error, 1)
	go func() {
		for i := range items {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				defer close(done[i])
				if err := gctx.Err(); err != nil {
					return err
				}
				records[i] = m.buildRecord(items[i], scorer, priorByID[items[i].PackageName], scanID, scannedAt)
				return nil
			})
		}
		fed <- g.Wait()
	}()

	for i := range items {
		select {
		case <-done[i]:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			<-fed
			return nil, err
		}

		if i%m.cfg.ProgressCadence == 0 || i == total-1 {
			p := models.ScanProgress{
				ScanID:   scanID,
				Fraction: float64(i+1) / float64(total),
				Index:    i,
				Total:    total,
			}
			if err := emit(p); err != nil {
				<-fed
				return nil, err
			}
			if m.events != nil {
				if err := m.events.PublishScanProgress(ctx, p); err != nil {
					m.logger.Debug().Err(err).Msg("failed to publish scan progress")
				}
			}
		}
	}

	if err := <-fed; err != nil {
		return nil, err
	}
	return records, nil
}

func (m *ScanMerger) buildRecord(
	item models.InventoryItem,
	scorer *RiskScorer,
	prior *models.ApplicationRecord,
	scanID uuid.UUID,
	scannedAt time.Time,
) models.ApplicationRecord {
	risk := scorer.Score(item)
	hash := m.hasher.HashFor(item)

	record := models.ApplicationRecord{
		PackageName:  item.PackageName,
		AppName:      item.AppName,
		VersionName:  item.VersionName,
		IsSystemApp:  item.IsSystemApp,
		IsSideloaded: item.IsSideloaded,
		InstalledAt:  item.InstalledAt,
		LastUpdated:  item.LastUpdated,
		LastUsedAt:   item.LastUsedAt,
		RiskScore:    risk.Score,
		RiskLevel:    risk.Level,
		RiskReasons:  risk.Reasons(),
		Alerts:       risk.Alerts,
		Permissions:  item.PermissionIdentifiers(),
		ContentHash:  hash,
		ScanID:       scanID,
		ScannedAt:    scannedAt,
	}

	if canCarryForward(prior, hash) {
		record.SetMalwareVerdict(*prior.DetectionRatio, derefInt(prior.MaliciousEngineCount))
	}
	return record
}

// canCarryForward requires both hashes present and equal
func canCarryForward(prior *models.ApplicationRecord, hash string) bool {
	return prior != nil &&
		prior.HasMalwareVerdict() &&
		prior.ContentHash != "" &&
		hash != "" &&
		prior.ContentHash == hash
}

// uniqueItems keeps the first occurrence of each package name
func (m *ScanMerger) uniqueItems(inventory []models.InventoryItem, log *logger.Logger) []models.InventoryItem {
	seen := make(map[string]bool, len(inventory))
	items := make([]models.InventoryItem, 0, len(inventory))
	for _, item := range inventory {
		if seen[item.PackageName] {
			log.Warn().Str("app_id", item.PackageName).Msg("duplicate inventory entry ignored")
			continue
		}
		seen[item.PackageName] = true
		items = append(items, item)
	}
	return items
}

func (m *ScanMerger) fail(log *logger.Logger, stage string, err error) {
	log.Error().Err(err).Str("stage", stage).Msg("rescan failed")
	if m.recorder != nil {
		m.recorder.ObserveScanFailure(stage)
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
