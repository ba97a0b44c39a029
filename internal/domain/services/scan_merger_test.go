package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/internal/infrastructure/database/memory"
	"privacyguard/pkg/logger"
)

// --- Mock implementations ---

type mockScanLock struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
	err      error
}

func (m *mockScanLock) AcquireLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.held {
		return false, nil
	}
	m.held = true
	m.acquired++
	return true, nil
}

func (m *mockScanLock) ReleaseLock(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.released++
	return nil
}

type mockPublisher struct {
	mu        sync.Mutex
	progress  []models.ScanProgress
	completed []*models.ScanSummary
	verdicts  []string
	err       error
}

func (m *mockPublisher) PublishScanProgress(_ context.Context, p models.ScanProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, p)
	return m.err
}

func (m *mockPublisher) PublishScanCompleted(_ context.Context, s *models.ScanSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, s)
	return m.err
}

func (m *mockPublisher) PublishVerdictUpdated(_ context.Context, r *models.ApplicationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, r.PackageName)
	return m.err
}

type mockRecorder struct {
	mu       sync.Mutex
	scans    int
	failures []string
	lookups  []string
}

func (m *mockRecorder) ObserveScan(*models.ScanSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
}

func (m *mockRecorder) ObserveScanFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, reason)
}

func (m *mockRecorder) ObserveVerdictLookup(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, outcome)
}

// --- Helpers ---

func newMerger(store services.AppStore, cadence int) *services.ScanMerger {
	log := logger.NewNop()
	scorer := services.NewRiskScorer(
		services.NewPermissionClassifier(nil, log),
		services.NewTrackerCatalog(),
		services.NewRuleEngine(),
	)
	return services.NewScanMerger(
		store,
		scorer,
		services.NewContentHasher(log),
		services.NewSafetyAggregator(),
		services.ScanMergerConfig{ProgressCadence: cadence, Workers: 3},
		log,
	)
}

func inventoryOf(n int) []models.InventoryItem {
	items := make([]models.InventoryItem, n)
	for i := range items {
		items[i] = models.InventoryItem{
			PackageName: fmt.Sprintf("com.example.app%02d", i),
			AppName:     fmt.Sprintf("App %d", i),
			ContentHash: fmt.Sprintf("%064x", i+1),
		}
	}
	return items
}

func seed(t *testing.T, store *memory.Store, records ...models.ApplicationRecord) {
	t.Helper()
	require.NoError(t, store.ReplaceAll(context.Background(), records))
}

func withVerdict(r models.ApplicationRecord, ratio string, malicious int) models.ApplicationRecord {
	r.SetMalwareVerdict(ratio, malicious)
	return r
}

// --- Tests ---

func TestRescan_ScoresAndReplaces(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, models.ApplicationRecord{PackageName: "com.example.uninstalled", RiskScore: 99})

	items := []models.InventoryItem{
		{
			PackageName: "com.whatsapp",
			AppName:     "WhatsApp",
			Category:    models.AppCategoryCommunication,
			Permissions: []models.DeclaredPermission{{Identifier: models.PermissionReadSMS, Granted: true}},
		},
		{
			PackageName: "com.example.keyboard",
			AppName:     "Keyboard",
			Permissions: []models.DeclaredPermission{{Identifier: models.PermissionBindAccessibility}},
		},
	}

	summary, err := newMerger(store, 5).RescanAndWait(ctx, items, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.AppCount)
	assert.Equal(t, 2, store.Len())

	_, err = store.GetByID(ctx, "com.example.uninstalled")
	assert.ErrorIs(t, err, services.ErrAppNotFound)

	wa, err := store.GetByID(ctx, "com.whatsapp")
	require.NoError(t, err)
	assert.Equal(t, 60, wa.RiskScore)
	assert.Equal(t, models.RiskLevelModerate, wa.RiskLevel)
	assert.Equal(t, []string{"Integrated Trackers", "Sensitive Data Exposure"}, wa.RiskReasons)
	assert.Equal(t, []string{models.PermissionReadSMS}, wa.Permissions)
	assert.Equal(t, summary.ScanID, wa.ScanID)

	kb, err := store.GetByID(ctx, "com.example.keyboard")
	require.NoError(t, err)
	assert.Equal(t, 50, kb.RiskScore)

	// 60 and 50 are both medium for user apps
	assert.Equal(t, models.SafetyStatusWarning, summary.Device.Status)
	assert.Equal(t, 100-60-4, summary.Device.SafetyScore)
}

func TestRescan_CarryForward(t *testing.T) {
	ctx := context.Background()
	const h1 = "aaaa"
	const h2 = "bbbb"

	tests := []struct {
		name      string
		priorHash string
		hash      string
		wantKept  bool
	}{
		{"same hash keeps verdict", h1, h1, true},
		{"changed hash resets verdict", h1, h2, false},
		{"missing current hash resets verdict", h1, "", false},
		{"missing prior hash resets verdict", "", h1, false},
		{"both missing resets verdict", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			seed(t, store, withVerdict(models.ApplicationRecord{
				PackageName: "com.example.app",
				ContentHash: tt.priorHash,
				RiskScore:   90,
			}, "3/70", 3))

			_, err := newMerger(store, 5).RescanAndWait(ctx, []models.InventoryItem{
				{PackageName: "com.example.app", ContentHash: tt.hash},
			}, nil)
			require.NoError(t, err)

			got, err := store.GetByID(ctx, "com.example.app")
			require.NoError(t, err)
			assert.Equal(t, 0, got.RiskScore, "risk fields are never reused")

			if tt.wantKept {
				require.True(t, got.HasMalwareVerdict())
				assert.Equal(t, "3/70", *got.DetectionRatio)
				assert.Equal(t, 3, *got.MaliciousEngineCount)
			} else {
				assert.Nil(t, got.DetectionRatio)
				assert.Nil(t, got.MaliciousEngineCount)
			}
		})
	}
}

func TestRescan_ProgressCadence(t *testing.T) {
	tests := []struct {
		total     int
		cadence   int
		wantIndex []int
	}{
		{total: 12, cadence: 5, wantIndex: []int{0, 5, 10, 11}},
		{total: 11, cadence: 5, wantIndex: []int{0, 5, 10}},
		{total: 1, cadence: 5, wantIndex: []int{0}},
		{total: 3, cadence: 1, wantIndex: []int{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d items every %d", tt.total, tt.cadence), func(t *testing.T) {
			merger := newMerger(memory.NewStore(), tt.cadence)
			progress, errs := merger.Rescan(context.Background(), inventoryOf(tt.total))

			var got []models.ScanProgress
			for p := range progress {
				got = append(got, p)
			}
			require.NoError(t, <-errs)

			indexes := make([]int, len(got))
			for i, p := range got {
				indexes[i] = p.Index
				assert.InDelta(t, float64(p.Index+1)/float64(tt.total), p.Fraction, 1e-9)
				if i > 0 {
					assert.Greater(t, p.Fraction, got[i-1].Fraction)
				}
			}
			assert.Equal(t, tt.wantIndex, indexes)
			assert.InDelta(t, 1.0, got[len(got)-1].Fraction, 1e-9)
		})
	}
}

func TestRescan_EmptyInventory(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, models.ApplicationRecord{PackageName: "com.example.old"})

	progress, errs := newMerger(store, 5).Rescan(context.Background(), nil)

	count := 0
	for range progress {
		count++
	}
	require.NoError(t, <-errs)
	assert.Zero(t, count)
	assert.Zero(t, store.Len())
}

func TestRescan_PreservesInventoryOrder(t *testing.T) {
	var order []int
	merger := newMerger(memory.NewStore(), 1)

	_, err := merger.RescanAndWait(context.Background(), inventoryOf(40), func(p models.ScanProgress) {
		order = append(order, p.Index)
	})
	require.NoError(t, err)

	require.Len(t, order, 40)
	for i, idx := range order {
		assert.Equal(t, i, idx)
	}
}

func TestRescan_RejectsConcurrentScan(t *testing.T) {
	store := memory.NewStore()
	merger := newMerger(store, 1)

	progress, errs := merger.Rescan(context.Background(), inventoryOf(3))

	// the first rescan is blocked on its unread progress channel
	_, err := merger.RescanAndWait(context.Background(), inventoryOf(1), nil)
	assert.ErrorIs(t, err, services.ErrScanInProgress)
	assert.True(t, merger.Running())

	for range progress {
	}
	require.NoError(t, <-errs)
	assert.False(t, merger.Running())

	// once finished, a new rescan may start
	_, err = merger.RescanAndWait(context.Background(), inventoryOf(1), nil)
	assert.NoError(t, err)
}

func TestRescan_SecondStreamReportsInProgress(t *testing.T) {
	merger := newMerger(memory.NewStore(), 1)

	first, firstErrs := merger.Rescan(context.Background(), inventoryOf(2))
	second, secondErrs := merger.Rescan(context.Background(), inventoryOf(2))

	_, open := <-second
	assert.False(t, open)
	assert.ErrorIs(t, <-secondErrs, services.ErrScanInProgress)

	for range first {
	}
	assert.NoError(t, <-firstErrs)
}

func TestRescan_CancelLeavesStoreUntouched(t *testing.T) {
	store := memory.NewStore()
	prior := withVerdict(models.ApplicationRecord{PackageName: "com.example.keep", RiskScore: 42}, "1/60", 1)
	seed(t, store, prior)

	recorder := &mockRecorder{}
	merger := newMerger(store, 1)
	merger.SetRecorder(recorder)

	ctx, cancel := context.WithCancel(context.Background())
	progress, errs := merger.Rescan(ctx, inventoryOf(10))

	<-progress
	cancel()
	for range progress {
	}

	assert.ErrorIs(t, <-errs, context.Canceled)

	got, err := store.GetByID(context.Background(), "com.example.keep")
	require.NoError(t, err)
	assert.Equal(t, 42, got.RiskScore)
	assert.Equal(t, "1/60", *got.DetectionRatio)
	assert.Equal(t, 1, store.Len())
	assert.Zero(t, recorder.scans)
	assert.Len(t, recorder.failures, 1)
}

func TestRescan_StoreFailureLeavesStoreUntouched(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, models.ApplicationRecord{PackageName: "com.example.keep", RiskScore: 42})
	store.FailReplace = errors.New("disk full")

	_, err := newMerger(store, 5).RescanAndWait(context.Background(), inventoryOf(3), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, store.Len())
}

func TestRescan_DistributedLock(t *testing.T) {
	lock := &mockScanLock{}
	merger := newMerger(memory.NewStore(), 5)
	merger.SetScanLock(lock)

	_, err := merger.RescanAndWait(context.Background(), inventoryOf(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)

	// another replica holds the lock
	lock.held = true
	_, err = merger.RescanAndWait(context.Background(), inventoryOf(2), nil)
	assert.ErrorIs(t, err, services.ErrScanInProgress)
	assert.False(t, merger.Running())

	lock.held = false
	lock.err = errors.New("redis down")
	_, err = merger.RescanAndWait(context.Background(), inventoryOf(2), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrScanInProgress)
}

func TestRescan_PublishesEvents(t *testing.T) {
	pub := &mockPublisher{err: errors.New("nats unavailable")}
	recorder := &mockRecorder{}
	merger := newMerger(memory.NewStore(), 5)
	merger.SetEventPublisher(pub)
	merger.SetRecorder(recorder)

	id := uuid.New()
	summary, err := merger.RescanAndWait(context.Background(), inventoryOf(6), nil, services.WithScanID(id))
	require.NoError(t, err, "event failures never fail the scan")

	assert.Equal(t, id, summary.ScanID)
	require.Len(t, pub.completed, 1)
	assert.Equal(t, id, pub.completed[0].ScanID)
	assert.Len(t, pub.progress, 2)
	assert.Equal(t, 1, recorder.scans)
}

func TestRescan_DuplicatePackagesKeepFirst(t *testing.T) {
	store := memory.NewStore()
	items := []models.InventoryItem{
		{PackageName: "com.example.dup", AppName: "First"},
		{PackageName: "com.example.dup", AppName: "Second"},
	}

	summary, err := newMerger(store, 5).RescanAndWait(context.Background(), items, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AppCount)

	got, err := store.GetByID(context.Background(), "com.example.dup")
	require.NoError(t, err)
	assert.Equal(t, "First", got.AppName)
}

func TestRescan_HostProtectionLevels(t *testing.T) {
	store := memory.NewStore()
	levels := services.StaticProtectionLevels{"com.vendor.permission.SPY": models.ProtectionDangerous}

	_, err := newMerger(store, 5).RescanAndWait(context.Background(), []models.InventoryItem{{
		PackageName: "com.example.app",
		Permissions: []models.DeclaredPermission{{Identifier: "com.vendor.permission.SPY"}},
	}}, nil, services.WithProtectionLevels(levels))
	require.NoError(t, err)

	got, err := store.GetByID(context.Background(), "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.vendor.permission.SPY"}, got.Permissions)
}
