package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/internal/infrastructure/database/memory"
	"privacyguard/pkg/logger"
)

type mockIntel struct {
	lookupFunc func(ctx context.Context, hash string) (*models.MalwareVerdict, error)
	calls      []string
}

func (m *mockIntel) LookupHash(ctx context.Context, hash string) (*models.MalwareVerdict, error) {
	m.calls = append(m.calls, hash)
	if m.lookupFunc != nil {
		return m.lookupFunc(ctx, hash)
	}
	return nil, nil
}

func found(malicious, suspicious, harmless, undetected int) func(context.Context, string) (*models.MalwareVerdict, error) {
	return func(context.Context, string) (*models.MalwareVerdict, error) {
		return &models.MalwareVerdict{
			Found:      true,
			Malicious:  malicious,
			Suspicious: suspicious,
			Harmless:   harmless,
			Undetected: undetected,
		}, nil
	}
}

func newVerdictService(t *testing.T, intel services.MalwareIntel, records ...models.ApplicationRecord) (*services.MalwareVerdictService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.ReplaceAll(context.Background(), records))
	return services.NewMalwareVerdictService(store, intel, time.Second, logger.NewNop()), store
}

func TestCheck_FoundPersistsVerdict(t *testing.T) {
	ctx := context.Background()
	intel := &mockIntel{lookupFunc: found(5, 1, 60, 4)}
	svc, store := newVerdictService(t, intel, models.ApplicationRecord{PackageName: "com.example.app", ContentHash: "abc"})
	pub := &mockPublisher{}
	rec := &mockRecorder{}
	svc.SetEventPublisher(pub)
	svc.SetRecorder(rec)

	got, err := svc.Check(ctx, "com.example.app", false)
	require.NoError(t, err)
	assert.Equal(t, "5/70", *got.DetectionRatio)
	assert.Equal(t, 5, *got.MaliciousEngineCount)
	assert.Equal(t, []string{"abc"}, intel.calls)

	stored, err := store.GetByID(ctx, "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "5/70", *stored.DetectionRatio)

	assert.Equal(t, []string{"com.example.app"}, pub.verdicts)
	assert.Equal(t, []string{services.VerdictOutcomeFound}, rec.lookups)
}

func TestCheck_UnchangedCases(t *testing.T) {
	withRatio := models.ApplicationRecord{PackageName: "com.example.app", ContentHash: "abc"}
	withRatio.SetMalwareVerdict("0/70", 0)

	tests := []struct {
		name      string
		record    models.ApplicationRecord
		lookup    func(context.Context, string) (*models.MalwareVerdict, error)
		wantCalls int
	}{
		{
			name:      "no content hash",
			record:    models.ApplicationRecord{PackageName: "com.example.app"},
			lookup:    found(1, 0, 0, 0),
			wantCalls: 0,
		},
		{
			name:      "already checked",
			record:    withRatio,
			lookup:    found(9, 0, 0, 0),
			wantCalls: 0,
		},
		{
			name:   "lookup error",
			record: models.ApplicationRecord{PackageName: "com.example.app", ContentHash: "abc"},
			lookup: func(context.Context, string) (*models.MalwareVerdict, error) {
				return nil, errors.New("rate limited")
			},
			wantCalls: 1,
		},
		{
			name:   "lookup timeout",
			record: models.ApplicationRecord{PackageName: "com.example.app", ContentHash: "abc"},
			lookup: func(ctx context.Context, _ string) (*models.MalwareVerdict, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantCalls: 1,
		},
		{
			name:   "no data",
			record: models.ApplicationRecord{PackageName: "com.example.app", ContentHash: "abc"},
			lookup: func(context.Context, string) (*models.MalwareVerdict, error) {
				return &models.MalwareVerdict{Found: false}, nil
			},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intel := &mockIntel{lookupFunc: tt.lookup}
			store := memory.NewStore()
			require.NoError(t, store.ReplaceAll(context.Background(), []models.ApplicationRecord{tt.record}))
			svc := services.NewMalwareVerdictService(store, intel, 20*time.Millisecond, logger.NewNop())

			got, err := svc.Check(context.Background(), "com.example.app", false)
			require.NoError(t, err)
			assert.Len(t, intel.calls, tt.wantCalls)

			stored, err := store.GetByID(context.Background(), "com.example.app")
			require.NoError(t, err)
			assert.Equal(t, tt.record.DetectionRatio, got.DetectionRatio)
			assert.Equal(t, tt.record.DetectionRatio, stored.DetectionRatio)
			assert.Equal(t, tt.record.MaliciousEngineCount, stored.MaliciousEngineCount)
		})
	}
}

func TestCheck_ForceRefreshesExistingVerdict(t *testing.T) {
	record := models.ApplicationRecord{PackageName: "com.example.app", ContentHash: "abc"}
	record.SetMalwareVerdict("0/70", 0)
	intel := &mockIntel{lookupFunc: found(2, 0, 68, 0)}
	svc, _ := newVerdictService(t, intel, record)

	got, err := svc.Check(context.Background(), "com.example.app", true)
	require.NoError(t, err)
	assert.Equal(t, "2/70", *got.DetectionRatio)
	assert.Equal(t, 2, *got.MaliciousEngineCount)
}

func TestCheck_MissingRecord(t *testing.T) {
	svc, _ := newVerdictService(t, &mockIntel{})

	_, err := svc.Check(context.Background(), "com.example.missing", false)
	assert.ErrorIs(t, err, services.ErrAppNotFound)
}

func TestCheck_RescanDuringLookupDropsVerdict(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	merger := newMerger(store, 5)

	_, err := merger.RescanAndWait(ctx, []models.InventoryItem{{
		PackageName: "com.example.app",
		ContentHash: "h1",
		Permissions: []models.DeclaredPermission{
			{Identifier: models.PermissionCamera},
			{Identifier: models.PermissionInternet},
		},
	}}, nil)
	require.NoError(t, err)

	intel := &mockIntel{lookupFunc: func(ctx context.Context, _ string) (*models.MalwareVerdict, error) {
		_, err := merger.RescanAndWait(ctx, []models.InventoryItem{{
			PackageName: "com.example.app",
			ContentHash: "h2",
		}}, nil)
		require.NoError(t, err)
		return &models.MalwareVerdict{Found: true, Malicious: 9, Undetected: 1}, nil
	}}
	rec := &mockRecorder{}
	pub := &mockPublisher{}
	svc := services.NewMalwareVerdictService(store, intel, time.Second, logger.NewNop())
	svc.SetRecorder(rec)
	svc.SetEventPublisher(pub)

	got, err := svc.Check(ctx, "com.example.app", false)
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)
	assert.False(t, got.HasMalwareVerdict())

	stored, err := store.GetByID(ctx, "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "h2", stored.ContentHash)
	assert.Equal(t, 0, stored.RiskScore)
	assert.Nil(t, stored.DetectionRatio)
	assert.Nil(t, stored.MaliciousEngineCount)

	assert.Equal(t, []string{services.VerdictOutcomeStale}, rec.lookups)
	assert.Empty(t, pub.verdicts)
}

func TestCheck_FoundKeepsScanFields(t *testing.T) {
	ctx := context.Background()
	record := models.ApplicationRecord{
		PackageName: "com.example.app",
		ContentHash: "abc",
		RiskScore:   45,
		RiskLevel:   models.RiskLevelModerate,
	}
	svc, store := newVerdictService(t, &mockIntel{lookupFunc: found(1, 0, 9, 0)}, record)

	_, err := svc.Check(ctx, "com.example.app", false)
	require.NoError(t, err)

	stored, err := store.GetByID(ctx, "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, 45, stored.RiskScore)
	assert.Equal(t, models.RiskLevelModerate, stored.RiskLevel)
	assert.Equal(t, "1/10", *stored.DetectionRatio)
}
