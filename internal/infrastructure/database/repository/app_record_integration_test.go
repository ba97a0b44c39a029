//go:build integration

package repository_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"privacyguard/internal/config"
	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/internal/infrastructure/database"
	"privacyguard/internal/infrastructure/database/repository"
	"privacyguard/pkg/logger"
)

func setupRepository(t *testing.T) *repository.AppRecordRepository {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("privacyguard"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:         host,
		Port:         portNum,
		User:         "testuser",
		Password:     "testpass",
		DBName:       "privacyguard",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 1,
	}
	require.NoError(t, database.RunMigrations(cfg.DSN()))

	db, err := database.NewPostgres(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return repository.NewAppRecordRepository(db)
}

func record(name, hash string, score int) models.ApplicationRecord {
	return models.ApplicationRecord{
		PackageName: name,
		AppName:     "Sample",
		VersionName: "2.0.1",
		InstalledAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		LastUpdated: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		RiskScore:   score,
		RiskLevel:   models.RiskLevelModerate,
		RiskReasons: []string{"Integrated Trackers"},
		Alerts: []models.Alert{{
			Title:       "Integrated Trackers",
			Description: "This app contains 1 known data tracking services: Adjust.",
			Severity:    models.AlertSeverityMedium,
		}},
		Permissions: []string{models.PermissionInternet},
		ContentHash: hash,
		ScanID:      uuid.New(),
		ScannedAt:   time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC),
	}
}

func TestAppRecordRepository(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	t.Run("replace and read back", func(t *testing.T) {
		high := record("com.example.high", "h-high", 80)
		high.SetMalwareVerdict("4/70", 4)
		low := record("com.example.low", "h-low", 10)
		require.NoError(t, repo.ReplaceAll(ctx, []models.ApplicationRecord{low, high}))

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "com.example.high", all[0].PackageName)
		assert.Equal(t, "4/70", *all[0].DetectionRatio)
		assert.Nil(t, all[1].DetectionRatio)

		_, err = repo.GetByID(ctx, "com.example.missing")
		assert.ErrorIs(t, err, services.ErrAppNotFound)
	})

	t.Run("failed replace leaves prior set", func(t *testing.T) {
		require.NoError(t, repo.ReplaceAll(ctx, []models.ApplicationRecord{record("keep", "h-keep", 5)}))

		err := repo.ReplaceAll(ctx, []models.ApplicationRecord{record("dup", "h1", 1), record("dup", "h2", 2)})
		require.Error(t, err)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "keep", all[0].PackageName)
	})

	t.Run("verdict write requires same hash", func(t *testing.T) {
		require.NoError(t, repo.ReplaceAll(ctx, []models.ApplicationRecord{record("com.example.app", "h2", 30)}))

		_, err := repo.UpdateMalwareVerdict(ctx, "com.example.app", "h1", "9/10", 9)
		assert.ErrorIs(t, err, services.ErrContentChanged)

		got, err := repo.UpdateMalwareVerdict(ctx, "com.example.app", "h2", "1/10", 1)
		require.NoError(t, err)
		assert.Equal(t, "1/10", *got.DetectionRatio)
		assert.Equal(t, 30, got.RiskScore)

		_, err = repo.UpdateMalwareVerdict(ctx, "com.example.missing", "h2", "1/10", 1)
		assert.ErrorIs(t, err, services.ErrAppNotFound)
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, repo.DeleteAll(ctx))
		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}
