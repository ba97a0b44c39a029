package services_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/pkg/logger"
)

type levelSourceFunc func(string) (int, error)

func (f levelSourceFunc) ProtectionLevel(id string) (int, error) { return f(id) }

func TestClassify_SpecialSetWinsOverPlatform(t *testing.T) {
	calls := 0
	src := levelSourceFunc(func(string) (int, error) {
		calls++
		return models.ProtectionDangerous, nil
	})
	c := services.NewPermissionClassifier(src, logger.NewNop())

	for _, id := range []string{
		models.PermissionSystemAlertWindow,
		models.PermissionBindAccessibility,
		models.PermissionPackageUsageStats,
		models.PermissionWriteSettings,
		models.PermissionRequestInstallPackage,
	} {
		assert.Equal(t, models.PermissionTierSpecial, c.Classify(id), id)
	}
	assert.Zero(t, calls)
}

func TestClassify_UsesMaskedProtectionLevel(t *testing.T) {
	levels := services.StaticProtectionLevels{
		models.PermissionCamera:   models.ProtectionDangerous,
		models.PermissionInternet: models.ProtectionNormal,
		"vendor.FLAGGED":          models.ProtectionDangerous | 0x1000, // flag bits above the base
		"vendor.SIGNED":           models.ProtectionSignature,
	}
	c := services.NewPermissionClassifier(levels, logger.NewNop())

	assert.Equal(t, models.PermissionTierDangerous, c.Classify(models.PermissionCamera))
	assert.Equal(t, models.PermissionTierNormal, c.Classify(models.PermissionInternet))
	assert.Equal(t, models.PermissionTierDangerous, c.Classify("vendor.FLAGGED"))
	assert.Equal(t, models.PermissionTierNormal, c.Classify("vendor.SIGNED"))
}

func TestClassify_FallbackTable(t *testing.T) {
	tests := []struct {
		name   string
		source services.ProtectionLevelSource
	}{
		{"no source", nil},
		{"lookup error", levelSourceFunc(func(string) (int, error) { return 0, errors.New("boom") })},
		{"lookup panic", levelSourceFunc(func(string) (int, error) { panic("NameNotFoundException") })},
		{"unknown to static levels", services.StaticProtectionLevels{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := services.NewPermissionClassifier(tt.source, logger.NewNop())

			assert.Equal(t, models.PermissionTierDangerous, c.Classify(models.PermissionReadSMS))
			assert.Equal(t, models.PermissionTierDangerous, c.Classify(models.PermissionFineLocation))
			assert.Equal(t, models.PermissionTierNormal, c.Classify(models.PermissionInternet))
			assert.Equal(t, models.PermissionTierNormal, c.Classify("com.example.CUSTOM"))
		})
	}
}

func TestClassifyAll_PreservesOrderAndGrant(t *testing.T) {
	c := services.NewPermissionClassifier(nil, logger.NewNop())

	facts := c.ClassifyAll([]models.DeclaredPermission{
		{Identifier: models.PermissionInternet, Granted: true},
		{Identifier: models.PermissionCamera, Granted: false},
		{Identifier: models.PermissionBindAccessibility, Granted: true},
	})

	assert.Equal(t, []models.PermissionFact{
		{Identifier: models.PermissionInternet, Tier: models.PermissionTierNormal, Granted: true},
		{Identifier: models.PermissionCamera, Tier: models.PermissionTierDangerous, Granted: false},
		{Identifier: models.PermissionBindAccessibility, Tier: models.PermissionTierSpecial, Granted: true},
	}, facts)
}
