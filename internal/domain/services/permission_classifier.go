package services

import (
	"errors"
	"fmt"

	"privacyguard/internal/domain/models"
	"privacyguard/pkg/logger"
)

// ErrUnknownPermission is returned by a ProtectionLevelSource that has no metadata
var ErrUnknownPermission = errors.New("unknown permission")

// specialPermissions grant capabilities the platform does not flag as dangerous
var specialPermissions = map[string]bool{
	models.PermissionSystemAlertWindow:     true,
	models.PermissionBindAccessibility:     true,
	models.PermissionPackageUsageStats:     true,
	models.PermissionWriteSettings:         true,
	models.PermissionRequestInstallPackage: true,
}

// fallbackDangerousPermissions is consulted when platform metadata is unavailable
var fallbackDangerousPermissions = map[string]bool{
	"android.permission.READ_CONTACTS":              true,
	"android.permission.WRITE_CONTACTS":             true,
	"android.permission.READ_CALL_LOG":              true,
	"android.permission.WRITE_CALL_LOG":             true,
	"android.permission.PROCESS_OUTGOING_CALLS":     true,
	"android.permission.READ_SMS":                   true,
	"android.permission.SEND_SMS":                   true,
	"android.permission.RECEIVE_SMS":                true,
	"android.permission.READ_PHONE_STATE":           true,
	"android.permission.CALL_PHONE":                 true,
	"android.permission.ACCESS_FINE_LOCATION":       true,
	"android.permission.ACCESS_COARSE_LOCATION":     true,
	"android.permission.ACCESS_BACKGROUND_LOCATION": true,
	"android.permission.CAMERA":                     true,
	"android.permission.RECORD_AUDIO":               true,
	"android.permission.READ_EXTERNAL_STORAGE":      true,
	"android.permission.WRITE_EXTERNAL_STORAGE":     true,
	"android.permission.READ_CALENDAR":              true,
	"android.permission.WRITE_CALENDAR":             true,
	"android.permission.BODY_SENSORS":               true,
	"android.permission.ACTIVITY_RECOGNITION":       true,
	"android.permission.READ_MEDIA_IMAGES":          true,
	"android.permission.READ_MEDIA_VIDEO":           true,
	"android.permission.READ_MEDIA_AUDIO":           true,
}

// PermissionClassifier maps permission identifiers to risk tiers
type PermissionClassifier struct {
	levels ProtectionLevelSource
	logger *logger.Logger
}

// NewPermissionClassifier creates a classifier. levels may be nil, in which
// case only the special set and the static fallback table are used.
func NewPermissionClassifier(levels ProtectionLevelSource, log *logger.Logger) *PermissionClassifier {
	return &PermissionClassifier{
		levels: levels,
		logger: log.WithComponent("permission-classifier"),
	}
}

// Classify returns the tier for a permission. It never fails.
func (c *PermissionClassifier) Classify(identifier string) models.PermissionTier {
	if specialPermissions[identifier] {
		return models.PermissionTierSpecial
	}

	level, err := c.protectionLevel(identifier)
	if err != nil {
		c.logger.Debug().Err(err).Str("permission", identifier).Msg("protection level unavailable, using fallback table")
		if fallbackDangerousPermissions[identifier] {
			return models.PermissionTierDangerous
		}
		return models.PermissionTierNormal
	}

	if level&models.ProtectionMaskBase == models.ProtectionDangerous {
		return models.PermissionTierDangerous
	}
	return models.PermissionTierNormal
}

// ClassifyAll builds permission facts in input order
func (c *PermissionClassifier) ClassifyAll(declared []models.DeclaredPermission) []models.PermissionFact {
	facts := make([]models.PermissionFact, 0, len(declared))
	for _, p := range declared {
		facts = append(facts, models.PermissionFact{
			Identifier: p.Identifier,
			Tier:       c.Classify(p.Identifier),
			Granted:    p.Granted,
		})
	}
	return facts
}

// WithLevels returns a classifier sharing this one's logger but using another source
func (c *PermissionClassifier) WithLevels(levels ProtectionLevelSource) *PermissionClassifier {
	return &PermissionClassifier{levels: levels, logger: c.logger}
}

// protectionLevel converts lookup panics into errors
func (c *PermissionClassifier) protectionLevel(identifier string) (level int, err error) {
	if c.levels == nil {
		return 0, ErrUnknownPermission
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("protection level lookup panicked: %v", r)
		}
	}()
	return c.levels.ProtectionLevel(identifier)
}

// StaticProtectionLevels is a map-backed ProtectionLevelSource, used when the
// host reports protection levels alongside the inventory.
type StaticProtectionLevels map[string]int

// ProtectionLevel implements ProtectionLevelSource
func (s StaticProtectionLevels) ProtectionLevel(identifier string) (int, error) {
	level, ok := s[identifier]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPermission, identifier)
	}
	return level, nil
}
