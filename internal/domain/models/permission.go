package models

// PermissionTier is the risk classification of a single permission
type PermissionTier string

const (
	PermissionTierDangerous PermissionTier = "dangerous"
	PermissionTierNormal    PermissionTier = "normal"
	PermissionTierSpecial   PermissionTier = "special"
)

// Platform protection level constants (android.content.pm.PermissionInfo)
const (
	ProtectionMaskBase  = 0xf
	ProtectionNormal    = 0
	ProtectionDangerous = 1
	ProtectionSignature = 2
)

// Permission identifiers the scoring rules look at
const (
	PermissionInternet              = "android.permission.INTERNET"
	PermissionCamera                = "android.permission.CAMERA"
	PermissionRecordAudio           = "android.permission.RECORD_AUDIO"
	PermissionFineLocation          = "android.permission.ACCESS_FINE_LOCATION"
	PermissionReadSMS               = "android.permission.READ_SMS"
	PermissionBindAccessibility     = "android.permission.BIND_ACCESSIBILITY_SERVICE"
	PermissionSystemAlertWindow     = "android.permission.SYSTEM_ALERT_WINDOW"
	PermissionPackageUsageStats     = "android.permission.PACKAGE_USAGE_STATS"
	PermissionWriteSettings         = "android.permission.WRITE_SETTINGS"
	PermissionRequestInstallPackage = "android.permission.REQUEST_INSTALL_PACKAGES"
)

// DeclaredPermission is a permission as reported by the inventory provider
type DeclaredPermission struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Granted    bool   `json:"granted" yaml:"granted"`
}

// PermissionFact is a classified permission for one application in one scan.
// The tier is fixed at creation.
type PermissionFact struct {
	Identifier string         `json:"identifier"`
	Tier       PermissionTier `json:"tier"`
	Granted    bool           `json:"granted"`
}

// PermissionSet indexes facts by identifier for membership checks
type PermissionSet map[string]PermissionFact

// NewPermissionSet builds a set from facts; later duplicates win
func NewPermissionSet(facts []PermissionFact) PermissionSet {
	set := make(PermissionSet, len(facts))
	for _, f := range facts {
		set[f.Identifier] = f
	}
	return set
}

// Has reports whether the permission is declared, granted or not
func (s PermissionSet) Has(identifier string) bool {
	_, ok := s[identifier]
	return ok
}
