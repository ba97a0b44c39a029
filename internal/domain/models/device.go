package models

// SafetyStatus is the device-level verdict
type SafetyStatus string

const (
	SafetyStatusSafe    SafetyStatus = "SAFE"
	SafetyStatusWarning SafetyStatus = "WARNING"
	SafetyStatusDanger  SafetyStatus = "DANGER"
)

// AppScore is one row of aggregator input
type AppScore struct {
	Score       int  `json:"score"`
	IsSystemApp bool `json:"is_system_app"`
}

// DeviceSafetyResult is derived on every aggregation and never persisted
type DeviceSafetyResult struct {
	SafetyScore     int          `json:"safety_score"` // 0-100, higher is safer
	Status          SafetyStatus `json:"status"`
	Summary         string       `json:"summary"`
	HighRiskCount   int          `json:"high_risk_count"`
	MediumRiskCount int          `json:"medium_risk_count"`
	LowRiskCount    int          `json:"low_risk_count"`
	TotalThreats    int          `json:"total_threats"`
	UserAppThreats  int          `json:"user_app_threats"`
}
