package models

// AlertSeverity grades a privacy alert
type AlertSeverity string

const (
	AlertSeverityHigh   AlertSeverity = "HIGH"
	AlertSeverityMedium AlertSeverity = "MEDIUM"
	AlertSeverityLow    AlertSeverity = "LOW"
)

// Alert is produced by rule evaluation and never edited afterwards
type Alert struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Severity    AlertSeverity `json:"severity"`
}

// RiskLevel is the display level derived from a final score
type RiskLevel string

const (
	RiskLevelHigh       RiskLevel = "High Risk"
	RiskLevelModerate   RiskLevel = "Moderate Concern"
	RiskLevelLow        RiskLevel = "Low Concern"
	RiskLevelSystemSafe RiskLevel = "System Safe"
)

// RiskResult is one application's computed risk for one scan
type RiskResult struct {
	Score  int       `json:"score"` // 0-100
	Level  RiskLevel `json:"level"`
	Alerts []Alert   `json:"alerts"`
}

// Reasons returns the alert titles in alert order
func (r RiskResult) Reasons() []string {
	reasons := make([]string, len(r.Alerts))
	for i, a := range r.Alerts {
		reasons[i] = a.Title
	}
	return reasons
}
