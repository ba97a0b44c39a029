package services

import (
	"fmt"

	"privacyguard/internal/domain/models"
)

// Summary shown before the first scan
const NoScanSummary = "Scan your device to detect privacy threats."

// Thresholds used by the aggregator. System apps need a much higher score
// before being flagged, matching the normalizer discount.
const (
	systemHighRiskThreshold   = 90
	systemMediumRiskThreshold = 70
	userHighRiskThreshold     = 75
	userMediumRiskThreshold   = 40
	userNotableThreshold      = 40
)

// SafetyAggregator rolls per-app scores up into a device verdict. It is a
// pure function of its input.
type SafetyAggregator struct{}

// NewSafetyAggregator creates a new aggregator
func NewSafetyAggregator() *SafetyAggregator {
	return &SafetyAggregator{}
}

// Aggregate computes the device verdict for a snapshot of app scores
func (a *SafetyAggregator) Aggregate(scores []models.AppScore) models.DeviceSafetyResult {
	if len(scores) == 0 {
		return models.DeviceSafetyResult{
			SafetyScore: 100,
			Status:      models.SafetyStatusSafe,
			Summary:     NoScanSummary,
		}
	}

	var high, medium, userThreats, maxScore int
	for _, s := range scores {
		switch {
		case isHighRisk(s):
			high++
		case isMediumRisk(s):
			medium++
		}
		if !s.IsSystemApp && s.Score >= userNotableThreshold {
			userThreats++
		}
		maxScore = max(maxScore, s.Score)
	}

	status := models.SafetyStatusSafe
	switch {
	case high > 0:
		status = models.SafetyStatusDanger
	case medium > 0:
		status = models.SafetyStatusWarning
	}

	total := high + medium
	return models.DeviceSafetyResult{
		SafetyScore:     clamp(100-maxScore-5*high-2*medium, 0, 100),
		Status:          status,
		Summary:         summaryFor(status, high, medium),
		HighRiskCount:   high,
		MediumRiskCount: medium,
		LowRiskCount:    len(scores) - total,
		TotalThreats:    total,
		UserAppThreats:  userThreats,
	}
}

// AggregateRecords aggregates persisted records
func (a *SafetyAggregator) AggregateRecords(records []models.ApplicationRecord) models.DeviceSafetyResult {
	scores := make([]models.AppScore, len(records))
	for i := range records {
		scores[i] = records[i].AppScore()
	}
	return a.Aggregate(scores)
}

func isHighRisk(s models.AppScore) bool {
	if s.IsSystemApp {
		return s.Score >= systemHighRiskThreshold
	}
	return s.Score >= userHighRiskThreshold
}

func isMediumRisk(s models.AppScore) bool {
	if s.IsSystemApp {
		return s.Score >= systemMediumRiskThreshold && s.Score < systemHighRiskThreshold
	}
	return s.Score >= userMediumRiskThreshold && s.Score < userHighRiskThreshold
}

func summaryFor(status models.SafetyStatus, high, medium int) string {
	switch status {
	case models.SafetyStatusDanger:
		return fmt.Sprintf("Critical risks detected! %d high-risk apps found.", high)
	case models.SafetyStatusWarning:
		return fmt.Sprintf("Action recommended. %d moderate risks detected.", medium)
	default:
		return "Your device is well protected. No major privacy threats found."
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
