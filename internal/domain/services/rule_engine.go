package services

import (
	"fmt"
	"strings"

	"privacyguard/internal/domain/models"
)

// RuleInput is everything a contextual rule may inspect for one application
type RuleInput struct {
	Permissions models.PermissionSet
	Trackers    []string
	Category    models.AppCategory
	IsSystemApp bool
}

// Rule is one weighted contextual check. Matches must be pure.
type Rule struct {
	Title    string
	Weight   int
	Severity models.AlertSeverity
	Matches  func(in RuleInput) bool
	Describe func(in RuleInput) string
}

func (r Rule) alert(in RuleInput) models.Alert {
	return models.Alert{
		Title:       r.Title,
		Description: r.Describe(in),
		Severity:    r.Severity,
	}
}

func fixed(text string) func(RuleInput) string {
	return func(RuleInput) string { return text }
}

// categoryIn treats an unknown category as not matching
func categoryIn(c models.AppCategory, allowed ...models.AppCategory) bool {
	if c == models.AppCategoryUnknown {
		return false
	}
	for _, a := range allowed {
		if c == a {
			return true
		}
	}
	return false
}

// DefaultRules returns the contextual rules in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		{
			Title:    "Integrated Trackers",
			Weight:   20,
			Severity: models.AlertSeverityMedium,
			Matches:  func(in RuleInput) bool { return len(in.Trackers) > 0 },
			Describe: func(in RuleInput) string {
				return fmt.Sprintf("This app contains %d known data tracking services: %s.",
					len(in.Trackers), strings.Join(in.Trackers, ", "))
			},
		},
		{
			Title:    "Unusual Hardware Access",
			Weight:   30,
			Severity: models.AlertSeverityHigh,
			Matches: func(in RuleInput) bool {
				hardware := in.Permissions.Has(models.PermissionCamera) || in.Permissions.Has(models.PermissionRecordAudio)
				return hardware &&
					in.Permissions.Has(models.PermissionInternet) &&
					!categoryIn(in.Category, models.AppCategorySocial, models.AppCategoryCommunication) &&
					!in.IsSystemApp
			},
			Describe: fixed("This app can access your camera/mic and the internet, but isn't categorized as a communication tool."),
		},
		{
			Title:    "Unexpected Location Use",
			Weight:   15,
			Severity: models.AlertSeverityMedium,
			Matches: func(in RuleInput) bool {
				return in.Permissions.Has(models.PermissionFineLocation) &&
					!categoryIn(in.Category, models.AppCategoryMaps, models.AppCategoryNavigation) &&
					!in.IsSystemApp
			},
			Describe: fixed("This app requests precise location but does not appear to be a navigation or maps tool."),
		},
		{
			Title:    "Sensitive Data Exposure",
			Weight:   40,
			Severity: models.AlertSeverityHigh,
			Matches: func(in RuleInput) bool {
				return in.Permissions.Has(models.PermissionReadSMS) && len(in.Trackers) > 0
			},
			Describe: fixed("High Risk: This app can read your private messages and contains active third-party tracking services."),
		},
		{
			Title:    "Advanced Monitoring",
			Weight:   50,
			Severity: models.AlertSeverityHigh,
			Matches: func(in RuleInput) bool {
				return in.Permissions.Has(models.PermissionBindAccessibility) && !in.IsSystemApp
			},
			Describe: fixed("Requests control via Accessibility Services. This allows the app to interact with other apps and read screen content."),
		},
	}
}

// RuleEngine evaluates an ordered, additive set of rules
type RuleEngine struct {
	rules []Rule
}

// NewRuleEngine creates an engine over the default rules
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{rules: DefaultRules()}
}

// Evaluate returns the summed weight of matching rules and one alert per
// matching rule, in rule order.
func (e *RuleEngine) Evaluate(in RuleInput) (int, []models.Alert) {
	delta := 0
	alerts := make([]models.Alert, 0, len(e.rules))
	for _, r := range e.rules {
		if !r.Matches(in) {
			continue
		}
		delta += r.Weight
		alerts = append(alerts, r.alert(in))
	}
	return delta, alerts
}

// Rules returns the rules in evaluation order
func (e *RuleEngine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// NormalizeScore discounts system apps 5x with a cap of 20; other apps are
// capped at 100. The result is never negative.
func NormalizeScore(raw int, isSystemApp bool) int {
	if raw < 0 {
		raw = 0
	}
	if isSystemApp {
		return min(raw/5, 20)
	}
	return min(raw, 100)
}

// LevelForScore maps a normalized score to its display level
func LevelForScore(score int, isSystemApp bool) models.RiskLevel {
	switch {
	case score >= 70:
		return models.RiskLevelHigh
	case score >= 35:
		return models.RiskLevelModerate
	case isSystemApp:
		return models.RiskLevelSystemSafe
	default:
		return models.RiskLevelLow
	}
}
