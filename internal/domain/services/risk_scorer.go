package services

import (
	"privacyguard/internal/domain/models"
)

// RiskScorer runs the per-app pipeline: classify, look up trackers, evaluate
// rules, normalize. It holds no mutable state and is safe for concurrent use.
type RiskScorer struct {
	classifier *PermissionClassifier
	catalog    *TrackerCatalog
	engine     *RuleEngine
}

// NewRiskScorer creates a new risk scorer
func NewRiskScorer(classifier *PermissionClassifier, catalog *TrackerCatalog, engine *RuleEngine) *RiskScorer {
	return &RiskScorer{
		classifier: classifier,
		catalog:    catalog,
		engine:     engine,
	}
}

// WithClassifier returns a scorer that uses a different classifier
func (s *RiskScorer) WithClassifier(classifier *PermissionClassifier) *RiskScorer {
	return &RiskScorer{classifier: classifier, catalog: s.catalog, engine: s.engine}
}

// Score computes the risk result for one inventory item
func (s *RiskScorer) Score(item models.InventoryItem) models.RiskResult {
	facts := s.classifier.ClassifyAll(item.Permissions)

	raw, alerts := s.engine.Evaluate(RuleInput{
		Permissions: models.NewPermissionSet(facts),
		Trackers:    s.catalog.TrackersFor(item.PackageName),
		Category:    item.Category,
		IsSystemApp: item.IsSystemApp,
	})

	score := NormalizeScore(raw, item.IsSystemApp)
	return models.RiskResult{
		Score:  score,
		Level:  LevelForScore(score, item.IsSystemApp),
		Alerts: alerts,
	}
}
