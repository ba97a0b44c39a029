package streaming

import (
	"context"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
)

// EventBusPublisher implements services.EventPublisher on top of the
// EventBus and the WebSocket hub
type EventBusPublisher struct {
	eventBus *EventBus
	wsHub    *WebSocketHub
}

var _ services.EventPublisher = (*EventBusPublisher)(nil)

// NewEventBusPublisher creates a new publisher adapter. Either side may be nil.
func NewEventBusPublisher(eventBus *EventBus, wsHub *WebSocketHub) *EventBusPublisher {
	return &EventBusPublisher{
		eventBus: eventBus,
		wsHub:    wsHub,
	}
}

// PublishScanProgress only reaches WebSocket clients
func (p *EventBusPublisher) PublishScanProgress(_ context.Context, progress models.ScanProgress) error {
	if p.wsHub != nil {
		p.wsHub.BroadcastEvent(NewProgressEvent(progress))
	}
	return nil
}

// PublishScanCompleted publishes the final device verdict of a rescan
func (p *EventBusPublisher) PublishScanCompleted(ctx context.Context, summary *models.ScanSummary) error {
	return p.publish(ctx, NewCompletedEvent(summary))
}

// PublishVerdictUpdated publishes a refreshed malware verdict
func (p *EventBusPublisher) PublishVerdictUpdated(ctx context.Context, record *models.ApplicationRecord) error {
	return p.publish(ctx, NewVerdictEvent(record))
}

func (p *EventBusPublisher) publish(ctx context.Context, event *ScanEvent) error {
	if p.eventBus != nil {
		if err := p.eventBus.Publish(ctx, event); err != nil {
			return err
		}
	}
	if p.wsHub != nil {
		p.wsHub.BroadcastEvent(event)
	}
	return nil
}
