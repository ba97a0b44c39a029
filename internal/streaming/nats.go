package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"privacyguard/internal/config"
	"privacyguard/pkg/logger"
)

// NATSPublisher publishes scan events to NATS. Completion and verdict events
// go through JetStream; progress is published on core NATS since it is only
// useful while the scan runs.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config config.NATSConfig
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewNATSPublisher creates a new NATS publisher
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	log = log.WithComponent("nats")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "PRIVACYGUARD_SCANS"
	}
	if cfg.Subjects.ScanProgress == "" {
		cfg.Subjects.ScanProgress = "scans.progress"
	}
	if cfg.Subjects.ScanCompleted == "" {
		cfg.Subjects.ScanCompleted = "scans.completed"
	}
	if cfg.Subjects.VerdictUpdated == "" {
		cfg.Subjects.VerdictUpdated = "scans.verdict"
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connecting to NATS")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("privacyguard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "PrivacyGuard scan events",
		Subjects:    []string{cfg.Subjects.ScanCompleted, cfg.Subjects.VerdictUpdated},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     100000,
		MaxBytes:    100 * 1024 * 1024,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("NATS stream ready")

	return &NATSPublisher{
		conn:      conn,
		js:        js,
		stream:    stream,
		config:    cfg,
		logger:    log,
		connected: true,
	}, nil
}

// Close closes the NATS connection
func (p *NATSPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.connected = false
	}
}

// IsConnected returns whether NATS is connected
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn.IsConnected()
}

// PublishEvent publishes a scan event to its subject
func (p *NATSPublisher) PublishEvent(ctx context.Context, event *ScanEvent) error {
	if !p.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}

	subject := p.subjectFor(event.Type)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if event.Type == EventTypeScanProgress {
		if err := p.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		return nil
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("event_type", string(event.Type)).
		Str("scan_id", event.ScanID).
		Msg("published scan event")

	return nil
}

func (p *NATSPublisher) subjectFor(t EventType) string {
	switch t {
	case EventTypeScanProgress:
		return p.config.Subjects.ScanProgress
	case EventTypeVerdictUpdated:
		return p.config.Subjects.VerdictUpdated
	default:
		return p.config.Subjects.ScanCompleted
	}
}

// Subscribe delivers new persisted events (completions and verdicts) that
// match sub until ctx is done.
func (p *NATSPublisher) Subscribe(ctx context.Context, sub *Subscription) (<-chan *ScanEvent, error) {
	if !p.IsConnected() {
		return nil, fmt.Errorf("NATS not connected")
	}

	consumer, err := p.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	eventCh := make(chan *ScanEvent, 100)

	go func() {
		defer close(eventCh)

		msgs, err := consumer.Messages()
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to get messages iterator")
			return
		}
		defer msgs.Stop()

		// Next blocks; stop the iterator when ctx ends so it returns
		go func() {
			<-ctx.Done()
			msgs.Stop()
		}()

		for {
			msg, err := msgs.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn().Err(err).Msg("error getting next message")
				continue
			}

			var event ScanEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				p.logger.Warn().Err(err).Msg("failed to unmarshal event")
				_ = msg.Term()
				continue
			}

			if sub != nil && !sub.Matches(&event) {
				_ = msg.Ack()
				continue
			}

			select {
			case eventCh <- &event:
				_ = msg.Ack()
			case <-ctx.Done():
				return
			}
		}
	}()

	return eventCh, nil
}
