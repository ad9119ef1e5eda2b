package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/redis/go-redis/v9"
)

const (
	sessionEventsChannel = "session:%s:events"
	publishTimeout       = 250 * time.Millisecond
)

func EventsChannel(sessionID string) string {
	return fmt.Sprintf(sessionEventsChannel, sessionID)
}

// Publisher fans session events out over redis pub/sub.
type Publisher struct {
	redis     *redis.Client
	sessionID string
	log       *slog.Logger
}

func NewPublisher(redisClient *redis.Client, sessionID string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		redis:     redisClient,
		sessionID: sessionID,
		log:       log.With("component", "publisher", "session_id", sessionID),
	}
}

func (p *Publisher) Observe(ctx context.Context, ev protocol.Event) {
	if err := p.publish(ctx, FromEvent(p.sessionID, ev)); err != nil {
		p.log.Warn("failed to publish event", "type", ev.EventType(), "error", err)
	}
}

func (p *Publisher) Publish(ctx context.Context, typ string, payload any) error {
	return p.publish(ctx, NewEnvelope(p.sessionID, typ, payload))
}

func (p *Publisher) publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.redis.Publish(ctx, EventsChannel(p.sessionID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}
