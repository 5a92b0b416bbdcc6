// Package notify publishes security alerts and audit trail entries.
// Delivery to chat/email transports happens in external consumers;
// here dispatch is fire-and-forget and must never block or fail a
// validation response.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"licgate/pkg/contracts/domain"
)

const (
	channelPrefix  = "notify:"
	activityStream = "activity"
)

// Publisher dispatches notifications over Redis pub/sub.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher creates a notification publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Notify publishes message to the named channel. Errors are returned
// for the caller to log; they are never propagated to the wire.
func (p *Publisher) Notify(ctx context.Context, channel, message string) error {
	if err := p.client.Publish(ctx, channelPrefix+channel, message).Err(); err != nil {
		return fmt.Errorf("notify publish failed: %w", err)
	}
	return nil
}

// ActivityLog appends audit trail entries to a Redis stream, mirroring
// each entry to the structured log. Append-only: nothing in the engine
// reads it back.
type ActivityLog struct {
	client *redis.Client
	logger *slog.Logger
}

// NewActivityLog creates an audit trail writer.
func NewActivityLog(client *redis.Client, logger *slog.Logger) *ActivityLog {
	return &ActivityLog{
		client: client,
		logger: logger.With(slog.String("component", "activity")),
	}
}

// LogActivity persists one audit entry.
func (a *ActivityLog) LogActivity(ctx context.Context, act domain.Activity) error {
	a.logger.InfoContext(ctx, "activity",
		slog.String("subject", act.Subject),
		slog.String("severity", act.Severity),
		slog.String("action", act.Action),
		slog.String("message", act.Message),
	)
	err := a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: activityStream,
		Values: map[string]interface{}{
			"subject":   act.Subject,
			"severity":  act.Severity,
			"action":    act.Action,
			"message":   act.Message,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("activity append failed: %w", err)
	}
	return nil
}
