package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/email"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/redis/go-redis/v9"
)

const (
	EmailSenderLog      = "log"
	EmailSenderEventBus = "eventbus"
)

var ErrEmailNeedsEventBus = errors.New("the eventbus email sender requires an event bus")

// NewEmailSender builds the configured sender. A non-empty redisURL wraps it
// in the Redis de-duplication guard; the returned close func releases Redis.
func NewEmailSender(
	ctx context.Context,
	kind string,
	bus eventbus.EventBus,
	redisURL string,
	logger *slog.Logger,
) (email.Sender, func() error, error) {
	var sender email.Sender

	switch kind {
	case EmailSenderLog, "":
		sender = email.NewLogSender(logger)
	case EmailSenderEventBus:
		if bus == nil {
			return nil, nil, ErrEmailNeedsEventBus
		}

		sender = email.NewEventSender(bus)
	default:
		return nil, nil, fmt.Errorf("unsupported email sender: %s", kind)
	}

	noop := func() error { return nil }

	if redisURL == "" {
		return sender, noop, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.InfoContext(ctx, "email de-duplication enabled", "redis", opts.Addr)

	return email.NewDeduplicator(sender, client, logger), client.Close, nil
}
