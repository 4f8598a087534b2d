package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultDedupPrefix = "nurture:email:"
	DefaultDedupTTL    = 7 * 24 * time.Hour
)

// Deduplicator wraps a Sender and drops messages whose idempotency key was
// already sent within the TTL. Messages without a key pass through.
type Deduplicator struct {
	next   Sender
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type DedupOption func(*Deduplicator)

func WithPrefix(prefix string) DedupOption {
	return func(d *Deduplicator) { d.prefix = prefix }
}

func WithTTL(ttl time.Duration) DedupOption {
	return func(d *Deduplicator) { d.ttl = ttl }
}

func NewDeduplicator(next Sender, client redis.UniversalClient, logger *slog.Logger, opts ...DedupOption) *Deduplicator {
	d := &Deduplicator{
		next:   next,
		client: client,
		prefix: DefaultDedupPrefix,
		ttl:    DefaultDedupTTL,
		logger: logger.With("module", "email_dedup"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Deduplicator) Send(ctx context.Context, msg Message) error {
	if msg.IdempotencyKey == "" {
		return d.next.Send(ctx, msg)
	}

	key := d.prefix + msg.IdempotencyKey

	acquired, err := d.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return fmt.Errorf("email dedup: %w", err)
	}

	if !acquired {
		d.logger.InfoContext(ctx, "skipping duplicate email",
			"idempotency_key", msg.IdempotencyKey, "execution_id", msg.ExecutionID)

		return nil
	}

	if err := d.next.Send(ctx, msg); err != nil {
		// Context may already be cancelled; the release must still go out.
		if delErr := d.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			d.logger.WarnContext(ctx, "failed to release email dedup key", "key", key, "error", delErr)
		}

		return err
	}

	return nil
}
