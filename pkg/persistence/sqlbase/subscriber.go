package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

const subscriberColumns = `id, email, name, first_name, last_name, subscribed, lead_score, engagement_level,
	total_opens, total_clicks, total_purchases, total_spent, attributes, created_at, updated_at`

// SubscriberRepository handles subscriber and tag database operations.
type SubscriberRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewSubscriberRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *SubscriberRepository {
	return &SubscriberRepository{db: db, dialect: dialect, logger: logger}
}

// Save upserts the subscriber by ID and replaces its tag set.
func (r *SubscriberRepository) Save(ctx context.Context, subscriber *models.Subscriber) error {
	now := time.Now().UTC()

	if subscriber.ID == "" {
		subscriber.ID = uuid.NewString()
	}

	if subscriber.CreatedAt.IsZero() {
		subscriber.CreatedAt = now
	}

	subscriber.UpdatedAt = now
	subscriber.Email = models.NormalizeEmail(subscriber.Email)

	attributes, err := json.Marshal(subscriber.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", storeErr(err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO subscribers (`+subscriberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			subscribed = EXCLUDED.subscribed,
			lead_score = EXCLUDED.lead_score,
			engagement_level = EXCLUDED.engagement_level,
			total_opens = EXCLUDED.total_opens,
			total_clicks = EXCLUDED.total_clicks,
			total_purchases = EXCLUDED.total_purchases,
			total_spent = EXCLUDED.total_spent,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at
	`),
		subscriber.ID, subscriber.Email, subscriber.Name, subscriber.FirstName, subscriber.LastName,
		subscriber.Subscribed, subscriber.LeadScore, subscriber.EngagementLevel,
		subscriber.TotalOpens, subscriber.TotalClicks, subscriber.TotalPurchases, subscriber.TotalSpent,
		string(attributes), subscriber.CreatedAt.UTC(), subscriber.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscriber: %w", storeErr(err))
	}

	_, err = tx.ExecContext(ctx, r.dialect.rebind("DELETE FROM subscriber_tags WHERE subscriber_id = $1"), subscriber.ID)
	if err != nil {
		return fmt.Errorf("failed to clear tags: %w", storeErr(err))
	}

	for _, tag := range uniqueTags(subscriber.Tags) {
		_, err = tx.ExecContext(ctx, r.dialect.rebind(
			"INSERT INTO subscriber_tags (subscriber_id, tag, created_at) VALUES ($1, $2, $3)"), subscriber.ID, tag, now)
		if err != nil {
			return fmt.Errorf("failed to save tag %q: %w", tag, storeErr(err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit subscriber: %w", storeErr(err))
	}

	return nil
}

func (r *SubscriberRepository) ByID(ctx context.Context, id string) (*models.Subscriber, error) {
	return r.one(ctx, "id = $1", id)
}

func (r *SubscriberRepository) ByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	return r.one(ctx, "email = $1", models.NormalizeEmail(email))
}

// FindOrCreateByEmail inserts a subscribed row unless the email exists, then reads it back.
func (r *SubscriberRepository) FindOrCreateByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	email = models.NormalizeEmail(email)
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO subscribers (`+subscriberColumns+`)
		VALUES ($1, $2, '', '', '', $3, 0, '', 0, 0, 0, 0, '{}', $4, $4)
		ON CONFLICT (email) DO NOTHING
	`), uuid.NewString(), email, true, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", storeErr(err))
	}

	return r.ByEmail(ctx, email)
}

func (r *SubscriberRepository) AddTag(ctx context.Context, id, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("tag must not be empty")
	}

	if err := r.exists(ctx, id); err != nil {
		return err
	}

	// Tags match case-insensitively, so an existing "engaged" absorbs "Engaged".
	var present int

	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		"SELECT COUNT(*) FROM subscriber_tags WHERE subscriber_id = $1 AND LOWER(tag) = LOWER($2)"), id, tag).Scan(&present)
	if err != nil {
		return fmt.Errorf("failed to look up tag: %w", storeErr(err))
	}

	if present > 0 {
		return nil
	}

	_, err = r.db.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO subscriber_tags (subscriber_id, tag, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, tag) DO NOTHING
	`), id, tag, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add tag: %w", storeErr(err))
	}

	return nil
}

// RemoveTag deletes tag from the subscriber; removing an absent tag is not an error.
func (r *SubscriberRepository) RemoveTag(ctx context.Context, id, tag string) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, r.dialect.rebind(
		"DELETE FROM subscriber_tags WHERE subscriber_id = $1 AND LOWER(tag) = LOWER($2)"), id, strings.TrimSpace(tag))
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", storeErr(err))
	}

	return nil
}

func (r *SubscriberRepository) AdjustLeadScore(ctx context.Context, id string, delta int) (int, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(
		"UPDATE subscribers SET lead_score = lead_score + $2, updated_at = $3 WHERE id = $1"), id, delta, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to adjust lead score: %w", storeErr(err))
	}

	if err := notFoundIfNone(result, id); err != nil {
		return 0, err
	}

	var score int

	err = r.db.QueryRowContext(ctx, r.dialect.rebind("SELECT lead_score FROM subscribers WHERE id = $1"), id).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("failed to read lead score: %w", storeErr(err))
	}

	return score, nil
}

func (r *SubscriberRepository) SetEngagement(ctx context.Context, id, level string) error {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(
		"UPDATE subscribers SET engagement_level = $2, updated_at = $3 WHERE id = $1"), id, level, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set engagement level: %w", storeErr(err))
	}

	return notFoundIfNone(result, id)
}

func (r *SubscriberRepository) Tags(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(
		"SELECT tag FROM subscriber_tags WHERE subscriber_id = $1 ORDER BY tag"), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", storeErr(err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err)
		}
	}()

	tags := []string{}

	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}

		tags = append(tags, tag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", storeErr(err))
	}

	return tags, nil
}

func (r *SubscriberRepository) one(ctx context.Context, where string, key string) (*models.Subscriber, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind("SELECT "+subscriberColumns+" FROM subscribers WHERE "+where), key)

	subscriber, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrSubscriberNotFound, key)
		}

		return nil, fmt.Errorf("failed to scan subscriber: %w", storeErr(err))
	}

	subscriber.Tags, err = r.Tags(ctx, subscriber.ID)
	if err != nil {
		return nil, err
	}

	return subscriber, nil
}

func (r *SubscriberRepository) exists(ctx context.Context, id string) error {
	var found string

	err := r.db.QueryRowContext(ctx, r.dialect.rebind("SELECT id FROM subscribers WHERE id = $1"), id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", persistence.ErrSubscriberNotFound, id)
	}

	if err != nil {
		return fmt.Errorf("failed to look up subscriber: %w", storeErr(err))
	}

	return nil
}

func notFoundIfNone(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrSubscriberNotFound, id)
	}

	return nil
}

func scanSubscriber(row scanner) (*models.Subscriber, error) {
	var (
		subscriber models.Subscriber
		attributes []byte
	)

	err := row.Scan(
		&subscriber.ID, &subscriber.Email, &subscriber.Name, &subscriber.FirstName, &subscriber.LastName,
		&subscriber.Subscribed, &subscriber.LeadScore, &subscriber.EngagementLevel,
		&subscriber.TotalOpens, &subscriber.TotalClicks, &subscriber.TotalPurchases, &subscriber.TotalSpent,
		&attributes, &subscriber.CreatedAt, &subscriber.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &subscriber.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}

	subscriber.CreatedAt = subscriber.CreatedAt.UTC()
	subscriber.UpdatedAt = subscriber.UpdatedAt.UTC()

	return &subscriber, nil
}

func uniqueTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)

		if tag == "" || seen[key] {
			continue
		}

		seen[key] = true
		out = append(out, tag)
	}

	return out
}
