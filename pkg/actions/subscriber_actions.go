package actions

import (
	"context"
	"fmt"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

// TagAction adds or removes a subscriber tag.
type TagAction struct {
	subscribers persistence.SubscriberRepository
	remove      bool
}

func NewAddTagAction(subscribers persistence.SubscriberRepository) *TagAction {
	return &TagAction{subscribers: subscribers}
}

func NewRemoveTagAction(subscribers persistence.SubscriberRepository) *TagAction {
	return &TagAction{subscribers: subscribers, remove: true}
}

func (a *TagAction) Type() models.ActionType {
	if a.remove {
		return models.ActionRemoveTag
	}

	return models.ActionAddTag
}

func (a *TagAction) Description() string {
	if a.remove {
		return "Removes a tag from the subscriber."
	}

	return "Adds a tag to the subscriber."
}

func (a *TagAction) Schema() map[string]any {
	return objectSchema([]string{"tag"}, map[string]any{"tag": nonEmptyString})
}

func (a *TagAction) Execute(ctx context.Context, req Request) error {
	tag := stringParam(req, "tag")
	if tag == "" {
		return fmt.Errorf("%w: tag is empty", ErrInvalidParams)
	}

	if a.remove {
		return a.subscribers.RemoveTag(ctx, req.SubscriberID(), tag)
	}

	return a.subscribers.AddTag(ctx, req.SubscriberID(), tag)
}

// LeadScoreAction adds a (possibly negative) delta to the lead score.
type LeadScoreAction struct {
	subscribers persistence.SubscriberRepository
}

func NewLeadScoreAction(subscribers persistence.SubscriberRepository) *LeadScoreAction {
	return &LeadScoreAction{subscribers: subscribers}
}

func (*LeadScoreAction) Type() models.ActionType { return models.ActionUpdateLeadScore }

func (*LeadScoreAction) Description() string {
	return "Adjusts the subscriber lead score by delta."
}

func (*LeadScoreAction) Schema() map[string]any {
	return objectSchema([]string{"delta"}, map[string]any{
		"delta": map[string]any{"type": []string{"integer", "string"}},
	})
}

func (a *LeadScoreAction) Execute(ctx context.Context, req Request) error {
	delta, err := intParam(req, "delta")
	if err != nil {
		return err
	}

	score, err := a.subscribers.AdjustLeadScore(ctx, req.SubscriberID(), delta)
	if err != nil {
		return err
	}

	if req.Subscriber != nil {
		req.Subscriber.LeadScore = score
	}

	return nil
}

// EngagementAction sets the engagement level.
type EngagementAction struct {
	subscribers persistence.SubscriberRepository
}

func NewEngagementAction(subscribers persistence.SubscriberRepository) *EngagementAction {
	return &EngagementAction{subscribers: subscribers}
}

func (*EngagementAction) Type() models.ActionType { return models.ActionUpdateEngagement }

func (*EngagementAction) Description() string {
	return "Sets the subscriber engagement level."
}

func (*EngagementAction) Schema() map[string]any {
	return objectSchema([]string{"level"}, map[string]any{"level": nonEmptyString})
}

func (a *EngagementAction) Execute(ctx context.Context, req Request) error {
	level := stringParam(req, "level")
	if level == "" {
		return fmt.Errorf("%w: level is empty", ErrInvalidParams)
	}

	if err := a.subscribers.SetEngagement(ctx, req.SubscriberID(), level); err != nil {
		return err
	}

	if req.Subscriber != nil {
		req.Subscriber.EngagementLevel = level
	}

	return nil
}
