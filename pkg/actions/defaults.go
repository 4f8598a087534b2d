package actions

import (
	"log/slog"
	"net/http"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/persistence"
)

// NewDefaultDispatcher registers every built-in action.
func NewDefaultDispatcher(
	logger *slog.Logger,
	subscribers persistence.SubscriberRepository,
	publisher eventbus.EventPublisher,
	client *http.Client,
) *Dispatcher {
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}

	return NewDispatcher(logger,
		NewAddTagAction(subscribers),
		NewRemoveTagAction(subscribers),
		NewLeadScoreAction(subscribers),
		NewEngagementAction(subscribers),
		NewTaskAction(publisher),
		NewNotificationAction(publisher),
		NewWebhookAction(client, logger),
	)
}
