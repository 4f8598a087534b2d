package models

// ActionType names a side-effecting operation applied to a subscriber.
// The set is open-ended; these are the types the dispatcher ships with.
type ActionType string

const (
	ActionAddTag           ActionType = "add_tag"
	ActionRemoveTag        ActionType = "remove_tag"
	ActionUpdateLeadScore  ActionType = "update_lead_score"
	ActionUpdateEngagement ActionType = "update_engagement"
	ActionCreateTask       ActionType = "create_task"
	ActionSendNotification ActionType = "send_notification"
	ActionSendWebhook      ActionType = "send_webhook"
)
