package events

// EmailRequested hands a rendered email to a delivery service.
type EmailRequested struct {
	BaseEvent

	IdempotencyKey string `json:"idempotency_key"`
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
}

func (EmailRequested) GetType() EventType { return EmailRequestedEvent }

// TaskRequested asks a CRM-side service to open a follow-up task.
type TaskRequested struct {
	BaseEvent

	Title     string `json:"title"`
	Assignee  string `json:"assignee,omitempty"`
	DueInDays int    `json:"due_in_days,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (TaskRequested) GetType() EventType { return TaskRequestedEvent }

// NotificationRequested asks for an internal notification (chat, email to staff).
type NotificationRequested struct {
	BaseEvent

	Channel string `json:"channel,omitempty"`
	Message string `json:"message"`
}

func (NotificationRequested) GetType() EventType { return NotificationRequestedEvent }

// TriggerRequested is an enrollment request arriving over the bus. It carries
// the same identifiers as the HTTP trigger endpoint.
type TriggerRequested struct {
	BaseEvent

	WorkflowName    string `json:"workflow_name,omitempty"`
	SubscriberEmail string `json:"subscriber_email,omitempty"`
}

func (TriggerRequested) GetType() EventType { return TriggerRequestedEvent }
