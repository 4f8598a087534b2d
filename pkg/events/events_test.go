package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event interface{ GetType() EventType }
		want  EventType
	}{
		{ExecutionEnrolled{}, ExecutionEnrolledEvent},
		{StepProcessed{}, StepProcessedEvent},
		{StepFailed{}, StepFailedEvent},
		{ExecutionCompleted{}, ExecutionCompletedEvent},
		{ExecutionDeadLettered{}, ExecutionDeadLetteredEvent},
		{EmailRequested{}, EmailRequestedEvent},
		{TaskRequested{}, TaskRequestedEvent},
		{NotificationRequested{}, NotificationRequestedEvent},
		{TriggerRequested{}, TriggerRequestedEvent},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.event.GetType())
		})
	}
}

func TestNewBaseEvent(t *testing.T) {
	t.Parallel()

	base := NewBaseEvent(StepProcessedEvent, "wf-1", "exec-1", "sub-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, StepProcessedEvent, base.Type)
	assert.WithinDuration(t, time.Now(), base.Timestamp, time.Second)

	branch := false
	event := StepProcessed{BaseEvent: base, StepOrder: 3, StepKind: "condition", NextStep: 8, Branch: &branch}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	assert.Equal(t, "exec-1", fields["execution_id"])
	assert.Equal(t, "step.processed", fields["type"])
	assert.Equal(t, false, fields["branch"])
	assert.InDelta(t, 8, fields["next_step"], 0)
}
