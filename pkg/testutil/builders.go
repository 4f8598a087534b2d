// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"

	"github.com/dukex/nurture/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates an active workflow with the given steps.
func CreateTestWorkflow(steps []models.Step, overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:     uuid.NewString(),
		Name:   "Test Workflow",
		Status: models.WorkflowStatusActive,
		Steps:  steps,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithWorkflowName sets the workflow name.
func WithWorkflowName(name string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Name = name
	}
}

// WithWorkflowStatus sets the workflow status.
func WithWorkflowStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// CreateTestSubscriber creates a subscribed subscriber that can be overridden.
func CreateTestSubscriber(overrides ...func(*models.Subscriber)) *models.Subscriber {
	id := uuid.NewString()
	subscriber := &models.Subscriber{
		ID:         id,
		Email:      fmt.Sprintf("sub-%s@example.com", id[:8]),
		Name:       "Ana Souza",
		FirstName:  "Ana",
		LastName:   "Souza",
		Subscribed: true,
	}

	for _, override := range overrides {
		override(subscriber)
	}

	return subscriber
}

// WithEmail sets the subscriber email.
func WithEmail(email string) func(*models.Subscriber) {
	return func(s *models.Subscriber) {
		s.Email = email
	}
}

// WithTotalOpens sets the subscriber open count.
func WithTotalOpens(opens int) func(*models.Subscriber) {
	return func(s *models.Subscriber) {
		s.TotalOpens = opens
	}
}

// WithTags sets the subscriber tags.
func WithTags(tags ...string) func(*models.Subscriber) {
	return func(s *models.Subscriber) {
		s.Tags = tags
	}
}

// Email builds an email step.
func Email(order int, subject, body string) models.EmailStep {
	return models.EmailStep{StepBase: base(order), Subject: subject, Body: body}
}

// Delay builds a delay step waiting value units.
func Delay(order, value int, unit models.DelayUnit) models.DelayStep {
	step := models.DelayStep{StepBase: base(order)}
	step.Delay = models.Delay{Value: value, Unit: unit}

	return step
}

// Condition builds a condition step branching to trueNext or falseNext.
func Condition(order int, field string, op models.ConditionOperator, value string, trueNext, falseNext int) models.ConditionStep {
	return models.ConditionStep{
		StepBase:  base(order),
		Field:     field,
		Operator:  op,
		Value:     value,
		TrueNext:  trueNext,
		FalseNext: falseNext,
	}
}

// Action builds an action step.
func Action(order int, actionType models.ActionType, params map[string]any) models.ActionStep {
	return models.ActionStep{StepBase: base(order), ActionType: actionType, Params: params}
}

func base(order int) models.StepBase {
	return models.StepBase{ID: fmt.Sprintf("step-%d", order), Order: order}
}
