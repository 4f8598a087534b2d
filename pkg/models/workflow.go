// Package models defines the domain models of the marketing-automation engine.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not enrollable
	WorkflowStatusActive   WorkflowStatus = "active"   // Accepts new enrollments
	WorkflowStatusInactive WorkflowStatus = "inactive" // Existing cursors keep running, no new enrollments
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusInactive:
		return true
	}

	return false
}

// Workflow is a named graph of steps executed once per enrolled subscriber.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"      validate:"required,oneof=draft active inactive"`
	Steps       []Step         `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsActive reports whether the workflow accepts enrollments.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// Graph builds the validated step graph of the workflow.
func (w *Workflow) Graph() (*Graph, error) {
	return NewGraph(w.ID, w.Steps)
}
