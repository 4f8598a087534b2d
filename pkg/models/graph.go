package models

import (
	"fmt"
	"slices"
	"time"
)

// Graph is the immutable, validated step graph of one workflow.
type Graph struct {
	workflowID string
	steps      map[int]Step
	orders     []int
}

// NewGraph indexes steps by order. Orders must be unique positive integers;
// branch targets are not required to exist.
func NewGraph(workflowID string, steps []Step) (*Graph, error) {
	g := &Graph{
		workflowID: workflowID,
		steps:      make(map[int]Step, len(steps)),
		orders:     make([]int, 0, len(steps)),
	}

	for _, step := range steps {
		if step == nil {
			return nil, fmt.Errorf("%w: nil step in workflow %s", ErrInvalidStep, workflowID)
		}

		order := step.Base().Order
		if order <= 0 {
			return nil, fmt.Errorf("%w: order must be positive, got %d", ErrInvalidStep, order)
		}

		if _, exists := g.steps[order]; exists {
			return nil, fmt.Errorf("%w: %d in workflow %s", ErrDuplicateStep, order, workflowID)
		}

		g.steps[order] = step
		g.orders = append(g.orders, order)
	}

	slices.Sort(g.orders)

	return g, nil
}

func (g *Graph) WorkflowID() string { return g.workflowID }

// StepAt returns the step at order, if any.
func (g *Graph) StepAt(order int) (Step, bool) {
	step, ok := g.steps[order]

	return step, ok
}

// DefaultNext is the order every non-branching step advances to.
func (g *Graph) DefaultNext(order int) int {
	return order + 1
}

// Next resolves where a cursor goes after step. result is only consulted for
// condition steps. A branch target with no step falls through to the default next.
func (g *Graph) Next(step Step, result bool) int {
	order := step.Base().Order

	cond, ok := step.(ConditionStep)
	if !ok {
		return g.DefaultNext(order)
	}

	next := cond.Next(result)
	if _, exists := g.steps[next]; !exists {
		return g.DefaultNext(order)
	}

	return next
}

// DelayBefore is the wait applied when a cursor enters order; missing steps have none.
func (g *Graph) DelayBefore(order int) time.Duration {
	step, ok := g.steps[order]
	if !ok {
		return 0
	}

	return step.Base().Delay.Duration()
}

// Orders returns the step orders in ascending order.
func (g *Graph) Orders() []int {
	return slices.Clone(g.orders)
}

// Steps returns the steps in ascending order.
func (g *Graph) Steps() []Step {
	steps := make([]Step, 0, len(g.orders))
	for _, order := range g.orders {
		steps = append(steps, g.steps[order])
	}

	return steps
}

func (g *Graph) Len() int { return len(g.orders) }
