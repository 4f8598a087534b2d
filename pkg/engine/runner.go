package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// RunResult counts one batch pass. Failed step attempts count as errors.
type RunResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// RunDue advances every cursor due now. Cursors are read in pages of the
// configured batch size and each is attempted at most once per pass. A failure on one cursor is logged and counted without stopping the rest;
// only an unreachable store aborts the pass.
func (e *Engine) RunDue(ctx context.Context) (RunResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.run_due")
	defer span.End()

	result, err := e.runDue(ctx)

	span.SetAttributes(
		attribute.Int("nurture.batch.processed", result.Processed),
		attribute.Int("nurture.batch.errors", result.Errors),
		attribute.Int("nurture.batch.skipped", result.Skipped),
	)

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

func (e *Engine) runDue(ctx context.Context) (RunResult, error) {
	now := e.clock()
	repo := e.store.ExecutionRepository()
	graphs := newGraphCache(e.store.WorkflowRepository())

	var (
		counts  passCounts
		last    *models.Execution
		pages   int
		visited = make(map[string]struct{})
	)

	for {
		var (
			page []*models.Execution
			err  error
		)

		if last == nil {
			page, err = repo.Due(ctx, now, e.config.BatchSize)
		} else {
			page, err = repo.DueAfter(ctx, now, last, e.config.BatchSize)
		}

		if err != nil {
			return counts.result(), storeError("Due", err)
		}

		if len(page) == 0 {
			break
		}

		pages++
		last = page[len(page)-1]

		// A cursor that advanced with no delay can show up again later in the
		// same pass; it waits for the next one.
		fresh := make([]*models.Execution, 0, len(page))

		for _, execution := range page {
			if _, ok := visited[execution.ID]; ok {
				continue
			}

			visited[execution.ID] = struct{}{}
			fresh = append(fresh, execution)
		}

		e.logger.DebugContext(ctx, "processing due executions", "count", len(fresh), "page", pages)

		if err := e.runPage(ctx, graphs, fresh, &counts); err != nil {
			return counts.result(), storeError("RunDue", err)
		}

		if len(page) < e.config.BatchSize {
			break
		}
	}

	result := counts.result()

	if len(visited) > 0 {
		e.logger.InfoContext(ctx, "batch finished",
			"processed", result.Processed, "errors", result.Errors, "skipped", result.Skipped, "pages", pages)
	}

	return result, nil
}

type passCounts struct {
	processed, failed, skipped atomic.Int64
}

func (c *passCounts) result() RunResult {
	return RunResult{
		Processed: int(c.processed.Load()),
		Errors:    int(c.failed.Load()),
		Skipped:   int(c.skipped.Load()),
	}
}

// runPage advances one page of due cursors with bounded concurrency. It returns
// an error only when the pass must stop.
func (e *Engine) runPage(ctx context.Context, graphs *graphCache, due []*models.Execution, counts *passCounts) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for _, execution := range due {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			result, err := e.runOne(gctx, graphs, execution)
			if err == nil {
				switch result.Outcome {
				case OutcomeAdvanced, OutcomeCompleted:
					counts.processed.Add(1)
				case OutcomeFailed, OutcomeDeadLettered:
					counts.failed.Add(1)
				case OutcomeSkipped:
					counts.skipped.Add(1)
				}

				return nil
			}

			counts.failed.Add(1)

			if e.aborts(gctx, err) {
				return err
			}

			e.logger.ErrorContext(gctx, "failed to process execution",
				"execution_id", execution.ID, "workflow_id", execution.WorkflowID, "error", err)

			entry := models.NewStepLog(execution.ID, nil, models.StepLogStatusFailed, err, e.clock())
			if logErr := e.appendLog(gctx, entry); logErr != nil {
				e.logger.ErrorContext(gctx, "failed to record execution failure",
					"execution_id", execution.ID, "error", logErr)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

func (e *Engine) runOne(ctx context.Context, graphs *graphCache, execution *models.Execution) (AdvanceResult, error) {
	graph, err := graphs.get(ctx, execution.WorkflowID)
	if err != nil {
		return AdvanceResult{}, err
	}

	subscriber, err := e.store.SubscriberRepository().ByID(ctx, execution.SubscriberID)
	if err != nil {
		if errors.Is(err, persistence.ErrSubscriberNotFound) {
			return AdvanceResult{}, newError("RunDue", ErrNotFound, "subscriber %s of execution %s", execution.SubscriberID, execution.ID)
		}

		return AdvanceResult{}, storeError("LoadSubscriber", err)
	}

	return e.Advance(ctx, execution, graph, subscriber)
}

// aborts reports whether err means the store is gone and the pass must stop.
func (e *Engine) aborts(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}

	if !IsStoreError(err) {
		return false
	}

	if errors.Is(err, persistence.ErrStoreUnavailable) {
		return true
	}

	return e.store.HealthCheck(ctx) != nil
}

// graphCache loads each workflow's graph once per pass.
type graphCache struct {
	repo persistence.WorkflowRepository

	mu     sync.Mutex
	graphs map[string]*models.Graph
}

func newGraphCache(repo persistence.WorkflowRepository) *graphCache {
	return &graphCache{repo: repo, graphs: make(map[string]*models.Graph)}
}

// get returns the graph of workflowID. A deleted workflow yields an empty
// graph, so its cursors complete instead of failing every pass.
func (c *graphCache) get(ctx context.Context, workflowID string) (*models.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if graph, ok := c.graphs[workflowID]; ok {
		return graph, nil
	}

	var steps []models.Step

	workflow, err := c.repo.ByID(ctx, workflowID)

	switch {
	case err == nil:
		steps = workflow.Steps
	case errors.Is(err, persistence.ErrWorkflowNotFound):
	default:
		return nil, storeError("LoadWorkflow", err)
	}

	graph, err := models.NewGraph(workflowID, steps)
	if err != nil {
		return nil, newError("LoadWorkflow", ErrValidation, "workflow %s: %v", workflowID, err)
	}

	c.graphs[workflowID] = graph

	return graph, nil
}
