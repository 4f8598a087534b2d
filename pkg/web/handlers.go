// Package web exposes the engine over HTTP: enrollment, polling and cursor control.
package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// Engine is the subset of *engine.Engine the handlers call.
type Engine interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) (*engine.ExecutionResult, error)
	RunDue(ctx context.Context) (engine.RunResult, error)
	Execution(ctx context.Context, id string) (*engine.ExecutionDetail, error)
	Pause(ctx context.Context, id string) (*models.Execution, error)
	Resume(ctx context.Context, id string) (*models.Execution, error)
	Cancel(ctx context.Context, id string) (*models.Execution, error)
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	engine Engine
	logger *slog.Logger
	secret string
}

// NewAPIHandlers builds the handlers. An empty secret disables the header check.
func NewAPIHandlers(engine Engine, logger *slog.Logger, secret string) *APIHandlers {
	return &APIHandlers{
		engine: engine,
		logger: logger,
		secret: secret,
	}
}

// Register mounts every route on the router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	router.Post("/trigger", h.RequireSecret, h.Trigger)
	router.Post("/poll", h.RequireSecret, h.Poll)

	executions := router.Group("/executions", h.RequireSecret)
	executions.Get("/:id", h.GetExecution)
	executions.Post("/:id/pause", h.PauseExecution)
	executions.Post("/:id/resume", h.ResumeExecution)
	executions.Post("/:id/cancel", h.CancelExecution)
}

// RequireSecret rejects requests whose secret header does not match.
func (h *APIHandlers) RequireSecret(c fiber.Ctx) error {
	if h.secret == "" {
		return c.Next()
	}

	if subtle.ConstantTimeCompare([]byte(c.Get(SecretHeader)), []byte(h.secret)) != 1 {
		h.logger.WarnContext(c.Context(), "rejected request with bad secret", "path", c.Path(), "ip", c.IP())

		return unauthorized(c)
	}

	return c.Next()
}

func (h *APIHandlers) Trigger(c fiber.Ctx) error {
	var req TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	result, err := h.engine.Trigger(c.Context(), req.toEngine())
	if err != nil {
		h.logError(c, "trigger failed", err)

		return handleEngineError(c, err)
	}

	return c.JSON(TriggerResponse{
		Success:      true,
		ExecutionID:  result.ExecutionID,
		WorkflowID:   result.WorkflowID,
		SubscriberID: result.SubscriberID,
		NextStepAt:   result.NextStepAt,
		Restarted:    result.Restarted,
	})
}

func (h *APIHandlers) Poll(c fiber.Ctx) error {
	result, err := h.engine.RunDue(c.Context())
	if err != nil {
		h.logError(c, "poll pass aborted", err)

		return handleEngineError(c, err)
	}

	return c.JSON(PollResponse{
		Processed: result.Processed,
		Errors:    result.Errors,
		Skipped:   result.Skipped,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	detail, err := h.engine.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	return h.control(c, h.engine.Pause)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.control(c, h.engine.Resume)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	return h.control(c, h.engine.Cancel)
}

func (h *APIHandlers) control(c fiber.Ctx, op func(context.Context, string) (*models.Execution, error)) error {
	execution, err := op(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	store := "ok"

	if err := h.engine.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		store = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"store": store,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) logError(c fiber.Ctx, msg string, err error) {
	level := slog.LevelWarn
	if engine.IsStoreError(err) {
		level = slog.LevelError
	}

	h.logger.Log(c.Context(), level, msg, "path", c.Path(), "error", err)
}
