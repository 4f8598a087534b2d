package web

import (
	"github.com/dukex/nurture/pkg/engine"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func unauthorized(c fiber.Ctx) error {
	return problem(c, fiber.StatusUnauthorized, "unauthorized", "missing or invalid trigger secret")
}

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

// handleEngineError maps the engine error taxonomy onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())

	case engine.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())

	case engine.IsConflict(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	default:
		// Store details stay in the logs.
		p := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithDetail("internal error")

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}
