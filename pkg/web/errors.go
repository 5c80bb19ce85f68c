package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/agenciapixel/connectflow/pkg/flow"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps typed engine errors onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	var validationFailed *flow.ValidationFailedError

	switch {
	case errors.As(err, &validationFailed):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ValidationResultResponse{
			Valid:  false,
			Errors: transformValidationErrors(validationFailed.Errors),
		})

	case errors.Is(err, persistence.ErrFlowNotFound):
		return notFound(c, "flow not found")

	case errors.Is(err, persistence.ErrRunNotFound):
		return notFound(c, "run not found")

	case errors.Is(err, persistence.ErrFlowImmutable):
		return conflict(c, "published flow versions are immutable")

	default:
		return internalError(c, err)
	}
}

func transformValidationErrors(errs []flow.ValidationError) []ValidationIssue {
	issues := make([]ValidationIssue, 0, len(errs))
	for _, err := range errs {
		issues = append(issues, ValidationIssue{
			StepID:  err.StepID,
			Field:   err.Field,
			Message: err.Message,
		})
	}

	return issues
}
