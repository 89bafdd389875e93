package web

import (
	"errors"
	"net/http"

	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// ValidationProblem is a problem document carrying the full validation outcome.
type ValidationProblem struct {
	*problems.DefaultProblem

	Mode     string   `json:"mode"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	var failure *services.ValidationFailure

	switch {
	case errors.As(err, &failure):
		problem := ValidationProblem{
			DefaultProblem: problems.NewStatusProblem(http.StatusUnprocessableEntity).
				WithInstance(c.Path()).
				WithType("definition_invalid").
				WithDetail(failure.Error()),
			Mode:     string(failure.Mode),
			Errors:   failure.Errors,
			Warnings: failure.Warnings,
		}

		if problem.Warnings == nil {
			problem.Warnings = []string{}
		}

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case persistence.IsJourneyNotFound(err):
		return notFound(c, "journey_not_found", "journey not found")

	case persistence.IsDraftNotFound(err):
		return notFound(c, "draft_not_found", "draft not found")

	case persistence.IsVersionNotFound(err):
		return notFound(c, "version_not_found", "published version not found")

	case persistence.IsRunNotFound(err):
		return notFound(c, "run_not_found", "run not found")

	case errors.Is(err, services.ErrStaleSubmission):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("stale_submission").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
