// Package web provides HTTP handlers and REST API endpoints for journey management and runs.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/services"
	"github.com/dukex/journey/pkg/validation"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	versions  *services.Versions
	runtime   *services.Runtime
	audit     *services.Audit
	validator *validator.Validate
}

func NewAPIHandlers(
	versions *services.Versions,
	runtime *services.Runtime,
	audit *services.Audit,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		versions:  versions,
		runtime:   runtime,
		audit:     audit,
		validator: validator,
	}
}

// Routes registers every journey and run endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Post("/validate", h.Validate)

	j := router.Group("/journeys")
	j.Get("/", h.ListJourneys)
	j.Post("/", h.CreateJourney)
	j.Get("/:id", h.GetJourney)
	j.Post("/:id/status", h.SetStatus)
	j.Get("/:id/draft", h.GetDraft)
	j.Post("/:id/draft", h.OpenDraft)
	j.Put("/:id/draft", h.UpdateDraft)
	j.Post("/:id/draft/validate", h.ValidateDraft)
	j.Post("/:id/publish", h.Publish)
	j.Post("/:id/rollback", h.Rollback)
	j.Post("/:id/reconcile", h.Reconcile)
	j.Get("/:id/versions", h.ListVersions)
	j.Get("/:id/versions/:version", h.GetVersion)
	j.Get("/:id/audit", h.ListAudit)

	r := router.Group("/runs")
	r.Get("/", h.ListRuns)
	r.Post("/", h.StartRun)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/submit", h.SubmitStep)
	r.Post("/:id/abandon", h.AbandonRun)
	r.Get("/:id/results", h.ListStepResults)

	router.Get("/events", h.ListEvents)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.versions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Journey API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Journey API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func actor(c fiber.Ctx) string {
	return c.Get(ActorHeader)
}

// bind decodes and validates a JSON body. An empty body leaves req untouched.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return nil
}

func (h *APIHandlers) CreateJourney(c fiber.Ctx) error {
	var req CreateJourneyRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	journey, err := h.versions.CreateJourney(c.Context(), req.ID, req.Name, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(journey)
}

func (h *APIHandlers) ListJourneys(c fiber.Ctx) error {
	journeys, err := h.versions.ListJourneys(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"journeys": journeys})
}

func (h *APIHandlers) GetJourney(c fiber.Ctx) error {
	journey, err := h.versions.GetJourney(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(journey)
}

func (h *APIHandlers) SetStatus(c fiber.Ctx) error {
	var req SetStatusRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	journey, err := h.versions.SetStatus(c.Context(), c.Params("id"), req.Status, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(journey)
}

func (h *APIHandlers) GetDraft(c fiber.Ctx) error {
	draft, err := h.versions.GetDraft(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(draft)
}

// OpenDraft returns the open draft, creating it from the published definition when there is none.
func (h *APIHandlers) OpenDraft(c fiber.Ctx) error {
	draft, created, err := h.versions.GetOrCreateDraft(c.Context(), c.Params("id"), actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(draft)
}

func (h *APIHandlers) UpdateDraft(c fiber.Ctx) error {
	var definition models.JourneyDefinition
	if err := c.Bind().JSON(&definition); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	draft, result, err := h.versions.UpdateDraft(c.Context(), c.Params("id"), &definition, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(DraftResponse{Draft: draft, Warnings: NewValidationResponse(result).Warnings})
}

func (h *APIHandlers) ValidateDraft(c fiber.Ctx) error {
	var req ValidateDraftRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	mode, err := validation.ParseMode(req.Mode)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.versions.ValidateDraft(c.Context(), c.Params("id"), mode, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewValidationResponse(result))
}

// Validate checks a definition without storing it.
func (h *APIHandlers) Validate(c fiber.Ctx) error {
	var req ValidateRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	mode, err := validation.ParseMode(req.Mode)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(NewValidationResponse(h.versions.Validate(req.Definition, mode)))
}

func (h *APIHandlers) Publish(c fiber.Ctx) error {
	var req PublishRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	version, err := h.versions.Publish(c.Context(), c.Params("id"), actor(c), req.ReleaseNotes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) Rollback(c fiber.Ctx) error {
	var req RollbackRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	draft, err := h.versions.Rollback(c.Context(), c.Params("id"), req.Version, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(draft)
}

func (h *APIHandlers) Reconcile(c fiber.Ctx) error {
	journey, err := h.versions.Reconcile(c.Context(), c.Params("id"), actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(journey)
}

func (h *APIHandlers) ListVersions(c fiber.Ctx) error {
	versions, err := h.versions.ListVersions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

// GetVersion serves a numbered version, or the one the published pointer refers to for "current".
func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	id := c.Params("id")

	if c.Params("version") == "current" {
		version, err := h.versions.GetCurrentVersion(c.Context(), id)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(version)
	}

	number, err := strconv.Atoi(c.Params("version"))
	if err != nil || number < 1 {
		return badRequest(c, "version must be a positive integer or \"current\"")
	}

	version, err := h.versions.GetVersion(c.Context(), id, number)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) ListAudit(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	before, err := parseTime(c, "before")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	entries, err := h.audit.List(c.Context(), c.Params("id"), limit, before)
	if err != nil {
		return handleServiceError(c, err)
	}

	response := fiber.Map{"entries": entries}
	if len(entries) > 0 {
		response["next_before"] = entries[len(entries)-1].CreatedAt
	}

	return c.JSON(response)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	state, err := h.runtime.StartRun(c.Context(), req.JourneyID, req.ParticipantID, req.Preview)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewRunResponse(state))
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	runs, err := h.runtime.ListRuns(c.Context(), persistence.RunFilter{
		JourneyID:     c.Query("journey_id"),
		ParticipantID: c.Query("participant_id"),
		Status:        models.RunStatus(c.Query("status")),
		Limit:         limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

// GetRun returns the run with the step a resuming participant should see.
func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	state, err := h.runtime.CurrentStep(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewRunResponse(state))
}

func (h *APIHandlers) SubmitStep(c fiber.Ctx) error {
	var req SubmitStepRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	state, err := h.runtime.SubmitStepResult(c.Context(), c.Params("id"), req.StepID, req.Output)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewRunResponse(state))
}

func (h *APIHandlers) AbandonRun(c fiber.Ctx) error {
	var req AbandonRunRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	if req.Reason == "" {
		req.Reason = "abandoned by participant"
	}

	run, err := h.runtime.AbandonRun(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ListStepResults(c fiber.Ctx) error {
	results, err := h.runtime.ListStepResults(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"results": results})
}

func (h *APIHandlers) ListEvents(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	since, err := parseTime(c, "since")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	until, err := parseTime(c, "until")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	list, err := h.runtime.ListEvents(c.Context(), persistence.EventFilter{
		JourneyID: c.Query("journey_id"),
		RunID:     c.Query("run_id"),
		Since:     since,
		Until:     until,
		Limit:     limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": list})
}

func parseLimit(c fiber.Ctx) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return 0, nil
	}

	return strconv.Atoi(limitStr)
}

func parseTime(c fiber.Ctx, key string) (time.Time, error) {
	value := c.Query(key)
	if value == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, value)
}
