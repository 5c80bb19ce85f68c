// Package web provides HTTP handlers and REST API endpoints for flow
// management, enrollment and inbound contact events.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/agenciapixel/connectflow/pkg/engine"
	"github.com/agenciapixel/connectflow/pkg/flow"
	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

type APIHandlers struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(eng *engine.Engine, p persistence.Persistence, v *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:      eng,
		persistence: p,
		validator:   v,
	}
}

// Register mounts every API route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Post("/flows/validate", h.ValidateFlow)
	app.Post("/flows/publish", h.PublishFlow)
	app.Get("/flows/:id", h.GetFlow)
	app.Get("/flow-groups/:groupId/versions", h.GetFlowVersions)

	app.Post("/runs", h.EnrollContact)
	app.Get("/runs/:id", h.GetRun)
	app.Post("/runs/:id/cancel", h.CancelRun)

	app.Post("/events", h.ReceiveInboundEvent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// ValidateFlow checks a draft and reports every problem found, without
// persisting anything.
func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	body := c.Body()
	if !json.Valid(body) {
		return badRequest(c, "Invalid JSON format")
	}

	// Schema-check the raw draft before decoding it, so an unknown step
	// type or a mis-shaped config comes back as per-step errors instead
	// of a single decode failure.
	if issues := flow.ValidateDraftJSON(body); len(issues) > 0 {
		return c.JSON(ValidationResultResponse{
			Valid:  false,
			Errors: transformValidationErrors(issues),
		})
	}

	var req ValidateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	errs := h.engine.ValidateDraft(req.toDraft())

	return c.JSON(ValidationResultResponse{
		Valid:  len(errs) == 0,
		Errors: transformValidationErrors(errs),
	})
}

// PublishFlow freezes a draft into the next immutable version of its
// flow group. Invalid drafts come back as 422 with the full error list.
func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	body := c.Body()
	if !json.Valid(body) {
		return badRequest(c, "Invalid JSON format")
	}

	if issues := flow.ValidateDraftJSON(body); len(issues) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ValidationResultResponse{
			Valid:  false,
			Errors: transformValidationErrors(issues),
		})
	}

	var req PublishFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	published, err := h.engine.PublishDraft(c.Context(), req.toDraft())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(published)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	flowVersion, err := h.persistence.Flows().ByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(flowVersion)
}

func (h *APIHandlers) GetFlowVersions(c fiber.Ctx) error {
	groupID := c.Params("groupId")
	if groupID == "" {
		return badRequest(c, "Flow group ID is required")
	}

	versions, err := h.persistence.Flows().ByGroup(c.Context(), groupID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"flow_group_id": groupID,
		"versions":      versions,
	})
}

// EnrollContact starts (or returns) the contact's run in a flow. The
// same contact enrolling twice in one flow group gets the same run back,
// so the endpoint is safe to call from trigger webhooks that may fire
// more than once.
func (h *APIHandlers) EnrollContact(c fiber.Ctx) error {
	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.engine.Enroll(c.Context(), req.ContactID, req.FlowID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformRunResponse(run))
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.engine.RunStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(TransformRunResponse(run))
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if err := h.engine.CancelRun(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	run, err := h.engine.RunStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(TransformRunResponse(run))
}

// ReceiveInboundEvent accepts a contact reply from a channel provider
// and hands it to the engine. Events with no waiting run are accepted
// and discarded, so providers never see an error for late replies.
func (h *APIHandlers) ReceiveInboundEvent(c fiber.Ctx) error {
	var req InboundEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := models.InboundEvent{
		ContactID:  req.ContactID,
		Channel:    req.Channel,
		Payload:    req.Payload,
		ReceivedAt: time.Now().UTC(),
	}

	if err := h.engine.PublishInbound(c.Context(), event); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}
