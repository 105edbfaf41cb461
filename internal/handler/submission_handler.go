package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// SubmissionHandler exposes answer submission and result endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler constructs a submission handler.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	signedIn := middleware.AuthOptions{RequireUser: true}

	router.Post("/submit/mcq", middleware.WithAuth(h.submitMCQ, signedIn))
	router.Post("/submit/coding", middleware.WithAuth(h.submitCoding, signedIn))
	router.Get("/mine", middleware.WithAuth(h.mine, signedIn))
	router.Get("/test/:testId", middleware.WithAuth(h.listByTest, middleware.AuthOptions{Role: middleware.AuthRoleManager}))
	router.Post("/:id/complete", middleware.WithAuth(h.complete, signedIn))
	router.Get("/:id", middleware.WithAuth(h.get, signedIn))
}

func (h *SubmissionHandler) submitMCQ(c *fiber.Ctx) error {
	var payload dto.MCQSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.SubmitMCQ(requestContext(c), principalFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "answers submitted", submission)
}

func (h *SubmissionHandler) submitCoding(c *fiber.Ctx) error {
	var payload dto.CodingSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	attempt, err := h.service.SubmitCoding(requestContext(c), principalFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "code evaluated", attempt)
}

func (h *SubmissionHandler) complete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Complete(requestContext(c), principalFromContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "submission completed", result)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(requestContext(c), principalFromContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) listByTest(c *fiber.Ctx) error {
	testID, err := parseUintParam(c, "testId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var filter dto.SubmissionFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	response, err := h.service.ListByTest(requestContext(c), principalFromContext(c), testID, filter)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, response.Items, "submissions retrieved", response.Pagination)
}

func (h *SubmissionHandler) mine(c *fiber.Ctx) error {
	submissions, err := h.service.Mine(requestContext(c), principalFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "submissions retrieved", submissions)
}
