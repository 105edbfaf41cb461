package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// CodeHandler runs ad-hoc code for the editor's "run" button.
type CodeHandler struct {
	service service.CodeService
	logger  zerolog.Logger
}

// NewCodeHandler constructs a code handler.
func NewCodeHandler(service service.CodeService, logger zerolog.Logger) *CodeHandler {
	return &CodeHandler{
		service: service,
		logger:  logger.With().Str("component", "code_handler").Logger(),
	}
}

// Register wires the code routes. limiter guards execution only.
func (h *CodeHandler) Register(router fiber.Router, limiter fiber.Handler) {
	signedIn := middleware.AuthOptions{RequireUser: true}
	router.Get("/languages", h.languages)
	router.Post("/execute", limiter, middleware.WithAuth(h.execute, signedIn))
}

func (h *CodeHandler) execute(c *fiber.Ctx) error {
	var payload dto.CodeExecuteRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Execute(requestContext(c), principalFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "code executed", result)
}

func (h *CodeHandler) languages(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "languages retrieved", h.service.Languages())
}
