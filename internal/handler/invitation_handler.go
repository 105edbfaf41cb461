package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// InvitationHandler exposes invitation issuing and token redemption.
type InvitationHandler struct {
	service service.InvitationService
	logger  zerolog.Logger
}

// NewInvitationHandler constructs an invitation handler.
func NewInvitationHandler(service service.InvitationService, logger zerolog.Logger) *InvitationHandler {
	return &InvitationHandler{
		service: service,
		logger:  logger.With().Str("component", "invitation_handler").Logger(),
	}
}

// RegisterTestRoutes wires /tests/:id/invitations.
func (h *InvitationHandler) RegisterTestRoutes(router fiber.Router) {
	manager := middleware.AuthOptions{Role: middleware.AuthRoleManager}
	router.Post("/:id/invitations", middleware.WithAuth(h.create, manager))
	router.Get("/:id/invitations", middleware.WithAuth(h.list, manager))
}

// RegisterTokenRoutes wires /invitations/:token. Verification is public so
// candidates can preview the test before signing in.
func (h *InvitationHandler) RegisterTokenRoutes(router fiber.Router, protect fiber.Handler) {
	router.Get("/:token", h.verify)
	router.Post("/:token/accept", protect, middleware.WithAuth(h.accept, middleware.AuthOptions{RequireUser: true}))
}

func (h *InvitationHandler) create(c *fiber.Ctx) error {
	testID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.InvitationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	invitations, err := h.service.Create(requestContext(c), principalFromContext(c), testID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "invitations sent", invitations)
}

func (h *InvitationHandler) list(c *fiber.Ctx) error {
	testID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	invitations, err := h.service.List(requestContext(c), principalFromContext(c), testID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "invitations retrieved", invitations)
}

func (h *InvitationHandler) verify(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "token is required")
	}

	detail, err := h.service.Verify(requestContext(c), token)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "invitation valid", detail)
}

func (h *InvitationHandler) accept(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "token is required")
	}

	detail, err := h.service.Accept(requestContext(c), principalFromContext(c), token)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "invitation accepted", detail)
}
