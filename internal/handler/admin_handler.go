package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// AdminHandler serves platform administration: users, roles, the audit
// trail and the platform dashboard.
type AdminHandler struct {
	users     service.UserAdminService
	audit     service.AuditService
	analytics *AnalyticsHandler
	logger    zerolog.Logger
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(users service.UserAdminService, audit service.AuditService, analytics *AnalyticsHandler, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		users:     users,
		audit:     audit,
		analytics: analytics,
		logger:    logger.With().Str("component", "admin_handler").Logger(),
	}
}

// Register wires the /admin group. Every route requires the admin role.
func (h *AdminHandler) Register(router fiber.Router) {
	admin := middleware.AuthOptions{Role: middleware.AuthRoleAdmin}
	router.Get("/dashboard", middleware.WithAuth(h.analytics.adminDashboard, admin))
	router.Get("/users", middleware.WithAuth(h.listUsers, admin))
	router.Patch("/users/:id/role", middleware.WithAuth(h.updateRole, admin))
	router.Get("/activity", middleware.WithAuth(h.activity, admin))
}

func (h *AdminHandler) listUsers(c *fiber.Ctx) error {
	var filter dto.AdminUserFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	response, err := h.users.List(requestContext(c), principalFromContext(c), filter)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, response.Items, "users retrieved", response.Pagination)
}

func (h *AdminHandler) updateRole(c *fiber.Ctx) error {
	userID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RoleUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.users.UpdateRole(requestContext(c), principalFromContext(c), userID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "role updated", user)
}

func (h *AdminHandler) activity(c *fiber.Ctx) error {
	var request dto.ActivityListRequest
	if err := c.QueryParser(&request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	response, err := h.audit.List(requestContext(c), request)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, response.Items, "activity retrieved", response.Pagination)
}
