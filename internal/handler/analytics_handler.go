package handler

import (
	"bytes"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// AnalyticsHandler serves event ingestion, vendor dashboards, per-test
// analytics and the CSV results export.
type AnalyticsHandler struct {
	analytics service.AnalyticsService
	dashboard service.DashboardService
	logger    zerolog.Logger
}

// NewAnalyticsHandler constructs an analytics handler.
func NewAnalyticsHandler(analytics service.AnalyticsService, dashboard service.DashboardService, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		dashboard: dashboard,
		logger:    logger.With().Str("component", "analytics_handler").Logger(),
	}
}

// RegisterEvents wires POST /analytics/events.
func (h *AnalyticsHandler) RegisterEvents(router fiber.Router) {
	router.Post("/events", middleware.WithAuth(h.recordEvent, middleware.AuthOptions{RequireUser: true}))
}

// RegisterVendor wires the /vendor group.
func (h *AnalyticsHandler) RegisterVendor(router fiber.Router) {
	manager := middleware.AuthOptions{Role: middleware.AuthRoleManager}
	router.Get("/dashboard", middleware.WithAuth(h.vendorDashboard, manager))
	router.Get("/tests/:id/analytics", middleware.WithAuth(h.testAnalytics, manager))
	router.Get("/tests/:id/export", middleware.WithAuth(h.export, manager))
}

func (h *AnalyticsHandler) recordEvent(c *fiber.Ctx) error {
	var payload dto.AnalyticsEventRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.analytics.RecordEvent(requestContext(c), principalFromContext(c), payload); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "event recorded", nil)
}

func (h *AnalyticsHandler) vendorDashboard(c *fiber.Ctx) error {
	dashboard, err := h.dashboard.Vendor(requestContext(c), principalFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "dashboard retrieved", dashboard)
}

func (h *AnalyticsHandler) adminDashboard(c *fiber.Ctx) error {
	dashboard, err := h.dashboard.Admin(requestContext(c), principalFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "dashboard retrieved", dashboard)
}

func (h *AnalyticsHandler) testAnalytics(c *fiber.Ctx) error {
	testID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.analytics.TestAnalytics(requestContext(c), principalFromContext(c), testID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "analytics retrieved", report)
}

func (h *AnalyticsHandler) export(c *fiber.Ctx) error {
	testID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var buffer bytes.Buffer
	if err := h.analytics.ExportCSV(requestContext(c), principalFromContext(c), testID, &buffer); err != nil {
		return sendServiceError(c, h.logger, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=\"test-%d-results.csv\"", testID))
	return c.Send(buffer.Bytes())
}
