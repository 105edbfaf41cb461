package handler

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

const maxImportBytes = 2 << 20

// TestHandler exposes test authoring and discovery endpoints.
type TestHandler struct {
	service service.TestService
	logger  zerolog.Logger
}

// NewTestHandler constructs a test handler.
func NewTestHandler(service service.TestService, logger zerolog.Logger) *TestHandler {
	return &TestHandler{
		service: service,
		logger:  logger.With().Str("component", "test_handler").Logger(),
	}
}

type addMCQsRequest struct {
	MCQs []dto.MCQInput `json:"mcqs"`
}

type addChallengesRequest struct {
	CodingChallenges []dto.CodingChallengeInput `json:"coding_challenges"`
}

// Register wires test routes. Authoring routes are limited to vendors and
// admins; ownership is enforced by the service.
func (h *TestHandler) Register(router fiber.Router) {
	manager := middleware.AuthOptions{Role: middleware.AuthRoleManager}
	signedIn := middleware.AuthOptions{RequireUser: true}

	router.Get("", middleware.WithAuth(h.list, signedIn))
	router.Post("", middleware.WithAuth(h.create, manager))
	router.Get("/uuid/:uuid", middleware.WithAuth(h.getByUUID, signedIn))
	router.Get("/:id", middleware.WithAuth(h.get, signedIn))
	router.Patch("/:id", middleware.WithAuth(h.update, manager))
	router.Delete("/:id", middleware.WithAuth(h.delete, manager))
	router.Post("/:id/publish", middleware.WithAuth(h.publish, manager))
	router.Post("/:id/archive", middleware.WithAuth(h.archive, manager))
	router.Post("/:id/duplicate", middleware.WithAuth(h.duplicate, manager))
	router.Post("/:id/mcqs", middleware.WithAuth(h.addMCQs, manager))
	router.Post("/:id/mcqs/import", middleware.WithAuth(h.importMCQs, manager))
	router.Post("/:id/challenges", middleware.WithAuth(h.addChallenges, manager))
	router.Put("/:id/access", middleware.WithAuth(h.updateAccess, manager))
	router.Post("/:id/share", middleware.WithAuth(h.share, manager))
	router.Post("/:id/register", middleware.WithAuth(h.register, signedIn))
}

func (h *TestHandler) list(c *fiber.Ctx) error {
	var filter dto.TestFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	response, err := h.service.List(requestContext(c), principalFromContext(c), filter)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, response.Items, "tests retrieved", response.Pagination)
}

func (h *TestHandler) create(c *fiber.Ctx) error {
	var payload dto.TestCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	test, err := h.service.Create(requestContext(c), principalFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "test created", test)
}

func (h *TestHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	test, err := h.service.Get(requestContext(c), principalFromContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "test retrieved", test)
}

func (h *TestHandler) getByUUID(c *fiber.Ctx) error {
	test, err := h.service.GetByUUID(requestContext(c), principalFromContext(c), c.Params("uuid"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "test retrieved", test)
}

func (h *TestHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.TestUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	test, err := h.service.Update(requestContext(c), principalFromContext(c), id, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "test updated", test)
}

func (h *TestHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(requestContext(c), principalFromContext(c), id); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "test deleted", nil)
}

type lifecycleFunc func(c *fiber.Ctx, id uint) (dto.TestResponse, error)

func (h *TestHandler) lifecycle(c *fiber.Ctx, message string, status int, fn lifecycleFunc) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	test, err := fn(c, id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, status, message, test)
}

func (h *TestHandler) publish(c *fiber.Ctx) error {
	return h.lifecycle(c, "test published", fiber.StatusOK, func(c *fiber.Ctx, id uint) (dto.TestResponse, error) {
		return h.service.Publish(requestContext(c), principalFromContext(c), id)
	})
}

func (h *TestHandler) archive(c *fiber.Ctx) error {
	return h.lifecycle(c, "test archived", fiber.StatusOK, func(c *fiber.Ctx, id uint) (dto.TestResponse, error) {
		return h.service.Archive(requestContext(c), principalFromContext(c), id)
	})
}

func (h *TestHandler) duplicate(c *fiber.Ctx) error {
	return h.lifecycle(c, "test duplicated", fiber.StatusCreated, func(c *fiber.Ctx, id uint) (dto.TestResponse, error) {
		return h.service.Duplicate(requestContext(c), principalFromContext(c), id)
	})
}

func (h *TestHandler) addMCQs(c *fiber.Ctx) error {
	var payload addMCQsRequest
	if err := c.BodyParser(&payload); err != nil || len(payload.MCQs) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "mcqs are required")
	}

	return h.lifecycle(c, "questions added", fiber.StatusOK, func(c *fiber.Ctx, id uint) (dto.TestResponse, error) {
		return h.service.AddMCQs(requestContext(c), principalFromContext(c), id, payload.MCQs)
	})
}

func (h *TestHandler) addChallenges(c *fiber.Ctx) error {
	var payload addChallengesRequest
	if err := c.BodyParser(&payload); err != nil || len(payload.CodingChallenges) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "coding_challenges are required")
	}

	return h.lifecycle(c, "challenges added", fiber.StatusOK, func(c *fiber.Ctx, id uint) (dto.TestResponse, error) {
		return h.service.AddChallenges(requestContext(c), principalFromContext(c), id, payload.CodingChallenges)
	})
}

// importMCQs accepts a multipart "file" field or a raw JSON/CSV body.
func (h *TestHandler) importMCQs(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	data := c.Body()
	if file, err := c.FormFile("file"); err == nil {
		if file.Size > maxImportBytes {
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, "import file too large")
		}
		opened, err := file.Open()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
		}
		defer opened.Close()
		data, err = io.ReadAll(io.LimitReader(opened, maxImportBytes))
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
		}
	}
	if len(data) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "import file is required")
	}
	if len(data) > maxImportBytes {
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, "import file too large")
	}

	result, err := h.service.ImportMCQs(requestContext(c), principalFromContext(c), id, data)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "questions imported", result)
}

func (h *TestHandler) updateAccess(c *fiber.Ctx) error {
	var payload dto.AccessControlInput
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	return h.lifecycle(c, "access updated", fiber.StatusOK, func(c *fiber.Ctx, id uint) (dto.TestResponse, error) {
		return h.service.UpdateAccess(requestContext(c), principalFromContext(c), id, payload)
	})
}

func (h *TestHandler) share(c *fiber.Ctx) error {
	var payload dto.ShareTestRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	return h.lifecycle(c, "test shared", fiber.StatusOK, func(c *fiber.Ctx, id uint) (dto.TestResponse, error) {
		return h.service.Share(requestContext(c), principalFromContext(c), id, payload)
	})
}

func (h *TestHandler) register(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	summary, err := h.service.Register(requestContext(c), principalFromContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "registered for test", summary)
}
