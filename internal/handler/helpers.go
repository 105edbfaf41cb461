package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

func principalFromContext(c *fiber.Ctx) access.Principal {
	principal := access.Principal{}
	if id, ok := c.Locals(middleware.LocalUserID).(uint); ok {
		principal.ID = id
	}
	if role, ok := c.Locals(middleware.LocalUserRole).(string); ok {
		principal.Role = role
	}
	if email, ok := c.Locals(middleware.LocalUserEmail).(string); ok {
		principal.Email = email
	}
	return principal
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := strings.TrimSpace(c.Params(name))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid " + name)
	}
	return uint(parsed), nil
}

// requestContext carries the correlation id into service calls.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) zerolog.Logger {
	if correlation := middleware.GetCorrelationID(c); correlation != "" {
		return base.With().Str("correlation_id", correlation).Logger()
	}
	return base
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		key := fieldErr.Namespace()
		if idx := strings.Index(key, "."); idx >= 0 {
			key = key[idx+1:]
		}
		details[key] = fieldErr.Tag()
	}
	return details
}

var errorStatuses = []struct {
	target error
	status int
}{
	{service.ErrInvalidCredentials, fiber.StatusUnauthorized},
	{service.ErrForbidden, fiber.StatusForbidden},
	{service.ErrInvitationMismatch, fiber.StatusForbidden},
	{service.ErrAttemptsExhausted, fiber.StatusForbidden},
	{service.ErrSeedDisabled, fiber.StatusForbidden},
	{service.ErrSeedUnauthorized, fiber.StatusForbidden},
	{service.ErrUserNotFound, fiber.StatusNotFound},
	{service.ErrTestNotFound, fiber.StatusNotFound},
	{service.ErrInvitationNotFound, fiber.StatusNotFound},
	{service.ErrSessionNotFound, fiber.StatusNotFound},
	{service.ErrSubmissionNotFound, fiber.StatusNotFound},
	{service.ErrChallengeNotFound, fiber.StatusNotFound},
	{service.ErrCertificateNotFound, fiber.StatusNotFound},
	{service.ErrEmailTaken, fiber.StatusConflict},
	{service.ErrInvalidStatus, fiber.StatusConflict},
	{service.ErrSessionClosed, fiber.StatusConflict},
	{service.ErrSubmissionCompleted, fiber.StatusConflict},
	{service.ErrMCQAlreadySubmitted, fiber.StatusConflict},
	{service.ErrInvitationExpired, fiber.StatusGone},
	{service.ErrUploadTooLarge, fiber.StatusRequestEntityTooLarge},
	{service.ErrUploadTypeNotAllowed, fiber.StatusUnsupportedMediaType},
	{service.ErrUploadMissing, fiber.StatusBadRequest},
	{service.ErrInvalidResetToken, fiber.StatusBadRequest},
	{service.ErrNoQuestions, fiber.StatusBadRequest},
	{service.ErrInvalidMarks, fiber.StatusBadRequest},
	{service.ErrInvalidImport, fiber.StatusBadRequest},
	{service.ErrInvalidOption, fiber.StatusBadRequest},
	{service.ErrLanguageNotAllowed, fiber.StatusBadRequest},
	{service.ErrExecutionFailed, fiber.StatusBadGateway},
	{service.ErrExecutionTimeout, fiber.StatusGatewayTimeout},
}

// statusForError maps service sentinel errors onto HTTP status codes.
// Unknown errors report 500.
func statusForError(err error) int {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return fiber.StatusBadRequest
	}
	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.target) {
			return candidate.status
		}
	}
	return fiber.StatusInternalServerError
}

// sendServiceError writes the error envelope for err. Unexpected errors are
// logged and replaced with a generic message.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(validationErrs))
	}

	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		log := requestLogger(logger, c)
		log.Error().Err(err).Str("path", c.Path()).Msg("internal server error")
		return utils.SendError(c, status, "internal server error")
	}
	if status == fiber.StatusBadGateway {
		log := requestLogger(logger, c)
		log.Warn().Err(err).Str("path", c.Path()).Msg("upstream failure")
		return utils.SendError(c, status, service.ErrExecutionFailed.Error())
	}
	return utils.SendError(c, status, err.Error())
}
