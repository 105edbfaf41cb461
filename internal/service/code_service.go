package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/observability"
	"github.com/noah-isme/codequest-api/pkg/judge0"
)

// CodeService runs ad-hoc snippets for the in-browser editor.
type CodeService interface {
	Execute(ctx context.Context, actor access.Principal, payload dto.CodeExecuteRequest) (dto.CodeExecuteResponse, error)
	Languages() []dto.LanguageResponse
}

type codeService struct {
	runner    CodeRunner
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewCodeService constructs the code execution service.
func NewCodeService(runner CodeRunner, validate *validator.Validate, logger zerolog.Logger) CodeService {
	return &codeService{
		runner:    runner,
		validator: validate,
		logger:    logger.With().Str("component", "code_service").Logger(),
	}
}

func (s *codeService) Execute(ctx context.Context, actor access.Principal, payload dto.CodeExecuteRequest) (dto.CodeExecuteResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CodeExecuteResponse{}, err
	}

	language := canonicalLanguage(payload.Language)
	if s.runner == nil || !s.runner.Supports(language) {
		return dto.CodeExecuteResponse{}, fmt.Errorf("%w: %s", ErrLanguageNotAllowed, payload.Language)
	}

	result, err := s.runner.Execute(ctx, judge0.Request{Language: language, Source: payload.Code, Stdin: payload.Input})
	switch {
	case errors.Is(err, judge0.ErrPollTimeout):
		observability.CodingAttempts().WithLabelValues(language, "timeout").Inc()
		return dto.CodeExecuteResponse{}, ErrExecutionTimeout
	case errors.Is(err, judge0.ErrUnsupportedLanguage):
		return dto.CodeExecuteResponse{}, fmt.Errorf("%w: %s", ErrLanguageNotAllowed, payload.Language)
	case err != nil:
		s.logger.Error().Err(err).Uint("user_id", actor.ID).Str("language", language).Msg("snippet execution failed")
		return dto.CodeExecuteResponse{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	s.logger.Debug().
		Uint("user_id", actor.ID).
		Str("language", language).
		Int("status", result.Status.ID).
		Float64("time", result.Time).
		Msg("snippet executed")

	return dto.NewCodeExecuteResponse(result), nil
}

// Languages lists the judge languages the configured runner can execute.
func (s *codeService) Languages() []dto.LanguageResponse {
	items := make([]dto.LanguageResponse, 0)
	for _, language := range judge0.Languages() {
		if s.runner != nil && s.runner.Supports(language.Name) {
			items = append(items, dto.LanguageResponse{Name: language.Name, ID: language.ID})
		}
	}
	return items
}
