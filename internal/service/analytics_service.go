package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/repository"
	"github.com/noah-isme/codequest-api/internal/scoring"
)

var exportHeader = []string{
	"rank", "candidate", "email", "version", "mcq_score", "coding_score",
	"total_score", "total_marks", "percentage", "passed", "started_at", "completed_at",
}

// AnalyticsService records telemetry and reports per-test analytics.
type AnalyticsService interface {
	RecordEvent(ctx context.Context, actor access.Principal, payload dto.AnalyticsEventRequest) error
	TestAnalytics(ctx context.Context, actor access.Principal, testID uint) (dto.TestAnalyticsResponse, error)
	ExportCSV(ctx context.Context, actor access.Principal, testID uint, w io.Writer) error
}

type analyticsService struct {
	analytics   repository.AnalyticsRepository
	tests       repository.TestRepository
	submissions repository.SubmissionRepository
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewAnalyticsService constructs the analytics service.
func NewAnalyticsService(analytics repository.AnalyticsRepository, tests repository.TestRepository, submissions repository.SubmissionRepository, validate *validator.Validate, logger zerolog.Logger) AnalyticsService {
	return &analyticsService{
		analytics:   analytics,
		tests:       tests,
		submissions: submissions,
		validator:   validate,
		logger:      logger.With().Str("component", "analytics_service").Logger(),
	}
}

func (s *analyticsService) RecordEvent(ctx context.Context, actor access.Principal, payload dto.AnalyticsEventRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	test, err := s.loadTest(ctx, payload.TestID)
	if err != nil {
		return err
	}
	if decision := access.CanAccessTest(test, actor); !decision.Allowed {
		return forbidden(decision)
	}
	if payload.SubmissionID != nil {
		submission, err := s.submissions.GetByID(ctx, *payload.SubmissionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSubmissionNotFound
			}
			return err
		}
		if submission.UserID != actor.ID || submission.TestID != test.ID {
			return fmt.Errorf("%w: submission does not belong to caller", ErrForbidden)
		}
	}

	row := models.TestAnalytics{
		TestID:           test.ID,
		UserID:           actor.ID,
		SubmissionID:     payload.SubmissionID,
		QuestionID:       payload.QuestionID,
		ChallengeID:      payload.ChallengeID,
		Type:             payload.Type,
		Event:            strings.TrimSpace(payload.Event),
		TimeSpentSeconds: payload.TimeSpentSeconds,
		Metadata:         datatypes.JSONMap(payload.Metadata),
	}
	return s.analytics.Record(ctx, []models.TestAnalytics{row})
}

func (s *analyticsService) TestAnalytics(ctx context.Context, actor access.Principal, testID uint) (dto.TestAnalyticsResponse, error) {
	test, err := s.loadManaged(ctx, actor, testID)
	if err != nil {
		return dto.TestAnalyticsResponse{}, err
	}

	stats, err := s.analytics.SubmissionStats(ctx, repository.SubmissionScope{TestID: test.ID})
	if err != nil {
		return dto.TestAnalyticsResponse{}, err
	}
	questions, err := s.analytics.QuestionStats(ctx, test.ID)
	if err != nil {
		return dto.TestAnalyticsResponse{}, err
	}
	challenges, err := s.analytics.ChallengeStats(ctx, test.ID)
	if err != nil {
		return dto.TestAnalyticsResponse{}, err
	}
	behavior, err := s.analytics.BehaviorCounts(ctx, test.ID)
	if err != nil {
		return dto.TestAnalyticsResponse{}, err
	}

	questionText := make(map[uint]string, len(test.MCQs))
	for _, mcq := range test.MCQs {
		questionText[mcq.ID] = mcq.Question
	}
	challengeTitle := make(map[uint]string, len(test.CodingChallenges))
	for _, challenge := range test.CodingChallenges {
		challengeTitle[challenge.ID] = challenge.Title
	}

	response := dto.TestAnalyticsResponse{
		TestID:       test.ID,
		Submissions:  stats.Submissions,
		Completed:    stats.Completed,
		AverageScore: stats.AverageScore,
		PassRate:     rate(stats.Passed, stats.Completed),
		Questions:    make([]dto.QuestionStat, 0, len(questions)),
		Challenges:   make([]dto.ChallengeStat, 0, len(challenges)),
		Behavior:     behavior,
	}
	for _, item := range questions {
		response.Questions = append(response.Questions, dto.QuestionStat{
			QuestionID:  item.QuestionID,
			Question:    questionText[item.QuestionID],
			Answers:     item.Answers,
			Correct:     item.Correct,
			CorrectRate: rate(item.Correct, item.Answers),
		})
	}
	for _, item := range challenges {
		response.Challenges = append(response.Challenges, dto.ChallengeStat{
			ChallengeID:  item.ChallengeID,
			Title:        challengeTitle[item.ChallengeID],
			Attempts:     item.Attempts,
			AverageMarks: item.AverageMarks,
			AcceptedRate: rate(item.Accepted, item.Attempts),
		})
	}
	if response.Behavior == nil {
		response.Behavior = map[string]int64{}
	}
	return response, nil
}

// ExportCSV writes completed submissions ranked by total score.
func (s *analyticsService) ExportCSV(ctx context.Context, actor access.Principal, testID uint, w io.Writer) error {
	test, err := s.loadManaged(ctx, actor, testID)
	if err != nil {
		return err
	}

	submissions, err := s.analytics.CompletedSubmissions(ctx, test.ID)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return err
	}
	for i, submission := range submissions {
		completedAt := ""
		if submission.CompletedAt != nil {
			completedAt = submission.CompletedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.Itoa(i + 1),
			submission.User.Name,
			submission.User.Email,
			strconv.Itoa(submission.Version),
			strconv.Itoa(submission.MCQScore),
			strconv.Itoa(submission.CodingScore),
			strconv.Itoa(submission.TotalScore),
			strconv.Itoa(test.TotalMarks),
			strconv.FormatFloat(scoring.Percentage(submission.TotalScore, test.TotalMarks), 'f', 2, 64),
			strconv.FormatBool(submission.TotalScore >= test.PassingMarks),
			submission.StartedAt.UTC().Format(time.RFC3339),
			completedAt,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	s.logger.Info().Uint("test_id", test.ID).Int("rows", len(submissions)).Msg("submissions exported")
	return nil
}

func (s *analyticsService) loadTest(ctx context.Context, id uint) (models.Test, error) {
	test, err := s.tests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Test{}, ErrTestNotFound
		}
		return models.Test{}, err
	}
	return test, nil
}

func (s *analyticsService) loadManaged(ctx context.Context, actor access.Principal, id uint) (models.Test, error) {
	test, err := s.loadTest(ctx, id)
	if err != nil {
		return models.Test{}, err
	}
	if decision := access.CanManageTest(test, actor); !decision.Allowed {
		return models.Test{}, forbidden(decision)
	}
	return test, nil
}
