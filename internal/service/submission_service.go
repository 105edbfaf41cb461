package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/observability"
	"github.com/noah-isme/codequest-api/internal/repository"
	"github.com/noah-isme/codequest-api/internal/scoring"
	"github.com/noah-isme/codequest-api/pkg/judge0"
)

// CodeRunner executes a program. Both the Judge0 client and the docker
// sandbox satisfy it.
type CodeRunner interface {
	Execute(ctx context.Context, req judge0.Request) (judge0.Result, error)
	Supports(language string) bool
}

// SubmissionConfig tunes scoring and certificate links.
type SubmissionConfig struct {
	Aggregation   scoring.Aggregation
	VerifyBaseURL string
}

// SubmissionService grades answers and finalises submissions.
type SubmissionService interface {
	SubmitMCQ(ctx context.Context, actor access.Principal, payload dto.MCQSubmitRequest) (dto.SubmissionResponse, error)
	SubmitCoding(ctx context.Context, actor access.Principal, payload dto.CodingSubmitRequest) (dto.CodingAttemptResponse, error)
	Complete(ctx context.Context, actor access.Principal, id uint) (dto.SubmissionCompleteResponse, error)
	Get(ctx context.Context, actor access.Principal, id uint) (dto.SubmissionResponse, error)
	ListByTest(ctx context.Context, actor access.Principal, testID uint, filter dto.SubmissionFilter) (dto.SubmissionListResponse, error)
	Mine(ctx context.Context, actor access.Principal) ([]dto.SubmissionResponse, error)

	// HandleSessionEvent finalises the submission behind a session that
	// ended or expired on this node.
	HandleSessionEvent(ctx context.Context, event DomainEvent)
}

type submissionService struct {
	submissions  repository.SubmissionRepository
	sessions     repository.SessionRepository
	tests        repository.TestRepository
	certificates repository.CertificateRepository
	analytics    repository.AnalyticsRepository
	invitations  InvitationService
	runner       CodeRunner
	events       EventPublisher
	cfg          SubmissionConfig
	validator    *validator.Validate
	logger       zerolog.Logger
	now          func() time.Time
}

// NewSubmissionService constructs the submission service.
func NewSubmissionService(
	submissions repository.SubmissionRepository,
	sessions repository.SessionRepository,
	tests repository.TestRepository,
	certificates repository.CertificateRepository,
	analytics repository.AnalyticsRepository,
	invitations InvitationService,
	runner CodeRunner,
	events EventPublisher,
	cfg SubmissionConfig,
	validate *validator.Validate,
	logger zerolog.Logger,
) SubmissionService {
	if cfg.Aggregation == "" {
		cfg.Aggregation = scoring.AggregateLatest
	}
	return &submissionService{
		submissions:  submissions,
		sessions:     sessions,
		tests:        tests,
		certificates: certificates,
		analytics:    analytics,
		invitations:  invitations,
		runner:       runner,
		events:       events,
		cfg:          cfg,
		validator:    validate,
		logger:       logger.With().Str("component", "submission_service").Logger(),
		now:          time.Now,
	}
}

func (s *submissionService) SubmitMCQ(ctx context.Context, actor access.Principal, payload dto.MCQSubmitRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.loadOpen(ctx, actor, payload.SubmissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if submission.MCQSubmittedAt != nil {
		return dto.SubmissionResponse{}, ErrMCQAlreadySubmitted
	}
	if _, err := s.requireSession(ctx, submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	test, err := s.loadTest(ctx, submission.TestID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	inputs := make([]scoring.MCQAnswerInput, 0, len(payload.Answers))
	for _, answer := range payload.Answers {
		inputs = append(inputs, scoring.MCQAnswerInput{QuestionID: answer.QuestionID, SelectedOptions: answer.SelectedOptions})
	}
	answers, score := scoring.GradeMCQ(test.MCQs, inputs)

	now := s.now().UTC()
	submission.MCQAnswers = answers
	submission.MCQScore = score
	submission.MCQSubmittedAt = &now
	submission.TotalScore = submission.MCQScore + submission.CodingScore
	if _, err := submission.Advance(models.SubmissionStatusMCQCompleted); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if err := s.submissions.SaveProgress(ctx, &submission, repository.MCQColumns); err != nil {
		return dto.SubmissionResponse{}, progressError(err)
	}

	rows := make([]models.TestAnalytics, 0, len(answers))
	for _, answer := range answers {
		correct := answer.IsCorrect
		rows = append(rows, models.TestAnalytics{
			TestID:       submission.TestID,
			UserID:       submission.UserID,
			SubmissionID: uintPtr(submission.ID),
			QuestionID:   uintPtr(answer.QuestionID),
			Type:         models.AnalyticsTypeMCQ,
			Event:        "answered",
			Attempts:     1,
			IsCorrect:    &correct,
			Score:        float64(answer.MarksObtained),
		})
	}
	s.record(ctx, rows)

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Int("mcq_score", score).
		Int("answered", len(answers)).
		Msg("mcq section graded")

	return dto.NewSubmissionResponse(submission, false), nil
}

func (s *submissionService) SubmitCoding(ctx context.Context, actor access.Principal, payload dto.CodingSubmitRequest) (dto.CodingAttemptResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CodingAttemptResponse{}, err
	}

	submission, err := s.loadOpen(ctx, actor, payload.SubmissionID)
	if err != nil {
		return dto.CodingAttemptResponse{}, err
	}
	if _, err := s.requireSession(ctx, submission); err != nil {
		return dto.CodingAttemptResponse{}, err
	}

	test, err := s.loadTest(ctx, submission.TestID)
	if err != nil {
		return dto.CodingAttemptResponse{}, err
	}

	var challenge *models.CodingChallenge
	for i := range test.CodingChallenges {
		if test.CodingChallenges[i].ID == payload.ChallengeID {
			challenge = &test.CodingChallenges[i]
			break
		}
	}
	if challenge == nil {
		return dto.CodingAttemptResponse{}, ErrChallengeNotFound
	}

	language := canonicalLanguage(payload.Language)
	if !challenge.AllowsLanguage(language) || s.runner == nil || !s.runner.Supports(language) {
		return dto.CodingAttemptResponse{}, fmt.Errorf("%w: %s", ErrLanguageNotAllowed, payload.Language)
	}

	results, err := s.runCases(ctx, language, payload.Code, challenge.TestCases)
	if err != nil {
		return dto.CodingAttemptResponse{}, err
	}

	marks := scoring.CalculateMarks(results)
	attempt := models.CodingAttempt{
		SubmissionID:    submission.ID,
		ChallengeID:     challenge.ID,
		Language:        language,
		Code:            payload.Code,
		Status:          scoring.AttemptStatus(results),
		Marks:           marks,
		Score:           scoring.ScaleMarks(marks, challenge.Marks),
		TotalCount:      len(results),
		TestCaseResults: results,
	}
	for _, result := range results {
		if result.Passed {
			attempt.PassedCount++
		}
		if result.ExecutionTime > attempt.ExecutionTime {
			attempt.ExecutionTime = result.ExecutionTime
		}
		if result.Memory > attempt.Memory {
			attempt.Memory = result.Memory
		}
	}
	attempts := append(submission.CodingAttempts, attempt)
	submission.CodingScore = scoring.CodingScore(attempts, s.cfg.Aggregation)
	submission.TotalScore = submission.MCQScore + submission.CodingScore
	if allChallengesAttempted(test.CodingChallenges, attempts) {
		if _, err := submission.Advance(models.SubmissionStatusCodingCompleted); err != nil {
			return dto.CodingAttemptResponse{}, err
		}
	}
	if err := s.submissions.RecordAttempt(ctx, &submission, &attempt); err != nil {
		return dto.CodingAttemptResponse{}, progressError(err)
	}
	observability.CodingAttempts().WithLabelValues(language, attempt.Status).Inc()

	tries := 0
	for _, item := range attempts {
		if item.ChallengeID == challenge.ID {
			tries++
		}
	}
	accepted := attempt.Status == models.AttemptStatusAccepted
	s.record(ctx, []models.TestAnalytics{{
		TestID:       submission.TestID,
		UserID:       submission.UserID,
		SubmissionID: uintPtr(submission.ID),
		ChallengeID:  uintPtr(challenge.ID),
		Type:         models.AnalyticsTypeCoding,
		Event:        "attempt",
		Attempts:     tries,
		IsCorrect:    &accepted,
		Score:        float64(attempt.Marks),
		Metadata:     datatypes.JSONMap{"language": language, "status": attempt.Status},
	}})

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("challenge_id", challenge.ID).
		Str("language", language).
		Str("status", attempt.Status).
		Int("marks", attempt.Marks).
		Msg("coding attempt judged")

	return dto.NewCodingAttemptResponse(attempt, false), nil
}

// runCases executes the program once per test case. A compilation error is
// reported against every case without re-running.
func (s *submissionService) runCases(ctx context.Context, language, code string, cases []models.TestCase) ([]models.TestCaseResult, error) {
	results := make([]models.TestCaseResult, 0, len(cases))
	compileError := ""

	for _, tc := range cases {
		item := models.TestCaseResult{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Hidden:         tc.Hidden,
		}
		if compileError != "" {
			item.Status = models.AttemptStatusError
			item.Error = compileError
			results = append(results, item)
			continue
		}

		result, err := s.runner.Execute(ctx, judge0.Request{Language: language, Source: code, Stdin: tc.Input})
		switch {
		case errors.Is(err, judge0.ErrPollTimeout):
			item.Status = models.AttemptStatusTimeout
			item.Error = "execution did not finish in time"
			results = append(results, item)
			continue
		case errors.Is(err, judge0.ErrUnsupportedLanguage):
			return nil, fmt.Errorf("%w: %s", ErrLanguageNotAllowed, language)
		case err != nil:
			s.logger.Error().Err(err).Str("language", language).Msg("code execution failed")
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		}

		item.ActualOutput = result.Stdout
		item.ExecutionTime = result.Time
		item.Memory = result.Memory

		switch result.Status.ID {
		case judge0.StatusAccepted, judge0.StatusWrongAnswer:
			item.Passed = scoring.OutputsMatch(result.Stdout, tc.ExpectedOutput)
			item.Status = models.AttemptStatusWrongAnswer
			if item.Passed {
				item.Status = models.AttemptStatusAccepted
			}
		case judge0.StatusTimeLimitExceeded:
			item.Status = models.AttemptStatusTimeout
			item.Error = result.Status.Description
		case judge0.StatusCompilationError:
			item.Status = models.AttemptStatusError
			item.Error = firstNonEmpty(result.CompileOutput, result.Status.Description)
			compileError = item.Error
		default:
			item.Status = models.AttemptStatusError
			item.Error = firstNonEmpty(result.Stderr, result.Message, result.Status.Description)
		}
		results = append(results, item)
	}

	return results, nil
}

func (s *submissionService) Complete(ctx context.Context, actor access.Principal, id uint) (dto.SubmissionCompleteResponse, error) {
	submission, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return dto.SubmissionCompleteResponse{}, err
	}
	if submission.IsCompleted() {
		return dto.SubmissionCompleteResponse{}, ErrSubmissionCompleted
	}

	var session *models.TestSession
	if found, err := s.sessions.GetBySubmission(ctx, submission.ID); err == nil {
		session = &found
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SubmissionCompleteResponse{}, err
	}

	return s.finalize(ctx, submission, session, "candidate")
}

// HandleSessionEvent is registered on the event bus.
func (s *submissionService) HandleSessionEvent(ctx context.Context, event DomainEvent) {
	if event.Remote || event.SubmissionID == 0 {
		return
	}
	if event.Type != EventSessionEnded && event.Type != EventSessionExpired {
		return
	}

	logger := s.logger.With().Uint("submission_id", event.SubmissionID).Str("event", event.Type).Logger()

	submission, err := s.submissions.GetByID(ctx, event.SubmissionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load submission for auto-complete")
		return
	}
	if submission.IsCompleted() {
		return
	}

	var session *models.TestSession
	if event.SessionID != 0 {
		if found, err := s.sessions.GetByID(ctx, event.SessionID); err == nil {
			session = &found
		}
	}

	reason := "session_ended"
	if event.Type == EventSessionExpired {
		reason = "session_expired"
	}
	if _, err := s.finalize(ctx, submission, session, reason); err != nil && !errors.Is(err, ErrSubmissionCompleted) {
		logger.Error().Err(err).Msg("failed to auto-complete submission")
	}
}

// finalize totals the submission, issues the certificate and closes the
// session and invitation it ran under.
func (s *submissionService) finalize(ctx context.Context, submission models.Submission, session *models.TestSession, reason string) (dto.SubmissionCompleteResponse, error) {
	test, err := s.loadTest(ctx, submission.TestID)
	if err != nil {
		return dto.SubmissionCompleteResponse{}, err
	}

	now := s.now().UTC()
	submission.CodingScore = scoring.CodingScore(submission.CodingAttempts, s.cfg.Aggregation)
	submission.TotalScore = submission.MCQScore + submission.CodingScore
	submission.CompletedAt = &now
	if _, err := submission.Advance(models.SubmissionStatusCompleted); err != nil {
		return dto.SubmissionCompleteResponse{}, err
	}
	if err := s.submissions.SaveProgress(ctx, &submission, repository.CompletionColumns); err != nil {
		return dto.SubmissionCompleteResponse{}, progressError(err)
	}

	percentage := scoring.Percentage(submission.TotalScore, test.TotalMarks)
	passed := submission.TotalScore >= test.PassingMarks
	response := dto.SubmissionCompleteResponse{
		Submission: dto.NewSubmissionResponse(submission, false),
		Passed:     passed,
		Percentage: percentage,
	}

	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	if test.Type == models.TestTypePractice {
		outcome = "practice"
	} else {
		certificate, err := s.certificates.Upsert(ctx, &models.Certificate{
			UUID:         uuid.NewString(),
			UserID:       submission.UserID,
			TestID:       submission.TestID,
			SubmissionID: submission.ID,
			Score:        submission.TotalScore,
			TotalMarks:   test.TotalMarks,
			Percentage:   percentage,
			Type:         scoring.CertificateType(submission.TotalScore, test.PassingMarks),
			IssuedAt:     now,
		})
		if err != nil {
			return dto.SubmissionCompleteResponse{}, err
		}
		certificate.Test = test
		issued := dto.NewCertificateResponse(certificate, s.cfg.VerifyBaseURL)
		response.Certificate = &issued
	}
	observability.SubmissionsCompleted().WithLabelValues(outcome).Inc()

	var sessionID uint
	if session != nil {
		sessionID = session.ID
		if session.IsActive() {
			session.Status = models.SessionStatusCompleted
			session.EndTime = &now
			if err := s.sessions.Save(ctx, session); err != nil {
				s.logger.Warn().Err(err).Uint("session_id", session.ID).Msg("failed to close session")
			}
		}
		if session.InvitationID != nil && s.invitations != nil {
			if err := s.invitations.MarkCompleted(ctx, *session.InvitationID); err != nil {
				s.logger.Warn().Err(err).Uint("invitation_id", *session.InvitationID).Msg("failed to complete invitation")
			}
		}
	}

	if s.events != nil {
		s.events.Publish(ctx, DomainEvent{
			Type:         EventSubmissionCompleted,
			TestID:       test.ID,
			VendorID:     test.VendorID,
			UserID:       submission.UserID,
			SessionID:    sessionID,
			SubmissionID: submission.ID,
			Payload: map[string]interface{}{
				"total_score": submission.TotalScore,
				"percentage":  percentage,
				"passed":      passed,
				"reason":      reason,
			},
		})
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Int("total_score", submission.TotalScore).
		Bool("passed", passed).
		Str("reason", reason).
		Msg("submission completed")

	return response, nil
}

func (s *submissionService) Get(ctx context.Context, actor access.Principal, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if submission.UserID == actor.ID {
		return dto.NewSubmissionResponse(submission, false), nil
	}

	test, err := s.loadTest(ctx, submission.TestID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if decision := access.CanManageTest(test, actor); !decision.Allowed {
		return dto.SubmissionResponse{}, forbidden(decision)
	}
	return dto.NewSubmissionResponse(submission, true), nil
}

func (s *submissionService) ListByTest(ctx context.Context, actor access.Principal, testID uint, filter dto.SubmissionFilter) (dto.SubmissionListResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return dto.SubmissionListResponse{}, err
	}

	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}
	if decision := access.CanManageTest(test, actor); !decision.Allowed {
		return dto.SubmissionListResponse{}, forbidden(decision)
	}

	page, pageSize := dto.NormalizePage(filter.Page, filter.PageSize)
	submissions, total, err := s.submissions.ListByTest(ctx, testID, repository.SubmissionFilter{
		Status:   filter.Status,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}
	return dto.NewSubmissionListResponse(submissions, dto.NewPaginationMeta(page, pageSize, total)), nil
}

func (s *submissionService) Mine(ctx context.Context, actor access.Principal) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	items := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, dto.NewSubmissionResponse(submission, false))
	}
	return items, nil
}

func (s *submissionService) load(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) loadOwned(ctx context.Context, actor access.Principal, id uint) (models.Submission, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	if submission.UserID != actor.ID {
		return models.Submission{}, fmt.Errorf("%w: not your submission", ErrForbidden)
	}
	return submission, nil
}

func (s *submissionService) loadOpen(ctx context.Context, actor access.Principal, id uint) (models.Submission, error) {
	submission, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return models.Submission{}, err
	}
	if submission.IsCompleted() {
		return models.Submission{}, ErrSubmissionCompleted
	}
	return submission, nil
}

// requireSession returns the live session the submission belongs to.
func (s *submissionService) requireSession(ctx context.Context, submission models.Submission) (models.TestSession, error) {
	session, err := s.sessions.FindActive(ctx, submission.UserID, submission.TestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestSession{}, ErrSessionClosed
		}
		return models.TestSession{}, err
	}
	if session.SubmissionID != submission.ID || session.IsOverdue(s.now()) {
		return models.TestSession{}, ErrSessionClosed
	}
	return session, nil
}

func (s *submissionService) loadTest(ctx context.Context, id uint) (models.Test, error) {
	test, err := s.tests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Test{}, ErrTestNotFound
		}
		return models.Test{}, err
	}
	return test, nil
}

func (s *submissionService) record(ctx context.Context, rows []models.TestAnalytics) {
	if s.analytics == nil || len(rows) == 0 {
		return
	}
	if err := s.analytics.Record(ctx, rows); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record analytics")
	}
}

func allChallengesAttempted(challenges []models.CodingChallenge, attempts []models.CodingAttempt) bool {
	if len(challenges) == 0 {
		return false
	}
	seen := make(map[uint]bool, len(attempts))
	for _, attempt := range attempts {
		seen[attempt.ChallengeID] = true
	}
	for _, challenge := range challenges {
		if !seen[challenge.ID] {
			return false
		}
	}
	return true
}

// canonicalLanguage folds aliases such as py or python3 onto the judge's
// language names. Unknown names are only lower-cased.
func canonicalLanguage(name string) string {
	if canonical, ok := judge0.CanonicalLanguage(name); ok {
		return canonical
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func progressError(err error) error {
	if errors.Is(err, repository.ErrSubmissionClosed) {
		return ErrSubmissionCompleted
	}
	return err
}
