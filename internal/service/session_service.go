package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/observability"
	"github.com/noah-isme/codequest-api/internal/repository"
)

// DeviceInfo is captured from the request that starts a session.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

// SessionService runs the timed window of a test attempt.
type SessionService interface {
	Start(ctx context.Context, actor access.Principal, payload dto.SessionStartRequest, device DeviceInfo) (dto.SessionStartResponse, error)
	Heartbeat(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error)
	RecordEvent(ctx context.Context, actor access.Principal, id uint, payload dto.ProctoringEventRequest) (dto.SessionResponse, error)
	End(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error)
	Get(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error)
	Watch(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, <-chan DomainEvent, func(), error)
	ExpireOverdue(ctx context.Context) (int, error)
}

type sessionService struct {
	sessions    repository.SessionRepository
	submissions repository.SubmissionRepository
	tests       repository.TestRepository
	analytics   repository.AnalyticsRepository
	invitations InvitationService
	events      EventBus
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSessionService constructs the session service.
func NewSessionService(sessions repository.SessionRepository, submissions repository.SubmissionRepository, tests repository.TestRepository, analytics repository.AnalyticsRepository, invitations InvitationService, events EventBus, validate *validator.Validate, logger zerolog.Logger) SessionService {
	return &sessionService{
		sessions:    sessions,
		submissions: submissions,
		tests:       tests,
		analytics:   analytics,
		invitations: invitations,
		events:      events,
		validator:   validate,
		logger:      logger.With().Str("component", "session_service").Logger(),
		now:         time.Now,
	}
}

// Start opens a session and a new submission version. An active session for
// the same test is resumed instead.
func (s *sessionService) Start(ctx context.Context, actor access.Principal, payload dto.SessionStartRequest, device DeviceInfo) (dto.SessionStartResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SessionStartResponse{}, err
	}

	test, err := s.tests.GetByID(ctx, payload.TestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SessionStartResponse{}, ErrTestNotFound
		}
		return dto.SessionStartResponse{}, err
	}
	if test.Status != models.TestStatusPublished {
		return dto.SessionStartResponse{}, fmt.Errorf("%w: test is %s", ErrInvalidStatus, test.Status)
	}

	if resumed, ok, err := s.resume(ctx, actor, test); err != nil || ok {
		return resumed, err
	}

	invitation, err := s.invitations.ForStart(ctx, actor, &test, payload.InvitationToken)
	if err != nil {
		return dto.SessionStartResponse{}, err
	}
	if decision := access.CanAccessTest(test, actor); !decision.Allowed {
		return dto.SessionStartResponse{}, forbidden(decision)
	}

	now := s.now().UTC()
	submission := models.Submission{
		UserID:    actor.ID,
		TestID:    test.ID,
		Status:    models.SubmissionStatusInProgress,
		StartedAt: now,
	}
	session := models.TestSession{
		UserID:          actor.ID,
		TestID:          test.ID,
		Status:          models.SessionStatusActive,
		StartTime:       now,
		DurationMinutes: test.DurationMinutes,
		UserAgent:       truncate(device.UserAgent, 512),
		IPAddress:       truncate(device.IPAddress, 64),
		Platform:        strings.TrimSpace(payload.Platform),
		Warnings:        datatypes.JSONSlice[models.ProctoringEvent]{},
		LastHeartbeat:   &now,
	}
	if invitation != nil {
		session.InvitationID = uintPtr(invitation.ID)
	}
	if err := s.sessions.Open(ctx, &session, &submission); err != nil {
		if errors.Is(err, repository.ErrAttemptLimitReached) {
			return dto.SessionStartResponse{}, ErrAttemptsExhausted
		}
		return dto.SessionStartResponse{}, err
	}

	s.logger.Info().
		Uint("session_id", session.ID).
		Uint("test_id", test.ID).
		Uint("user_id", actor.ID).
		Int("version", submission.Version).
		Msg("session started")
	s.publish(ctx, EventSessionStarted, session, test.VendorID, nil)

	return dto.SessionStartResponse{
		Session:    dto.NewSessionResponse(session, s.now()),
		Submission: dto.NewSubmissionResponse(submission, false),
		Test:       dto.NewTestResponse(test, false),
	}, nil
}

func (s *sessionService) resume(ctx context.Context, actor access.Principal, test models.Test) (dto.SessionStartResponse, bool, error) {
	session, err := s.sessions.FindActive(ctx, actor.ID, test.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SessionStartResponse{}, false, nil
		}
		return dto.SessionStartResponse{}, false, err
	}

	if expired, err := s.expireIfOverdue(ctx, &session); err != nil || expired {
		return dto.SessionStartResponse{}, false, err
	}

	submission, err := s.submissions.GetByID(ctx, session.SubmissionID)
	if err != nil {
		return dto.SessionStartResponse{}, false, err
	}

	return dto.SessionStartResponse{
		Session:    dto.NewSessionResponse(session, s.now()),
		Submission: dto.NewSubmissionResponse(submission, false),
		Test:       dto.NewTestResponse(test, false),
	}, true, nil
}

func (s *sessionService) Heartbeat(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error) {
	session, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return dto.SessionResponse{}, err
	}

	now := s.now().UTC()
	session.LastHeartbeat = &now
	if err := s.sessions.Save(ctx, &session); err != nil {
		return dto.SessionResponse{}, err
	}

	s.publish(ctx, EventSessionHeartbeat, session, 0, map[string]interface{}{
		"remaining_seconds": session.RemainingSeconds(now),
	})
	return dto.NewSessionResponse(session, now), nil
}

func (s *sessionService) RecordEvent(ctx context.Context, actor access.Principal, id uint, payload dto.ProctoringEventRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SessionResponse{}, err
	}

	session, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return dto.SessionResponse{}, err
	}

	now := s.now().UTC()
	event := models.ProctoringEvent{Type: payload.Type, Detail: strings.TrimSpace(payload.Detail), At: now}
	session.Warnings = append(session.Warnings, event)
	if payload.Type == models.ProctoringTabSwitch {
		session.TabSwitches++
	}
	if err := s.sessions.Save(ctx, &session); err != nil {
		return dto.SessionResponse{}, err
	}

	if s.analytics != nil {
		row := models.TestAnalytics{
			TestID:       session.TestID,
			UserID:       session.UserID,
			SubmissionID: uintPtr(session.SubmissionID),
			Type:         models.AnalyticsTypeBehavior,
			Event:        payload.Type,
			Metadata:     datatypes.JSONMap{"session_id": session.ID},
		}
		if err := s.analytics.Record(ctx, []models.TestAnalytics{row}); err != nil {
			s.logger.Warn().Err(err).Uint("session_id", session.ID).Msg("failed to record proctoring analytics")
		}
	}

	s.publish(ctx, EventSessionProctoring, session, 0, map[string]interface{}{
		"event":        payload.Type,
		"tab_switches": session.TabSwitches,
		"warnings":     len(session.Warnings),
	})
	return dto.NewSessionResponse(session, now), nil
}

// End closes the session. The submission is finalised by the handler of
// the session.ended event.
func (s *sessionService) End(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error) {
	session, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return dto.SessionResponse{}, err
	}

	now := s.now().UTC()
	session.Status = models.SessionStatusCompleted
	session.EndTime = &now
	if err := s.sessions.Save(ctx, &session); err != nil {
		return dto.SessionResponse{}, err
	}

	s.logger.Info().Uint("session_id", session.ID).Msg("session ended")
	s.publish(ctx, EventSessionEnded, session, 0, nil)
	return dto.NewSessionResponse(session, now), nil
}

func (s *sessionService) Get(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, error) {
	session, err := s.loadViewable(ctx, actor, id)
	if err != nil {
		return dto.SessionResponse{}, err
	}
	return dto.NewSessionResponse(session, s.now()), nil
}

// Watch authorises the caller and subscribes to the session's events.
func (s *sessionService) Watch(ctx context.Context, actor access.Principal, id uint) (dto.SessionResponse, <-chan DomainEvent, func(), error) {
	session, err := s.loadViewable(ctx, actor, id)
	if err != nil {
		return dto.SessionResponse{}, nil, nil, err
	}
	events, cancel := s.events.Subscribe(SessionKey(session.ID))
	return dto.NewSessionResponse(session, s.now()), events, cancel, nil
}

// ExpireOverdue closes every active session past its deadline.
func (s *sessionService) ExpireOverdue(ctx context.Context) (int, error) {
	expired, err := s.sessions.ExpireOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for _, session := range expired {
		observability.SessionsExpired().Inc()
		s.publish(ctx, EventSessionExpired, session, 0, nil)
	}
	return len(expired), nil
}

func (s *sessionService) load(ctx context.Context, id uint) (models.TestSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestSession{}, ErrSessionNotFound
		}
		return models.TestSession{}, err
	}
	if _, err := s.expireIfOverdue(ctx, &session); err != nil {
		return models.TestSession{}, err
	}
	return session, nil
}

func (s *sessionService) loadActive(ctx context.Context, actor access.Principal, id uint) (models.TestSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return models.TestSession{}, err
	}
	if session.UserID != actor.ID {
		return models.TestSession{}, fmt.Errorf("%w: not your session", ErrForbidden)
	}
	if !session.IsActive() {
		return models.TestSession{}, fmt.Errorf("%w: session is %s", ErrSessionClosed, session.Status)
	}
	return session, nil
}

// loadViewable allows the candidate, admins and the owning vendor.
func (s *sessionService) loadViewable(ctx context.Context, actor access.Principal, id uint) (models.TestSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return models.TestSession{}, err
	}
	if session.UserID == actor.ID || actor.IsAdmin() {
		return session, nil
	}

	test, err := s.tests.GetByID(ctx, session.TestID)
	if err != nil {
		return models.TestSession{}, err
	}
	if decision := access.CanManageTest(test, actor); !decision.Allowed {
		return models.TestSession{}, forbidden(decision)
	}
	return session, nil
}

// expireIfOverdue applies the deadline lazily on access.
func (s *sessionService) expireIfOverdue(ctx context.Context, session *models.TestSession) (bool, error) {
	if !session.IsOverdue(s.now()) {
		return false, nil
	}

	deadline := session.Deadline()
	session.Status = models.SessionStatusExpired
	session.EndTime = &deadline
	if err := s.sessions.Save(ctx, session); err != nil {
		return false, err
	}

	observability.SessionsExpired().Inc()
	s.logger.Info().Uint("session_id", session.ID).Msg("session expired on access")
	s.publish(ctx, EventSessionExpired, *session, 0, nil)
	return true, nil
}

func (s *sessionService) publish(ctx context.Context, eventType string, session models.TestSession, vendorID uint, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["status"] = session.Status
	if session.InvitationID != nil {
		payload["invitation_id"] = *session.InvitationID
	}
	s.events.Publish(ctx, DomainEvent{
		Type:         eventType,
		TestID:       session.TestID,
		VendorID:     vendorID,
		UserID:       session.UserID,
		SessionID:    session.ID,
		SubmissionID: session.SubmissionID,
		Payload:      payload,
	})
}

// truncate trims value to at most max bytes of valid UTF-8 without splitting
// a rune.
func truncate(value string, max int) string {
	value = strings.ToValidUTF8(strings.TrimSpace(value), "")
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
