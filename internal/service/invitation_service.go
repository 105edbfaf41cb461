package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/repository"
)

const (
	invitationTokenBytes   = 24
	defaultInvitationDays  = 7
	defaultInvitationTries = 1
)

// InvitationService issues and redeems test invitations.
type InvitationService interface {
	Create(ctx context.Context, actor access.Principal, testID uint, payload dto.InvitationCreateRequest) ([]dto.InvitationResponse, error)
	List(ctx context.Context, actor access.Principal, testID uint) ([]dto.InvitationResponse, error)
	Verify(ctx context.Context, token string) (dto.InvitationDetailResponse, error)
	Accept(ctx context.Context, actor access.Principal, token string) (dto.InvitationDetailResponse, error)

	// ForStart resolves the invitation a session is started under, if any.
	ForStart(ctx context.Context, actor access.Principal, test *models.Test, token string) (*models.TestInvitation, error)
	MarkCompleted(ctx context.Context, invitationID uint) error
	ExpireOverdue(ctx context.Context) (int64, error)
}

type invitationService struct {
	invitations repository.InvitationRepository
	tests       repository.TestRepository
	mailer      Mailer
	audit       AuditRecorder
	validator   *validator.Validate
	frontendURL string
	logger      zerolog.Logger
	now         func() time.Time
}

// NewInvitationService constructs the invitation service.
func NewInvitationService(invitations repository.InvitationRepository, tests repository.TestRepository, mailer Mailer, audit AuditRecorder, validate *validator.Validate, frontendURL string, logger zerolog.Logger) InvitationService {
	return &invitationService{
		invitations: invitations,
		tests:       tests,
		mailer:      mailer,
		audit:       audit,
		validator:   validate,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger.With().Str("component", "invitation_service").Logger(),
		now:         time.Now,
	}
}

func (s *invitationService) Create(ctx context.Context, actor access.Principal, testID uint, payload dto.InvitationCreateRequest) ([]dto.InvitationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, err
	}

	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if decision := access.CanManageTest(test, actor); !decision.Allowed {
		return nil, forbidden(decision)
	}
	if test.Status == models.TestStatusArchived {
		return nil, fmt.Errorf("%w: archived tests cannot be shared", ErrInvalidStatus)
	}

	days := payload.ExpiresInDays
	if days <= 0 {
		days = defaultInvitationDays
	}
	attempts := payload.MaxAttempts
	if attempts <= 0 {
		attempts = defaultInvitationTries
	}
	expiresAt := s.now().UTC().Add(time.Duration(days) * 24 * time.Hour)

	seen := make(map[string]struct{}, len(payload.Invitees))
	invitations := make([]models.TestInvitation, 0, len(payload.Invitees))
	for _, invitee := range payload.Invitees {
		email := normalizeEmail(invitee.Email)
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		token, err := randomToken(invitationTokenBytes)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, models.TestInvitation{
			TestID:      test.ID,
			Email:       email,
			Name:        strings.TrimSpace(invitee.Name),
			Token:       token,
			InvitedBy:   actor.ID,
			Status:      models.InvitationStatusPending,
			ExpiresAt:   expiresAt,
			MaxAttempts: attempts,
		})
	}

	if err := s.invitations.CreateBatch(ctx, invitations); err != nil {
		return nil, err
	}

	responses := make([]dto.InvitationResponse, 0, len(invitations))
	for _, invitation := range invitations {
		link := s.link(invitation.Token)
		if err := s.mailer.Send(ctx, s.invitationMail(test, invitation, link, payload.Message)); err != nil {
			s.logger.Warn().Err(err).Uint("invitation_id", invitation.ID).Msg("failed to send invitation email")
		}

		response := dto.NewInvitationResponse(invitation)
		response.Link = link
		responses = append(responses, response)
	}

	s.logger.Info().Uint("test_id", test.ID).Int("count", len(invitations)).Msg("invitations created")
	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityInvitationsSent,
		EntityType: "test", EntityID: uintPtr(test.ID),
		Metadata: map[string]interface{}{"count": len(invitations), "expires_in_days": days, "max_attempts": attempts},
	})

	return responses, nil
}

func (s *invitationService) List(ctx context.Context, actor access.Principal, testID uint) ([]dto.InvitationResponse, error) {
	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if decision := access.CanManageTest(test, actor); !decision.Allowed {
		return nil, forbidden(decision)
	}

	invitations, err := s.invitations.ListByTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range invitations {
		if invitations[i].Status == models.InvitationStatusPending && invitations[i].IsExpired(now) {
			invitations[i].Status = models.InvitationStatusExpired
		}
	}
	return dto.NewInvitationResponseSlice(invitations), nil
}

// Verify looks up an invitation by token. A pending invitation past its
// expiry is marked expired on this access.
func (s *invitationService) Verify(ctx context.Context, token string) (dto.InvitationDetailResponse, error) {
	invitation, err := s.usableByToken(ctx, token)
	if err != nil {
		return dto.InvitationDetailResponse{}, err
	}
	return dto.InvitationDetailResponse{
		Invitation: dto.NewInvitationResponse(invitation),
		Test:       dto.NewTestSummary(invitation.Test),
	}, nil
}

// Accept binds the invitation to the caller and adds them to the test's
// allow-list.
func (s *invitationService) Accept(ctx context.Context, actor access.Principal, token string) (dto.InvitationDetailResponse, error) {
	invitation, err := s.usableByToken(ctx, token)
	if err != nil {
		return dto.InvitationDetailResponse{}, err
	}
	if err := s.accept(ctx, actor, &invitation); err != nil {
		return dto.InvitationDetailResponse{}, err
	}

	return dto.InvitationDetailResponse{
		Invitation: dto.NewInvitationResponse(invitation),
		Test:       dto.NewTestSummary(invitation.Test),
	}, nil
}

func (s *invitationService) ForStart(ctx context.Context, actor access.Principal, test *models.Test, token string) (*models.TestInvitation, error) {
	token = strings.TrimSpace(token)
	if token != "" {
		invitation, err := s.usableByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if invitation.TestID != test.ID {
			return nil, fmt.Errorf("%w: invitation is for another test", ErrInvitationMismatch)
		}
		if !invitation.HasAttemptsLeft() {
			return nil, ErrAttemptsExhausted
		}
		if err := s.accept(ctx, actor, &invitation); err != nil {
			return nil, err
		}
		test.AccessControl = invitation.Test.AccessControl
		return &invitation, nil
	}

	if actor.Email == "" {
		return nil, nil
	}
	invitation, err := s.invitations.FindUsable(ctx, test.ID, normalizeEmail(actor.Email), s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	invitation.Test = *test
	if err := s.accept(ctx, actor, &invitation); err != nil {
		return nil, err
	}
	test.AccessControl = invitation.Test.AccessControl
	return &invitation, nil
}

// MarkCompleted closes the invitation once its last attempt has finished.
func (s *invitationService) MarkCompleted(ctx context.Context, invitationID uint) error {
	invitation, err := s.invitations.GetByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return err
	}
	if invitation.HasAttemptsLeft() {
		return nil
	}
	return s.invitations.UpdateStatus(ctx, invitationID, models.InvitationStatusCompleted, nil)
}

func (s *invitationService) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.invitations.ExpireOverdue(ctx, s.now())
}

func (s *invitationService) usableByToken(ctx context.Context, token string) (models.TestInvitation, error) {
	invitation, err := s.invitations.GetByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestInvitation{}, ErrInvitationNotFound
		}
		return models.TestInvitation{}, err
	}

	if invitation.Status == models.InvitationStatusExpired {
		return models.TestInvitation{}, ErrInvitationExpired
	}
	if invitation.Status == models.InvitationStatusPending && invitation.IsExpired(s.now()) {
		if err := s.invitations.UpdateStatus(ctx, invitation.ID, models.InvitationStatusExpired, nil); err != nil {
			s.logger.Warn().Err(err).Uint("invitation_id", invitation.ID).Msg("failed to mark invitation expired")
		}
		return models.TestInvitation{}, ErrInvitationExpired
	}
	if invitation.Test.Status == models.TestStatusArchived {
		return models.TestInvitation{}, fmt.Errorf("%w: test archived", ErrInvitationExpired)
	}
	return invitation, nil
}

func (s *invitationService) accept(ctx context.Context, actor access.Principal, invitation *models.TestInvitation) error {
	if actor.ID == 0 {
		return fmt.Errorf("%w: %s", ErrForbidden, access.ReasonAnonymous)
	}
	if normalizeEmail(actor.Email) != invitation.Email {
		return ErrInvitationMismatch
	}
	switch invitation.Status {
	case models.InvitationStatusPending:
	case models.InvitationStatusAccepted:
		return nil
	default:
		return fmt.Errorf("%w: invitation is %s", ErrInvalidStatus, invitation.Status)
	}

	test := invitation.Test
	if !test.AccessControl.AllowsUser(actor.ID, actor.Email) {
		test.AccessControl.AddUser(actor.ID, actor.Email)
		if err := s.tests.Update(ctx, &test); err != nil {
			return err
		}
	}

	acceptedAt := s.now().UTC()
	if err := s.invitations.UpdateStatus(ctx, invitation.ID, models.InvitationStatusAccepted, &acceptedAt); err != nil {
		return err
	}
	invitation.Status = models.InvitationStatusAccepted
	invitation.AcceptedAt = &acceptedAt
	invitation.Test = test
	return nil
}

func (s *invitationService) loadTest(ctx context.Context, id uint) (models.Test, error) {
	test, err := s.tests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Test{}, ErrTestNotFound
		}
		return models.Test{}, err
	}
	return test, nil
}

func (s *invitationService) link(token string) string {
	return fmt.Sprintf("%s/invitations/%s", s.frontendURL, token)
}

func (s *invitationService) invitationMail(test models.Test, invitation models.TestInvitation, link, note string) MailMessage {
	greeting := "Hi"
	if invitation.Name != "" {
		greeting = "Hi " + invitation.Name
	}

	var body strings.Builder
	fmt.Fprintf(&body, "%s,\n\nYou have been invited to take %q on CodeQuest.\n", greeting, test.Title)
	if note = strings.TrimSpace(note); note != "" {
		fmt.Fprintf(&body, "\n%s\n", note)
	}
	fmt.Fprintf(&body, "\nDuration: %d minutes\nAttempts allowed: %d\nExpires: %s\n\nStart here: %s\n",
		test.DurationMinutes, invitation.MaxAttempts, invitation.ExpiresAt.Format(time.RFC1123), link)

	return MailMessage{
		To:      invitation.Email,
		Subject: "Invitation: " + test.Title,
		Body:    body.String(),
	}
}
