package dto

import (
	"time"

	"github.com/noah-isme/codequest-api/internal/models"
)

// InviteeInput identifies one invited candidate.
type InviteeInput struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"omitempty,max=120"`
}

// InvitationCreateRequest invites candidates to a test.
type InvitationCreateRequest struct {
	Invitees      []InviteeInput `json:"invitees" validate:"required,min=1,max=200,dive"`
	ExpiresInDays int            `json:"expires_in_days" validate:"omitempty,gte=1,lte=90"`
	MaxAttempts   int            `json:"max_attempts" validate:"omitempty,gte=1,lte=10"`
	Message       string         `json:"message" validate:"omitempty,max=2000"`
}

// InvitationResponse serializes an invitation. Link is only present in the
// response to the vendor that created it.
type InvitationResponse struct {
	ID           uint       `json:"id"`
	TestID       uint       `json:"test_id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	ExpiresAt    time.Time  `json:"expires_at"`
	MaxAttempts  int        `json:"max_attempts"`
	AttemptsUsed int        `json:"attempts_used"`
	AcceptedAt   *time.Time `json:"accepted_at"`
	CreatedAt    time.Time  `json:"created_at"`
	Link         string     `json:"link,omitempty"`
}

// InvitationDetailResponse is returned when a candidate opens an invitation link.
type InvitationDetailResponse struct {
	Invitation InvitationResponse `json:"invitation"`
	Test       TestSummary        `json:"test"`
}

// NewInvitationResponse converts an invitation model into a DTO.
func NewInvitationResponse(invitation models.TestInvitation) InvitationResponse {
	return InvitationResponse{
		ID:           invitation.ID,
		TestID:       invitation.TestID,
		Email:        invitation.Email,
		Name:         invitation.Name,
		Status:       invitation.Status,
		ExpiresAt:    invitation.ExpiresAt,
		MaxAttempts:  invitation.MaxAttempts,
		AttemptsUsed: invitation.AttemptsUsed,
		AcceptedAt:   invitation.AcceptedAt,
		CreatedAt:    invitation.CreatedAt,
	}
}

// NewInvitationResponseSlice converts invitations into DTOs.
func NewInvitationResponseSlice(invitations []models.TestInvitation) []InvitationResponse {
	items := make([]InvitationResponse, 0, len(invitations))
	for _, invitation := range invitations {
		items = append(items, NewInvitationResponse(invitation))
	}
	return items
}
