package dto

import (
	"time"

	"github.com/noah-isme/codequest-api/internal/models"
)

// SessionStartRequest opens a test session. InvitationToken is required for
// private tests the candidate was invited to but not yet allow-listed for.
type SessionStartRequest struct {
	TestID          uint   `json:"test_id" validate:"required,gt=0"`
	InvitationToken string `json:"invitation_token" validate:"omitempty,min=16"`
	Platform        string `json:"platform" validate:"omitempty,max=64"`
}

// ProctoringEventRequest reports a proctoring signal.
type ProctoringEventRequest struct {
	Type   string `json:"type" validate:"required,oneof=tab_switch focus_lost copy_paste fullscreen_exit"`
	Detail string `json:"detail" validate:"omitempty,max=500"`
}

// SessionResponse serializes a test session.
type SessionResponse struct {
	ID               uint                     `json:"id"`
	TestID           uint                     `json:"test_id"`
	SubmissionID     uint                     `json:"submission_id"`
	Status           string                   `json:"status"`
	StartTime        time.Time                `json:"start_time"`
	EndTime          *time.Time               `json:"end_time"`
	Deadline         time.Time                `json:"deadline"`
	DurationMinutes  int                      `json:"duration_minutes"`
	RemainingSeconds int64                    `json:"remaining_seconds"`
	TabSwitches      int                      `json:"tab_switches"`
	Warnings         []models.ProctoringEvent `json:"warnings"`
	LastHeartbeat    *time.Time               `json:"last_heartbeat"`
}

// SessionStartResponse bundles everything the candidate UI needs to begin.
type SessionStartResponse struct {
	Session    SessionResponse    `json:"session"`
	Submission SubmissionResponse `json:"submission"`
	Test       TestResponse       `json:"test"`
}

// NewSessionResponse converts a session model into a DTO evaluated at now.
func NewSessionResponse(session models.TestSession, now time.Time) SessionResponse {
	warnings := []models.ProctoringEvent(session.Warnings)
	if warnings == nil {
		warnings = []models.ProctoringEvent{}
	}

	return SessionResponse{
		ID:               session.ID,
		TestID:           session.TestID,
		SubmissionID:     session.SubmissionID,
		Status:           session.Status,
		StartTime:        session.StartTime,
		EndTime:          session.EndTime,
		Deadline:         session.Deadline(),
		DurationMinutes:  session.DurationMinutes,
		RemainingSeconds: session.RemainingSeconds(now),
		TabSwitches:      session.TabSwitches,
		Warnings:         warnings,
		LastHeartbeat:    session.LastHeartbeat,
	}
}
