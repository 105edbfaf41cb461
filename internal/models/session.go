package models

import (
	"time"

	"gorm.io/datatypes"
)

// Test session states.
const (
	SessionStatusActive     = "active"
	SessionStatusCompleted  = "completed"
	SessionStatusExpired    = "expired"
	SessionStatusTerminated = "terminated"
)

// Proctoring signal kinds.
const (
	ProctoringTabSwitch  = "tab_switch"
	ProctoringFocusLost  = "focus_lost"
	ProctoringCopyPaste  = "copy_paste"
	ProctoringFullscreen = "fullscreen_exit"
)

// ProctoringEvent is a single behavioural signal raised during a session.
type ProctoringEvent struct {
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// TestSession tracks the live timing window of an attempt.
type TestSession struct {
	ID              uint                                 `gorm:"primaryKey" json:"id"`
	UserID          uint                                 `gorm:"not null;index" json:"user_id"`
	TestID          uint                                 `gorm:"not null;index" json:"test_id"`
	SubmissionID    uint                                 `gorm:"not null;index" json:"submission_id"`
	InvitationID    *uint                                `json:"invitation_id"`
	Status          string                               `gorm:"size:32;not null;index" json:"status"`
	StartTime       time.Time                            `gorm:"not null" json:"start_time"`
	EndTime         *time.Time                           `json:"end_time"`
	DurationMinutes int                                  `gorm:"not null" json:"duration_minutes"`
	UserAgent       string                               `gorm:"size:512" json:"user_agent"`
	IPAddress       string                               `gorm:"size:64" json:"ip_address"`
	Platform        string                               `gorm:"size:64" json:"platform"`
	TabSwitches     int                                  `gorm:"not null;default:0" json:"tab_switches"`
	Warnings        datatypes.JSONSlice[ProctoringEvent] `json:"warnings"`
	LastHeartbeat   *time.Time                           `json:"last_heartbeat"`
	CreatedAt       time.Time                            `json:"created_at"`
	UpdatedAt       time.Time                            `json:"updated_at"`
}

// Deadline returns the moment the session's time window closes.
func (s TestSession) Deadline() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsActive reports whether the session still accepts activity.
func (s TestSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

// IsOverdue reports whether an active session has run past its deadline.
func (s TestSession) IsOverdue(now time.Time) bool {
	return s.IsActive() && s.DurationMinutes > 0 && now.After(s.Deadline())
}

// RemainingSeconds returns the whole seconds left before the deadline.
func (s TestSession) RemainingSeconds(now time.Time) int64 {
	if !s.IsActive() {
		return 0
	}
	remaining := s.Deadline().Sub(now)
	if remaining < 0 {
		return 0
	}
	return int64(remaining / time.Second)
}
