package models

import "time"

// Invitation states. Expired is terminal.
const (
	InvitationStatusPending   = "pending"
	InvitationStatusAccepted  = "accepted"
	InvitationStatusExpired   = "expired"
	InvitationStatusCompleted = "completed"
)

// TestInvitation grants a specific email access to a test through a token.
type TestInvitation struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TestID       uint       `gorm:"not null;index" json:"test_id"`
	Email        string     `gorm:"size:255;not null;index" json:"email"`
	Name         string     `gorm:"size:255" json:"name"`
	Token        string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	InvitedBy    uint       `gorm:"not null" json:"invited_by"`
	Status       string     `gorm:"size:32;not null;index" json:"status"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	MaxAttempts  int        `gorm:"not null;default:1" json:"max_attempts"`
	AttemptsUsed int        `gorm:"not null;default:0" json:"attempts_used"`
	AcceptedAt   *time.Time `json:"accepted_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Test         Test       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsExpired reports whether the invitation can no longer be used.
func (i TestInvitation) IsExpired(now time.Time) bool {
	return i.Status == InvitationStatusExpired || now.After(i.ExpiresAt)
}

// HasAttemptsLeft reports whether another attempt may be started.
func (i TestInvitation) HasAttemptsLeft() bool {
	return i.AttemptsUsed < i.MaxAttempts
}
