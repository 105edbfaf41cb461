package models

import (
	"time"

	"gorm.io/datatypes"
)

// Analytics row kinds.
const (
	AnalyticsTypeMCQ      = "mcq"
	AnalyticsTypeCoding   = "coding"
	AnalyticsTypeBehavior = "behavior"
)

// TestAnalytics is an append-only telemetry row.
type TestAnalytics struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	TestID           uint              `gorm:"not null;index:idx_analytics_test_type" json:"test_id"`
	UserID           uint              `gorm:"not null;index" json:"user_id"`
	SubmissionID     *uint             `json:"submission_id"`
	QuestionID       *uint             `gorm:"index" json:"question_id"`
	ChallengeID      *uint             `gorm:"index" json:"challenge_id"`
	Type             string            `gorm:"size:16;not null;index:idx_analytics_test_type" json:"type"`
	Event            string            `gorm:"size:64" json:"event"`
	TimeSpentSeconds int               `gorm:"not null;default:0" json:"time_spent_seconds"`
	Attempts         int               `gorm:"not null;default:0" json:"attempts"`
	IsCorrect        *bool             `json:"is_correct"`
	Score            float64           `gorm:"not null;default:0" json:"score"`
	Metadata         datatypes.JSONMap `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at"`
}
