package models

import "time"

// Certificate kinds.
const (
	CertificateTypePassed        = "passed"
	CertificateTypeParticipation = "participation"
)

// Certificate is issued once per (user, test) from a completed submission.
type Certificate struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"size:36;uniqueIndex;not null" json:"uuid"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_certificate_user_test" json:"user_id"`
	TestID       uint      `gorm:"not null;uniqueIndex:idx_certificate_user_test" json:"test_id"`
	SubmissionID uint      `gorm:"not null" json:"submission_id"`
	Score        int       `gorm:"not null" json:"score"`
	TotalMarks   int       `gorm:"not null" json:"total_marks"`
	Percentage   float64   `gorm:"not null" json:"percentage"`
	Type         string    `gorm:"size:32;not null" json:"type"`
	IssuedAt     time.Time `gorm:"not null" json:"issued_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	User         User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Test         Test      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}
