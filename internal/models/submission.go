package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Submission states. A submission only ever moves forward through these.
const (
	SubmissionStatusInProgress      = "in_progress"
	SubmissionStatusMCQCompleted    = "mcq_completed"
	SubmissionStatusCodingCompleted = "coding_completed"
	SubmissionStatusCompleted       = "completed"
)

var submissionStatusRank = map[string]int{
	SubmissionStatusInProgress:      0,
	SubmissionStatusMCQCompleted:    1,
	SubmissionStatusCodingCompleted: 2,
	SubmissionStatusCompleted:       3,
}

// Coding attempt outcomes.
const (
	AttemptStatusAccepted    = "accepted"
	AttemptStatusPartial     = "partial"
	AttemptStatusWrongAnswer = "wrong_answer"
	AttemptStatusError       = "error"
	AttemptStatusTimeout     = "timeout"
)

// MCQAnswer is the graded answer to a single MCQ.
type MCQAnswer struct {
	QuestionID      uint  `json:"question_id"`
	SelectedOptions []int `json:"selected_options"`
	IsCorrect       bool  `json:"is_correct"`
	MarksObtained   int   `json:"marks_obtained"`
}

// TestCaseResult captures how a coding attempt fared on one test case.
type TestCaseResult struct {
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expected_output"`
	ActualOutput   string  `json:"actual_output"`
	Passed         bool    `json:"passed"`
	Hidden         bool    `json:"hidden"`
	Status         string  `json:"status"`
	ExecutionTime  float64 `json:"execution_time"`
	Memory         int     `json:"memory"`
	Error          string  `json:"error,omitempty"`
}

// Submission aggregates a candidate's answers for one attempt at a test.
type Submission struct {
	ID             uint                           `gorm:"primaryKey" json:"id"`
	UserID         uint                           `gorm:"not null;uniqueIndex:idx_submission_attempt" json:"user_id"`
	TestID         uint                           `gorm:"not null;uniqueIndex:idx_submission_attempt;index" json:"test_id"`
	Version        int                            `gorm:"not null;uniqueIndex:idx_submission_attempt" json:"version"`
	Status         string                         `gorm:"size:32;not null;index" json:"status"`
	MCQAnswers     datatypes.JSONSlice[MCQAnswer] `json:"mcq_answers"`
	MCQScore       int                            `gorm:"not null;default:0" json:"mcq_score"`
	MCQSubmittedAt *time.Time                     `json:"mcq_submitted_at"`
	CodingScore    int                            `gorm:"not null;default:0" json:"coding_score"`
	TotalScore     int                            `gorm:"not null;default:0" json:"total_score"`
	StartedAt      time.Time                      `json:"started_at"`
	CompletedAt    *time.Time                     `json:"completed_at"`
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
	CodingAttempts []CodingAttempt                `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"coding_attempts"`
	User           User                           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Test           Test                           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsCompleted reports whether the submission has been finalised.
func (s Submission) IsCompleted() bool {
	return s.Status == SubmissionStatusCompleted
}

// Advance moves the submission to next when that is not a regression. It
// reports whether the status changed.
func (s *Submission) Advance(next string) (bool, error) {
	nextRank, ok := submissionStatusRank[next]
	if !ok {
		return false, fmt.Errorf("unknown submission status %q", next)
	}
	currentRank, ok := submissionStatusRank[s.Status]
	if !ok {
		currentRank = -1
	}
	if nextRank <= currentRank {
		return false, nil
	}
	s.Status = next
	return true, nil
}

// SubmissionStatusesBefore lists the stored statuses a write of next may
// replace: every open status ranked at or below next. A completed
// submission is never replaced.
func SubmissionStatusesBefore(next string) []string {
	nextRank, ok := submissionStatusRank[next]
	if !ok {
		return nil
	}
	statuses := make([]string, 0, len(submissionStatusRank))
	for _, status := range []string{SubmissionStatusInProgress, SubmissionStatusMCQCompleted, SubmissionStatusCodingCompleted} {
		if submissionStatusRank[status] <= nextRank {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// CodingAttempt is one run of a candidate's code against a challenge.
type CodingAttempt struct {
	ID              uint                                `gorm:"primaryKey" json:"id"`
	SubmissionID    uint                                `gorm:"not null;index" json:"submission_id"`
	ChallengeID     uint                                `gorm:"not null;index" json:"challenge_id"`
	Language        string                              `gorm:"size:32;not null" json:"language"`
	Code            string                              `gorm:"type:text" json:"code"`
	Status          string                              `gorm:"size:32;not null" json:"status"`
	Marks           int                                 `gorm:"not null;default:0" json:"marks"`
	Score           int                                 `gorm:"not null;default:0" json:"score"`
	PassedCount     int                                 `gorm:"not null;default:0" json:"passed_count"`
	TotalCount      int                                 `gorm:"not null;default:0" json:"total_count"`
	ExecutionTime   float64                             `gorm:"not null;default:0" json:"execution_time"`
	Memory          int                                 `gorm:"not null;default:0" json:"memory"`
	TestCaseResults datatypes.JSONSlice[TestCaseResult] `json:"test_case_results"`
	CreatedAt       time.Time                           `json:"created_at"`
}
