package dto

import (
	"time"

	"github.com/noah-isme/codequest-api/internal/models"
)

// MCQAnswerInput is a candidate's selection for one question.
type MCQAnswerInput struct {
	QuestionID      uint  `json:"question_id" validate:"required,gt=0"`
	SelectedOptions []int `json:"selected_options" validate:"dive,gte=0"`
}

// MCQSubmitRequest submits the MCQ section of a submission.
type MCQSubmitRequest struct {
	SubmissionID uint             `json:"submission_id" validate:"required,gt=0"`
	Answers      []MCQAnswerInput `json:"answers" validate:"required,min=1,dive"`
}

// CodingSubmitRequest submits one coding attempt.
type CodingSubmitRequest struct {
	SubmissionID uint   `json:"submission_id" validate:"required,gt=0"`
	ChallengeID  uint   `json:"challenge_id" validate:"required,gt=0"`
	Language     string `json:"language" validate:"required,max=32"`
	Code         string `json:"code" validate:"required,max=65536"`
}

// SubmissionFilter narrows the vendor view of a test's submissions.
type SubmissionFilter struct {
	Status   string `query:"status" validate:"omitempty,oneof=in_progress mcq_completed coding_completed completed"`
	Page     int    `query:"page"`
	PageSize int    `query:"page_size"`
}

// TestCaseResultResponse serializes one judged test case. Inputs and
// outputs of hidden cases are withheld from candidates.
type TestCaseResultResponse struct {
	Input          string  `json:"input,omitempty"`
	ExpectedOutput string  `json:"expected_output,omitempty"`
	ActualOutput   string  `json:"actual_output,omitempty"`
	Passed         bool    `json:"passed"`
	Hidden         bool    `json:"hidden"`
	Status         string  `json:"status"`
	ExecutionTime  float64 `json:"execution_time"`
	Memory         int     `json:"memory"`
	Error          string  `json:"error,omitempty"`
}

// CodingAttemptResponse serializes one coding attempt.
type CodingAttemptResponse struct {
	ID              uint                     `json:"id"`
	ChallengeID     uint                     `json:"challenge_id"`
	Language        string                   `json:"language"`
	Code            string                   `json:"code,omitempty"`
	Status          string                   `json:"status"`
	Marks           int                      `json:"marks"`
	Score           int                      `json:"score"`
	PassedCount     int                      `json:"passed_count"`
	TotalCount      int                      `json:"total_count"`
	ExecutionTime   float64                  `json:"execution_time"`
	Memory          int                      `json:"memory"`
	TestCaseResults []TestCaseResultResponse `json:"test_case_results"`
	CreatedAt       time.Time                `json:"created_at"`
}

// MCQAnswerResponse serializes a graded MCQ answer.
type MCQAnswerResponse struct {
	QuestionID      uint  `json:"question_id"`
	SelectedOptions []int `json:"selected_options"`
	IsCorrect       bool  `json:"is_correct"`
	MarksObtained   int   `json:"marks_obtained"`
}

// SubmissionResponse serializes a submission aggregate.
type SubmissionResponse struct {
	ID             uint                    `json:"id"`
	UserID         uint                    `json:"user_id"`
	TestID         uint                    `json:"test_id"`
	Version        int                     `json:"version"`
	Status         string                  `json:"status"`
	MCQAnswers     []MCQAnswerResponse     `json:"mcq_answers"`
	MCQScore       int                     `json:"mcq_score"`
	MCQSubmittedAt *time.Time              `json:"mcq_submitted_at"`
	CodingScore    int                     `json:"coding_score"`
	TotalScore     int                     `json:"total_score"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    *time.Time              `json:"completed_at"`
	CodingAttempts []CodingAttemptResponse `json:"coding_attempts"`
	Candidate      *UserResponse           `json:"candidate,omitempty"`
}

// SubmissionListResponse wraps submissions and pagination metadata.
type SubmissionListResponse struct {
	Items      []SubmissionResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// SubmissionCompleteResponse is returned when a submission is finalised.
type SubmissionCompleteResponse struct {
	Submission  SubmissionResponse   `json:"submission"`
	Certificate *CertificateResponse `json:"certificate,omitempty"`
	Passed      bool                 `json:"passed"`
	Percentage  float64              `json:"percentage"`
}

// NewCodingAttemptResponse converts an attempt into a DTO.
func NewCodingAttemptResponse(attempt models.CodingAttempt, manager bool) CodingAttemptResponse {
	response := CodingAttemptResponse{
		ID:              attempt.ID,
		ChallengeID:     attempt.ChallengeID,
		Language:        attempt.Language,
		Code:            attempt.Code,
		Status:          attempt.Status,
		Marks:           attempt.Marks,
		Score:           attempt.Score,
		PassedCount:     attempt.PassedCount,
		TotalCount:      attempt.TotalCount,
		ExecutionTime:   attempt.ExecutionTime,
		Memory:          attempt.Memory,
		TestCaseResults: make([]TestCaseResultResponse, 0, len(attempt.TestCaseResults)),
		CreatedAt:       attempt.CreatedAt,
	}

	for _, result := range attempt.TestCaseResults {
		item := TestCaseResultResponse{
			Passed:        result.Passed,
			Hidden:        result.Hidden,
			Status:        result.Status,
			ExecutionTime: result.ExecutionTime,
			Memory:        result.Memory,
			Error:         result.Error,
		}
		if manager || !result.Hidden {
			item.Input = result.Input
			item.ExpectedOutput = result.ExpectedOutput
			item.ActualOutput = result.ActualOutput
		}
		response.TestCaseResults = append(response.TestCaseResults, item)
	}

	return response
}

// NewSubmissionResponse converts a submission into a DTO.
func NewSubmissionResponse(submission models.Submission, manager bool) SubmissionResponse {
	response := SubmissionResponse{
		ID:             submission.ID,
		UserID:         submission.UserID,
		TestID:         submission.TestID,
		Version:        submission.Version,
		Status:         submission.Status,
		MCQAnswers:     make([]MCQAnswerResponse, 0, len(submission.MCQAnswers)),
		MCQScore:       submission.MCQScore,
		MCQSubmittedAt: submission.MCQSubmittedAt,
		CodingScore:    submission.CodingScore,
		TotalScore:     submission.TotalScore,
		StartedAt:      submission.StartedAt,
		CompletedAt:    submission.CompletedAt,
		CodingAttempts: make([]CodingAttemptResponse, 0, len(submission.CodingAttempts)),
	}

	for _, answer := range submission.MCQAnswers {
		response.MCQAnswers = append(response.MCQAnswers, MCQAnswerResponse{
			QuestionID:      answer.QuestionID,
			SelectedOptions: append([]int{}, answer.SelectedOptions...),
			IsCorrect:       answer.IsCorrect,
			MarksObtained:   answer.MarksObtained,
		})
	}
	for _, attempt := range submission.CodingAttempts {
		response.CodingAttempts = append(response.CodingAttempts, NewCodingAttemptResponse(attempt, manager))
	}
	if manager && submission.User.ID != 0 {
		candidate := NewUserResponse(submission.User)
		response.Candidate = &candidate
	}

	return response
}

// NewSubmissionListResponse builds the vendor list view.
func NewSubmissionListResponse(submissions []models.Submission, pagination PaginationMeta) SubmissionListResponse {
	items := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, NewSubmissionResponse(submission, true))
	}
	return SubmissionListResponse{Items: items, Pagination: pagination}
}
