package dto

import (
	"time"

	"github.com/noah-isme/codequest-api/internal/models"
)

// MCQInput describes a multiple-choice question in create and import payloads.
type MCQInput struct {
	Question       string   `json:"question" validate:"required,min=3"`
	Options        []string `json:"options" validate:"required,min=2,max=10,dive,required"`
	CorrectOptions []int    `json:"correct_options" validate:"required,min=1,dive,gte=0"`
	Marks          int      `json:"marks" validate:"gte=0,lte=100"`
	Difficulty     string   `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Explanation    string   `json:"explanation" validate:"omitempty,max=4000"`
	ImageURL       string   `json:"image_url" validate:"omitempty,url"`
}

// TestCaseInput is one input/expected-output pair.
type TestCaseInput struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output" validate:"required"`
	Hidden         bool   `json:"hidden"`
}

// CodingChallengeInput describes a coding challenge.
type CodingChallengeInput struct {
	Title            string            `json:"title" validate:"required,min=3,max=255"`
	Description      string            `json:"description" validate:"required"`
	Constraints      string            `json:"constraints"`
	AllowedLanguages []string          `json:"allowed_languages" validate:"omitempty,dive,required"`
	StarterCode      map[string]string `json:"starter_code"`
	TestCases        []TestCaseInput   `json:"test_cases" validate:"required,min=1,dive"`
	Marks            int               `json:"marks" validate:"gte=0,lte=1000"`
	TimeLimitMs      int               `json:"time_limit_ms" validate:"omitempty,gte=100,lte=20000"`
	MemoryLimitKB    int               `json:"memory_limit_kb" validate:"omitempty,gte=16384,lte=1048576"`
}

// AccessControlInput updates who may attempt a test.
type AccessControlInput struct {
	Type           string   `json:"type" validate:"required,oneof=public private practice"`
	AllowedUserIDs []uint   `json:"allowed_user_ids"`
	AllowedEmails  []string `json:"allowed_emails" validate:"omitempty,dive,email"`
}

// TestCreateRequest creates a draft test, optionally with questions.
type TestCreateRequest struct {
	Title            string                 `json:"title" validate:"required,min=3,max=255"`
	Description      string                 `json:"description" validate:"omitempty,max=20000"`
	Category         string                 `json:"category" validate:"omitempty,max=64"`
	Difficulty       string                 `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Type             string                 `json:"type" validate:"omitempty,oneof=assessment practice"`
	DurationMinutes  int                    `json:"duration_minutes" validate:"required,gte=1,lte=600"`
	PassingMarks     *int                   `json:"passing_marks" validate:"omitempty,gte=0"`
	AccessControl    *AccessControlInput    `json:"access_control"`
	MCQs             []MCQInput             `json:"mcqs" validate:"omitempty,dive"`
	CodingChallenges []CodingChallengeInput `json:"coding_challenges" validate:"omitempty,dive"`
}

// TestUpdateRequest patches test metadata.
type TestUpdateRequest struct {
	Title           *string `json:"title" validate:"omitempty,min=3,max=255"`
	Description     *string `json:"description" validate:"omitempty,max=20000"`
	Category        *string `json:"category" validate:"omitempty,max=64"`
	Difficulty      *string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,gte=1,lte=600"`
	PassingMarks    *int    `json:"passing_marks" validate:"omitempty,gte=0"`
}

// ShareTestRequest adds emails to a private test's allow-list.
type ShareTestRequest struct {
	Emails []string `json:"emails" validate:"required,min=1,max=200,dive,email"`
}

// TestFilter defines query parameters for listing tests.
type TestFilter struct {
	Status     string `query:"status" validate:"omitempty,oneof=draft published archived"`
	Category   string `query:"category"`
	Difficulty string `query:"difficulty"`
	Type       string `query:"type" validate:"omitempty,oneof=assessment practice"`
	Search     string `query:"search"`
	VendorID   uint   `query:"-"`
	Page       int    `query:"page"`
	PageSize   int    `query:"page_size"`
}

// AccessControlResponse is only shown to admins and the owning vendor.
type AccessControlResponse struct {
	Type           string   `json:"type"`
	AllowedUserIDs []uint   `json:"allowed_user_ids"`
	AllowedEmails  []string `json:"allowed_emails"`
}

// MCQResponse serializes an MCQ. Answers are omitted for candidates.
type MCQResponse struct {
	ID             uint     `json:"id"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	CorrectOptions []int    `json:"correct_options,omitempty"`
	Marks          int      `json:"marks"`
	Difficulty     string   `json:"difficulty,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	MultipleAnswer bool     `json:"multiple_answer"`
}

// TestCaseResponse serializes a visible test case.
type TestCaseResponse struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Hidden         bool   `json:"hidden"`
}

// CodingChallengeResponse serializes a coding challenge. Hidden test cases
// are counted but not shown to candidates.
type CodingChallengeResponse struct {
	ID               uint                   `json:"id"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Constraints      string                 `json:"constraints,omitempty"`
	AllowedLanguages []string               `json:"allowed_languages"`
	StarterCode      map[string]interface{} `json:"starter_code"`
	TestCases        []TestCaseResponse     `json:"test_cases"`
	HiddenTestCases  int                    `json:"hidden_test_cases"`
	Marks            int                    `json:"marks"`
	TimeLimitMs      int                    `json:"time_limit_ms"`
	MemoryLimitKB    int                    `json:"memory_limit_kb"`
}

// TestSummary is the list representation of a test.
type TestSummary struct {
	ID              uint       `json:"id"`
	UUID            string     `json:"uuid"`
	VendorID        uint       `json:"vendor_id"`
	Title           string     `json:"title"`
	Category        string     `json:"category"`
	Difficulty      string     `json:"difficulty"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	AccessType      string     `json:"access_type"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      int        `json:"total_marks"`
	PassingMarks    int        `json:"passing_marks"`
	QuestionCount   int        `json:"question_count"`
	PublishedAt     *time.Time `json:"published_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TestResponse is the detail representation of a test.
type TestResponse struct {
	TestSummary
	Description      string                    `json:"description"`
	AccessControl    *AccessControlResponse    `json:"access_control,omitempty"`
	MCQs             []MCQResponse             `json:"mcqs"`
	CodingChallenges []CodingChallengeResponse `json:"coding_challenges"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// TestListResponse wraps test summaries and pagination metadata.
type TestListResponse struct {
	Items      []TestSummary  `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// MCQImportResponse reports the outcome of a bulk MCQ import.
type MCQImportResponse struct {
	Imported   int    `json:"imported"`
	Format     string `json:"format"`
	TotalMarks int    `json:"total_marks"`
}

// NewTestSummary builds the list DTO.
func NewTestSummary(test models.Test) TestSummary {
	return TestSummary{
		ID:              test.ID,
		UUID:            test.UUID,
		VendorID:        test.VendorID,
		Title:           test.Title,
		Category:        test.Category,
		Difficulty:      test.Difficulty,
		Type:            test.Type,
		Status:          test.Status,
		AccessType:      test.AccessControl.Type,
		DurationMinutes: test.DurationMinutes,
		TotalMarks:      test.TotalMarks,
		PassingMarks:    test.PassingMarks,
		QuestionCount:   test.QuestionCount(),
		PublishedAt:     test.PublishedAt,
		CreatedAt:       test.CreatedAt,
	}
}

// NewTestResponse builds the detail DTO. Correct answers, explanations,
// hidden test cases and the allow-list are only included for managers.
func NewTestResponse(test models.Test, manager bool) TestResponse {
	response := TestResponse{
		TestSummary:      NewTestSummary(test),
		Description:      test.Description,
		MCQs:             make([]MCQResponse, 0, len(test.MCQs)),
		CodingChallenges: make([]CodingChallengeResponse, 0, len(test.CodingChallenges)),
		UpdatedAt:        test.UpdatedAt,
	}

	if manager {
		response.AccessControl = &AccessControlResponse{
			Type:           test.AccessControl.Type,
			AllowedUserIDs: append([]uint{}, test.AccessControl.AllowedUserIDs...),
			AllowedEmails:  append([]string{}, test.AccessControl.AllowedEmails...),
		}
	}

	for _, mcq := range test.MCQs {
		item := MCQResponse{
			ID:             mcq.ID,
			Question:       mcq.Question,
			Options:        append([]string{}, mcq.Options...),
			Marks:          mcq.Marks,
			Difficulty:     mcq.Difficulty,
			ImageURL:       mcq.ImageURL,
			MultipleAnswer: len(mcq.CorrectOptions) > 1,
		}
		if manager {
			item.CorrectOptions = append([]int{}, mcq.CorrectOptions...)
			item.Explanation = mcq.Explanation
		}
		response.MCQs = append(response.MCQs, item)
	}

	for _, challenge := range test.CodingChallenges {
		cases := challenge.VisibleTestCases()
		if manager {
			cases = challenge.TestCases
		}

		item := CodingChallengeResponse{
			ID:               challenge.ID,
			Title:            challenge.Title,
			Description:      challenge.Description,
			Constraints:      challenge.Constraints,
			AllowedLanguages: append([]string{}, challenge.AllowedLanguages...),
			StarterCode:      map[string]interface{}(challenge.StarterCode),
			TestCases:        make([]TestCaseResponse, 0, len(cases)),
			HiddenTestCases:  len(challenge.TestCases) - len(challenge.VisibleTestCases()),
			Marks:            challenge.Marks,
			TimeLimitMs:      challenge.TimeLimitMs,
			MemoryLimitKB:    challenge.MemoryLimitKB,
		}
		if item.StarterCode == nil {
			item.StarterCode = map[string]interface{}{}
		}
		for _, tc := range cases {
			item.TestCases = append(item.TestCases, TestCaseResponse{
				Input:          tc.Input,
				ExpectedOutput: tc.ExpectedOutput,
				Hidden:         tc.Hidden,
			})
		}
		response.CodingChallenges = append(response.CodingChallenges, item)
	}

	return response
}

// NewTestListResponse builds a list response from models and pagination meta.
func NewTestListResponse(tests []models.Test, pagination PaginationMeta) TestListResponse {
	items := make([]TestSummary, 0, len(tests))
	for _, test := range tests {
		items = append(items, NewTestSummary(test))
	}
	return TestListResponse{Items: items, Pagination: pagination}
}
