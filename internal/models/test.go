package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Test lifecycle states.
const (
	TestStatusDraft     = "draft"
	TestStatusPublished = "published"
	TestStatusArchived  = "archived"
)

// Test kinds.
const (
	TestTypeAssessment = "assessment"
	TestTypePractice   = "practice"
)

// Access control policies.
const (
	AccessPublic   = "public"
	AccessPrivate  = "private"
	AccessPractice = "practice"
)

// DefaultPassingRatio is applied when a test does not declare passing marks.
const DefaultPassingRatio = 0.4

// AccessControl describes who may see and attempt a test.
type AccessControl struct {
	Type           string                     `gorm:"size:16;not null;default:public" json:"type"`
	AllowedUserIDs datatypes.JSONSlice[uint]   `json:"allowed_user_ids"`
	AllowedEmails  datatypes.JSONSlice[string] `json:"allowed_emails"`
}

// AllowsUser reports whether the user is on the allow-list by id or email.
func (a AccessControl) AllowsUser(userID uint, email string) bool {
	if userID != 0 {
		for _, id := range a.AllowedUserIDs {
			if id == userID {
				return true
			}
		}
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, allowed := range a.AllowedEmails {
		if strings.ToLower(strings.TrimSpace(allowed)) == email {
			return true
		}
	}
	return false
}

// AddUser appends the id and email to the allow-list when absent.
func (a *AccessControl) AddUser(userID uint, email string) {
	if userID != 0 && !a.AllowsUser(userID, "") {
		a.AllowedUserIDs = append(a.AllowedUserIDs, userID)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" && !a.AllowsUser(0, email) {
		a.AllowedEmails = append(a.AllowedEmails, email)
	}
}

// Test is an assessment composed of MCQs and coding challenges.
type Test struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	UUID             string            `gorm:"size:36;uniqueIndex;not null" json:"uuid"`
	VendorID         uint              `gorm:"not null;index" json:"vendor_id"`
	Title            string            `gorm:"size:255;not null" json:"title"`
	Description      string            `gorm:"type:text" json:"description"`
	Category         string            `gorm:"size:64;index" json:"category"`
	Difficulty       string            `gorm:"size:32" json:"difficulty"`
	Type             string            `gorm:"size:32;not null;default:assessment" json:"type"`
	DurationMinutes  int               `gorm:"not null;default:60" json:"duration_minutes"`
	Status           string            `gorm:"size:32;not null;default:draft;index" json:"status"`
	AccessControl    AccessControl     `gorm:"embedded;embeddedPrefix:access_" json:"access_control"`
	TotalMarks       int               `gorm:"not null;default:0" json:"total_marks"`
	PassingMarks     int               `gorm:"not null;default:0" json:"passing_marks"`
	PassingMarksSet  bool              `gorm:"not null;default:false" json:"-"`
	PublishedAt      *time.Time        `json:"published_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	MCQs             []MCQ             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"mcqs"`
	CodingChallenges []CodingChallenge `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"coding_challenges"`
}

// IsOwnedBy reports whether the vendor created the test.
func (t Test) IsOwnedBy(userID uint) bool {
	return userID != 0 && t.VendorID == userID
}

// QuestionCount returns the number of MCQs and coding challenges.
func (t Test) QuestionCount() int {
	return len(t.MCQs) + len(t.CodingChallenges)
}

// RecalculateTotals recomputes total marks from the question set. Passing
// marks follow DefaultPassingMarks unless the author set them explicitly and
// they still fit within [0, total]; an explicit zero is kept.
func (t *Test) RecalculateTotals() {
	total := 0
	for _, mcq := range t.MCQs {
		total += mcq.Marks
	}
	for _, challenge := range t.CodingChallenges {
		total += challenge.Marks
	}
	t.TotalMarks = total

	if !t.PassingMarksSet || t.PassingMarks < 0 || t.PassingMarks > t.TotalMarks {
		t.PassingMarks = DefaultPassingMarks(t.TotalMarks)
	}
}

// DefaultPassingMarks returns the passing threshold used when none is configured.
func DefaultPassingMarks(total int) int {
	if total <= 0 {
		return 0
	}
	passing := int(float64(total)*DefaultPassingRatio + 0.5)
	if passing > total {
		passing = total
	}
	return passing
}

// MCQ is a multiple-choice question inside a test.
type MCQ struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	TestID         uint                        `gorm:"not null;index" json:"test_id"`
	Question       string                      `gorm:"type:text;not null" json:"question"`
	Options        datatypes.JSONSlice[string] `json:"options"`
	CorrectOptions datatypes.JSONSlice[int]    `json:"correct_options"`
	Marks          int                         `gorm:"not null;default:1" json:"marks"`
	Difficulty     string                      `gorm:"size:32" json:"difficulty"`
	Explanation    string                      `gorm:"type:text" json:"explanation"`
	ImageURL       string                      `gorm:"size:512" json:"image_url"`
	Position       int                         `gorm:"not null;default:0" json:"position"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// TestCase is a single input/expected-output pair for a coding challenge.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Hidden         bool   `json:"hidden"`
}

// CodingChallenge is a programming problem inside a test.
type CodingChallenge struct {
	ID               uint                          `gorm:"primaryKey" json:"id"`
	TestID           uint                          `gorm:"not null;index" json:"test_id"`
	Title            string                        `gorm:"size:255;not null" json:"title"`
	Description      string                        `gorm:"type:text" json:"description"`
	Constraints      string                        `gorm:"type:text" json:"constraints"`
	AllowedLanguages datatypes.JSONSlice[string]   `json:"allowed_languages"`
	StarterCode      datatypes.JSONMap             `json:"starter_code"`
	TestCases        datatypes.JSONSlice[TestCase] `json:"test_cases"`
	Marks            int                           `gorm:"not null;default:100" json:"marks"`
	TimeLimitMs      int                           `gorm:"not null;default:2000" json:"time_limit_ms"`
	MemoryLimitKB    int                           `gorm:"not null;default:262144" json:"memory_limit_kb"`
	Position         int                           `gorm:"not null;default:0" json:"position"`
	CreatedAt        time.Time                     `json:"created_at"`
	UpdatedAt        time.Time                     `json:"updated_at"`
}

// AllowsLanguage reports whether the challenge accepts the language. An empty
// list accepts every language.
func (c CodingChallenge) AllowsLanguage(language string) bool {
	if len(c.AllowedLanguages) == 0 {
		return true
	}
	language = strings.ToLower(strings.TrimSpace(language))
	for _, allowed := range c.AllowedLanguages {
		if strings.ToLower(strings.TrimSpace(allowed)) == language {
			return true
		}
	}
	return false
}

// VisibleTestCases returns only the test cases candidates may see.
func (c CodingChallenge) VisibleTestCases() []TestCase {
	visible := make([]TestCase, 0, len(c.TestCases))
	for _, tc := range c.TestCases {
		if !tc.Hidden {
			visible = append(visible, tc)
		}
	}
	return visible
}
