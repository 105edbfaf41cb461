package dto

import "time"

// AnalyticsEventRequest records a behaviour or timing row.
type AnalyticsEventRequest struct {
	TestID           uint                   `json:"test_id" validate:"required,gt=0"`
	SubmissionID     *uint                  `json:"submission_id" validate:"omitempty,gt=0"`
	QuestionID       *uint                  `json:"question_id" validate:"omitempty,gt=0"`
	ChallengeID      *uint                  `json:"challenge_id" validate:"omitempty,gt=0"`
	Type             string                 `json:"type" validate:"required,oneof=mcq coding behavior"`
	Event            string                 `json:"event" validate:"required,max=64"`
	TimeSpentSeconds int                    `json:"time_spent_seconds" validate:"gte=0,lte=86400"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// VendorDashboardResponse summarises a vendor's tests.
type VendorDashboardResponse struct {
	TestsTotal           int64        `json:"tests_total"`
	TestsPublished       int64        `json:"tests_published"`
	Candidates           int64        `json:"candidates"`
	Submissions          int64        `json:"submissions"`
	CompletedSubmissions int64        `json:"completed_submissions"`
	AverageScore         float64      `json:"average_score"`
	PassRate             float64      `json:"pass_rate"`
	RecentSubmissions    []RecentItem `json:"recent_submissions"`
	GeneratedAt          time.Time    `json:"generated_at"`
	CacheHit             bool         `json:"cache_hit"`
}

// RecentItem is a compact row for dashboard activity lists.
type RecentItem struct {
	SubmissionID uint       `json:"submission_id"`
	TestID       uint       `json:"test_id"`
	TestTitle    string     `json:"test_title"`
	Candidate    string     `json:"candidate"`
	Status       string     `json:"status"`
	TotalScore   int        `json:"total_score"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// QuestionStat describes how candidates fared on one MCQ.
type QuestionStat struct {
	QuestionID  uint    `json:"question_id"`
	Question    string  `json:"question"`
	Answers     int64   `json:"answers"`
	Correct     int64   `json:"correct"`
	CorrectRate float64 `json:"correct_rate"`
}

// ChallengeStat describes how candidates fared on one coding challenge.
type ChallengeStat struct {
	ChallengeID  uint    `json:"challenge_id"`
	Title        string  `json:"title"`
	Attempts     int64   `json:"attempts"`
	AverageMarks float64 `json:"average_marks"`
	AcceptedRate float64 `json:"accepted_rate"`
}

// TestAnalyticsResponse is the per-test analytics view.
type TestAnalyticsResponse struct {
	TestID       uint             `json:"test_id"`
	Submissions  int64            `json:"submissions"`
	Completed    int64            `json:"completed"`
	AverageScore float64          `json:"average_score"`
	PassRate     float64          `json:"pass_rate"`
	Questions    []QuestionStat   `json:"questions"`
	Challenges   []ChallengeStat  `json:"challenges"`
	Behavior     map[string]int64 `json:"behavior"`
}

// AdminDashboardResponse summarises the whole platform.
type AdminDashboardResponse struct {
	UsersByRole   map[string]int64 `json:"users_by_role"`
	TestsByStatus map[string]int64 `json:"tests_by_status"`
	Submissions   int64            `json:"submissions"`
	Completed     int64            `json:"completed"`
	Certificates  int64            `json:"certificates"`
	ActiveSession int64            `json:"active_sessions"`
	GeneratedAt   time.Time        `json:"generated_at"`
	CacheHit      bool             `json:"cache_hit"`
}

// AdminUserFilter narrows the admin user list.
type AdminUserFilter struct {
	Role     string `query:"role" validate:"omitempty,oneof=admin vendor candidate"`
	Search   string `query:"search"`
	Page     int    `query:"page"`
	PageSize int    `query:"page_size"`
}

// AdminUserListResponse wraps users and pagination metadata.
type AdminUserListResponse struct {
	Items      []UserResponse `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// RoleUpdateRequest changes a user's role.
type RoleUpdateRequest struct {
	Role string `json:"role" validate:"required,oneof=admin vendor candidate"`
}
