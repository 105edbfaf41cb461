package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/models"
)

// SubmissionScope restricts aggregate queries to a vendor or a single test.
// Zero values mean no restriction.
type SubmissionScope struct {
	VendorID uint
	TestID   uint
}

// SubmissionStats aggregates submissions within a scope.
type SubmissionStats struct {
	Submissions  int64
	Completed    int64
	Candidates   int64
	Passed       int64
	AverageScore float64
}

// QuestionAggregate is the per-MCQ answer tally.
type QuestionAggregate struct {
	QuestionID uint
	Answers    int64
	Correct    int64
}

// ChallengeAggregate is the per-challenge attempt tally.
type ChallengeAggregate struct {
	ChallengeID  uint
	Attempts     int64
	AverageMarks float64
	Accepted     int64
}

// AnalyticsRepository stores telemetry rows and answers dashboard queries.
type AnalyticsRepository interface {
	Record(ctx context.Context, rows []models.TestAnalytics) error
	SubmissionStats(ctx context.Context, scope SubmissionScope) (SubmissionStats, error)
	RecentSubmissions(ctx context.Context, scope SubmissionScope, limit int) ([]models.Submission, error)
	QuestionStats(ctx context.Context, testID uint) ([]QuestionAggregate, error)
	ChallengeStats(ctx context.Context, testID uint) ([]ChallengeAggregate, error)
	BehaviorCounts(ctx context.Context, testID uint) (map[string]int64, error)
	CompletedSubmissions(ctx context.Context, testID uint) ([]models.Submission, error)
}

type analyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository constructs the analytics repository.
func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) Record(ctx context.Context, rows []models.TestAnalytics) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, 100).Error
}

func (r *analyticsRepository) scoped(ctx context.Context, scope SubmissionScope) *gorm.DB {
	query := r.db.WithContext(ctx).
		Table("submissions").
		Joins("JOIN tests ON tests.id = submissions.test_id")
	if scope.VendorID != 0 {
		query = query.Where("tests.vendor_id = ?", scope.VendorID)
	}
	if scope.TestID != 0 {
		query = query.Where("submissions.test_id = ?", scope.TestID)
	}
	return query
}

// SubmissionStats computes counts and the average percentage of completed
// submissions. A submission passes when its total reaches the test's passing marks.
func (r *analyticsRepository) SubmissionStats(ctx context.Context, scope SubmissionScope) (SubmissionStats, error) {
	var stats SubmissionStats
	err := r.scoped(ctx, scope).
		Select(`COUNT(*) AS submissions,
			COALESCE(SUM(CASE WHEN submissions.status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COUNT(DISTINCT submissions.user_id) AS candidates,
			COALESCE(SUM(CASE WHEN submissions.status = ? AND submissions.total_score >= tests.passing_marks THEN 1 ELSE 0 END), 0) AS passed,
			COALESCE(AVG(CASE WHEN submissions.status = ? AND tests.total_marks > 0 THEN submissions.total_score * 100.0 / tests.total_marks END), 0) AS average_score`,
			models.SubmissionStatusCompleted, models.SubmissionStatusCompleted, models.SubmissionStatusCompleted).
		Scan(&stats).Error
	return stats, err
}

func (r *analyticsRepository) RecentSubmissions(ctx context.Context, scope SubmissionScope, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 10
	}

	var ids []uint
	err := r.scoped(ctx, scope).
		Order("submissions.updated_at DESC").
		Limit(limit).
		Pluck("submissions.id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	var submissions []models.Submission
	err = r.db.WithContext(ctx).
		Preload("User").
		Preload("Test", func(db *gorm.DB) *gorm.DB { return db.Select("id", "title", "total_marks", "passing_marks") }).
		Where("id IN ?", ids).
		Order("updated_at DESC").
		Find(&submissions).Error
	return submissions, err
}

func (r *analyticsRepository) QuestionStats(ctx context.Context, testID uint) ([]QuestionAggregate, error) {
	var rows []QuestionAggregate
	err := r.db.WithContext(ctx).
		Model(&models.TestAnalytics{}).
		Select(`question_id,
			COUNT(*) AS answers,
			COALESCE(SUM(CASE WHEN is_correct = ? THEN 1 ELSE 0 END), 0) AS correct`, true).
		Where("test_id = ? AND type = ? AND question_id IS NOT NULL", testID, models.AnalyticsTypeMCQ).
		Group("question_id").
		Scan(&rows).Error
	return rows, err
}

func (r *analyticsRepository) ChallengeStats(ctx context.Context, testID uint) ([]ChallengeAggregate, error) {
	var rows []ChallengeAggregate
	err := r.db.WithContext(ctx).
		Table("coding_attempts").
		Joins("JOIN submissions ON submissions.id = coding_attempts.submission_id").
		Select(`coding_attempts.challenge_id AS challenge_id,
			COUNT(*) AS attempts,
			COALESCE(AVG(coding_attempts.marks), 0) AS average_marks,
			COALESCE(SUM(CASE WHEN coding_attempts.status = ? THEN 1 ELSE 0 END), 0) AS accepted`, models.AttemptStatusAccepted).
		Where("submissions.test_id = ?", testID).
		Group("coding_attempts.challenge_id").
		Scan(&rows).Error
	return rows, err
}

func (r *analyticsRepository) BehaviorCounts(ctx context.Context, testID uint) (map[string]int64, error) {
	var rows []struct {
		Event string
		Total int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.TestAnalytics{}).
		Select("event, COUNT(*) AS total").
		Where("test_id = ? AND type = ?", testID, models.AnalyticsTypeBehavior).
		Group("event").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Event] = row.Total
	}
	return counts, nil
}

// CompletedSubmissions returns finished submissions with candidates and
// attempts, ordered for export.
func (r *analyticsRepository) CompletedSubmissions(ctx context.Context, testID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("CodingAttempts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("test_id = ? AND status = ?", testID, models.SubmissionStatusCompleted).
		Order("total_score DESC").
		Order("completed_at ASC").
		Find(&submissions).Error
	return submissions, err
}
