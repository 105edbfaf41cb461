package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/codequest-api/internal/models"
)

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	Status   string
	Page     int
	PageSize int
}

// SubmissionRepository persists submissions and their coding attempts.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	SaveProgress(ctx context.Context, submission *models.Submission, columns []string) error
	RecordAttempt(ctx context.Context, submission *models.Submission, attempt *models.CodingAttempt) error
	ListByUser(ctx context.Context, userID uint) ([]models.Submission, error)
	ListByTest(ctx context.Context, testID uint, filter SubmissionFilter) ([]models.Submission, int64, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository constructs a submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// createNextVersion assigns max(version)+1 for the (user, test) pair and
// inserts the submission. The unique index on (user_id, test_id, version)
// rejects a concurrent duplicate.
func createNextVersion(tx *gorm.DB, submission *models.Submission) error {
	var current struct{ Version int }
	err := tx.Model(&models.Submission{}).
		Select("COALESCE(MAX(version), 0) AS version").
		Where("user_id = ? AND test_id = ?", submission.UserID, submission.TestID).
		Scan(&current).Error
	if err != nil {
		return err
	}

	submission.Version = current.Version + 1
	return tx.Omit(clause.Associations).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Preload("CodingAttempts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&submission, id).Error
	return submission, err
}

// Column groups written by each kind of progress update.
var (
	MCQColumns        = []string{"mcq_answers", "mcq_score", "mcq_submitted_at"}
	CodingColumns     = []string{"coding_score"}
	CompletionColumns = []string{"coding_score", "completed_at"}
)

// SaveProgress writes the given columns and the status of the submission,
// then recomputes total_score from the stored section scores. The stored
// status never moves backwards and a completed row is left untouched, in
// which case ErrSubmissionClosed is returned.
func (r *submissionRepository) SaveProgress(ctx context.Context, submission *models.Submission, columns []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveProgress(tx, submission, columns)
	})
}

// RecordAttempt stores a coding attempt together with the coding score it
// produced. Nothing is written when the submission is already completed.
func (r *submissionRepository) RecordAttempt(ctx context.Context, submission *models.Submission, attempt *models.CodingAttempt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveProgress(tx, submission, CodingColumns); err != nil {
			return err
		}
		return tx.Create(attempt).Error
	})
}

func saveProgress(tx *gorm.DB, submission *models.Submission, columns []string) error {
	row := func() *gorm.DB { return tx.Model(&models.Submission{ID: submission.ID}) }

	// The guarded update also takes the row lock for the rest of the
	// transaction.
	result := row().
		Where("status <> ?", models.SubmissionStatusCompleted).
		Select(append(append([]string{}, columns...), "updated_at")).
		Updates(submission)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionClosed
	}

	err := row().
		Where("status IN ?", models.SubmissionStatusesBefore(submission.Status)).
		UpdateColumn("status", submission.Status).Error
	if err != nil {
		return err
	}
	if err := row().UpdateColumn("total_score", gorm.Expr("mcq_score + coding_score")).Error; err != nil {
		return err
	}

	var stored models.Submission
	if err := tx.Select("status", "total_score").First(&stored, submission.ID).Error; err != nil {
		return err
	}
	submission.Status = stored.Status
	submission.TotalScore = stored.TotalScore
	return nil
}

func (r *submissionRepository) ListByUser(ctx context.Context, userID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("CodingAttempts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("created_at DESC").
		Order("id DESC").
		Find(&submissions).Error
	return submissions, err
}

func (r *submissionRepository) ListByTest(ctx context.Context, testID uint, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{}).Where("test_id = ?", testID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []models.Submission
	err := paginate(query, filter.Page, filter.PageSize).
		Preload("User").
		Preload("CodingAttempts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("created_at DESC").
		Order("id DESC").
		Find(&submissions).Error
	return submissions, total, err
}
