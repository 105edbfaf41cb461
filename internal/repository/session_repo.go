package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/models"
)

// SessionRepository persists test sessions.
type SessionRepository interface {
	Open(ctx context.Context, session *models.TestSession, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.TestSession, error)
	FindActive(ctx context.Context, userID, testID uint) (models.TestSession, error)
	GetBySubmission(ctx context.Context, submissionID uint) (models.TestSession, error)
	Save(ctx context.Context, session *models.TestSession) error
	ExpireOverdue(ctx context.Context, now time.Time) ([]models.TestSession, error)
	CountActive(ctx context.Context) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository constructs a session repository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Open spends the invitation attempt the session runs under, if any, then
// inserts the next submission version and the session. All three writes
// share one transaction, so a failed insert leaves the attempt unspent.
func (r *sessionRepository) Open(ctx context.Context, session *models.TestSession, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if session.InvitationID != nil {
			if err := consumeAttempt(tx, *session.InvitationID); err != nil {
				return err
			}
		}
		if err := createNextVersion(tx, submission); err != nil {
			return err
		}
		session.SubmissionID = submission.ID
		return tx.Create(session).Error
	})
}

func (r *sessionRepository) GetByID(ctx context.Context, id uint) (models.TestSession, error) {
	var session models.TestSession
	err := r.db.WithContext(ctx).First(&session, id).Error
	return session, err
}

func (r *sessionRepository) FindActive(ctx context.Context, userID, testID uint) (models.TestSession, error) {
	var session models.TestSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND test_id = ? AND status = ?", userID, testID, models.SessionStatusActive).
		Order("id DESC").
		First(&session).Error
	return session, err
}

func (r *sessionRepository) GetBySubmission(ctx context.Context, submissionID uint) (models.TestSession, error) {
	var session models.TestSession
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("id DESC").
		First(&session).Error
	return session, err
}

func (r *sessionRepository) Save(ctx context.Context, session *models.TestSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// ExpireOverdue marks every active session past its deadline as expired and
// returns the sessions it closed. Deadlines are evaluated in Go so the query
// stays portable across dialects.
func (r *sessionRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]models.TestSession, error) {
	var active []models.TestSession
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "test_id", "submission_id", "invitation_id", "status", "start_time", "duration_minutes").
		Where("status = ? AND start_time < ?", models.SessionStatusActive, now).
		Find(&active).Error
	if err != nil {
		return nil, err
	}

	overdue := make([]models.TestSession, 0)
	ids := make([]uint, 0)
	for _, session := range active {
		if session.IsOverdue(now) {
			ids = append(ids, session.ID)
			overdue = append(overdue, session)
		}
	}
	if len(ids) == 0 {
		return overdue, nil
	}

	err = r.db.WithContext(ctx).
		Model(&models.TestSession{}).
		Where("id IN ? AND status = ?", ids, models.SessionStatusActive).
		Updates(map[string]interface{}{
			"status":   models.SessionStatusExpired,
			"end_time": now,
		}).Error
	if err != nil {
		return nil, err
	}

	for i := range overdue {
		overdue[i].Status = models.SessionStatusExpired
		end := now
		overdue[i].EndTime = &end
	}
	return overdue, nil
}

func (r *sessionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TestSession{}).
		Where("status = ?", models.SessionStatusActive).
		Count(&count).Error
	return count, err
}
