package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/models"
)

// InvitationRepository persists test invitations.
type InvitationRepository interface {
	CreateBatch(ctx context.Context, invitations []models.TestInvitation) error
	GetByToken(ctx context.Context, token string) (models.TestInvitation, error)
	GetByID(ctx context.Context, id uint) (models.TestInvitation, error)
	ListByTest(ctx context.Context, testID uint) ([]models.TestInvitation, error)
	FindUsable(ctx context.Context, testID uint, email string, now time.Time) (models.TestInvitation, error)
	UpdateStatus(ctx context.Context, id uint, status string, acceptedAt *time.Time) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type invitationRepository struct {
	db *gorm.DB
}

// NewInvitationRepository constructs an invitation repository.
func NewInvitationRepository(db *gorm.DB) InvitationRepository {
	return &invitationRepository{db: db}
}

func (r *invitationRepository) CreateBatch(ctx context.Context, invitations []models.TestInvitation) error {
	if len(invitations) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Omit("Test").Create(&invitations).Error
}

func (r *invitationRepository) GetByToken(ctx context.Context, token string) (models.TestInvitation, error) {
	var invitation models.TestInvitation
	err := r.db.WithContext(ctx).Preload("Test").Where("token = ?", token).First(&invitation).Error
	return invitation, err
}

func (r *invitationRepository) GetByID(ctx context.Context, id uint) (models.TestInvitation, error) {
	var invitation models.TestInvitation
	err := r.db.WithContext(ctx).First(&invitation, id).Error
	return invitation, err
}

func (r *invitationRepository) ListByTest(ctx context.Context, testID uint) ([]models.TestInvitation, error) {
	var invitations []models.TestInvitation
	err := r.db.WithContext(ctx).
		Where("test_id = ?", testID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&invitations).Error
	return invitations, err
}

// FindUsable returns the most recent unexpired invitation for the email that
// still has attempts left.
func (r *invitationRepository) FindUsable(ctx context.Context, testID uint, email string, now time.Time) (models.TestInvitation, error) {
	var invitation models.TestInvitation
	err := r.db.WithContext(ctx).
		Where("test_id = ? AND email = ?", testID, strings.ToLower(strings.TrimSpace(email))).
		Where("status IN ?", []string{models.InvitationStatusPending, models.InvitationStatusAccepted}).
		Where("expires_at > ?", now).
		Where("attempts_used < max_attempts").
		Order("id DESC").
		First(&invitation).Error
	return invitation, err
}

func (r *invitationRepository) UpdateStatus(ctx context.Context, id uint, status string, acceptedAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if acceptedAt != nil {
		updates["accepted_at"] = *acceptedAt
	}
	return r.db.WithContext(ctx).
		Model(&models.TestInvitation{}).
		Where("id = ? AND status <> ?", id, models.InvitationStatusExpired).
		Updates(updates).Error
}

// consumeAttempt spends one invitation attempt. The guard lives in the
// UPDATE so concurrent starts cannot push attempts_used past max_attempts.
func consumeAttempt(tx *gorm.DB, id uint) error {
	result := tx.Model(&models.TestInvitation{}).
		Where("id = ? AND attempts_used < max_attempts", id).
		Where("status IN ?", []string{models.InvitationStatusPending, models.InvitationStatusAccepted}).
		UpdateColumn("attempts_used", gorm.Expr("attempts_used + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAttemptLimitReached
	}
	return nil
}

func (r *invitationRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.TestInvitation{}).
		Where("status = ? AND expires_at <= ?", models.InvitationStatusPending, now).
		Update("status", models.InvitationStatusExpired)
	return result.RowsAffected, result.Error
}
