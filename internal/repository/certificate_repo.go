package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/codequest-api/internal/models"
)

// CertificateRepository persists certificates.
type CertificateRepository interface {
	Upsert(ctx context.Context, certificate *models.Certificate) (models.Certificate, error)
	GetByUUID(ctx context.Context, uuid string) (models.Certificate, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Certificate, error)
	Count(ctx context.Context) (int64, error)
}

type certificateRepository struct {
	db *gorm.DB
}

// NewCertificateRepository constructs a certificate repository.
func NewCertificateRepository(db *gorm.DB) CertificateRepository {
	return &certificateRepository{db: db}
}

// Upsert inserts or refreshes the certificate for (user, test). The original
// UUID and issue date are kept on conflict, so the verification link stays
// stable across re-issues.
func (r *certificateRepository) Upsert(ctx context.Context, certificate *models.Certificate) (models.Certificate, error) {
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "test_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"submission_id", "score", "total_marks", "percentage", "type", "updated_at"}),
		}).
		Create(certificate).Error
	if err != nil {
		return models.Certificate{}, err
	}

	var stored models.Certificate
	err = r.db.WithContext(ctx).
		Where("user_id = ? AND test_id = ?", certificate.UserID, certificate.TestID).
		First(&stored).Error
	return stored, err
}

func (r *certificateRepository) GetByUUID(ctx context.Context, uuid string) (models.Certificate, error) {
	var certificate models.Certificate
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Test").
		Where("uuid = ?", uuid).
		First(&certificate).Error
	return certificate, err
}

func (r *certificateRepository) ListByUser(ctx context.Context, userID uint) ([]models.Certificate, error) {
	var certificates []models.Certificate
	err := r.db.WithContext(ctx).
		Preload("Test").
		Where("user_id = ?", userID).
		Order("issued_at DESC").
		Find(&certificates).Error
	return certificates, err
}

func (r *certificateRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Certificate{}).Count(&count).Error
	return count, err
}
