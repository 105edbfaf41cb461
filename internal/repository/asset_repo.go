package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/models"
)

// AssetRepository persists metadata about uploaded files.
type AssetRepository interface {
	Create(ctx context.Context, asset *models.Asset) error
	FindByChecksum(ctx context.Context, ownerID uint, checksum string) (models.Asset, error)
	ListByOwner(ctx context.Context, ownerID uint) ([]models.Asset, error)
}

type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository constructs a repository for uploaded assets.
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(ctx context.Context, asset *models.Asset) error {
	return r.db.WithContext(ctx).Create(asset).Error
}

func (r *assetRepository) FindByChecksum(ctx context.Context, ownerID uint, checksum string) (models.Asset, error) {
	var asset models.Asset
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND checksum = ?", ownerID, checksum).
		First(&asset).Error
	return asset, err
}

func (r *assetRepository) ListByOwner(ctx context.Context, ownerID uint) ([]models.Asset, error) {
	var assets []models.Asset
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&assets).Error
	return assets, err
}
