package repository

import (
	"context"

	"fanvault/internal/models"

	"gorm.io/gorm"
)

// AssetRepository reads published assets. Assets are only written inside
// SubmissionRepository.ApproveWithAsset.
type AssetRepository interface {
	GetBySubmissionID(ctx context.Context, submissionID uint) (*models.Asset, error)
	List(ctx context.Context, category models.Category, limit, offset int) ([]models.Asset, error)
}

type assetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) GetBySubmissionID(ctx context.Context, submissionID uint) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).Where("source_submission_id = ?", submissionID).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) List(ctx context.Context, category models.Category, limit, offset int) ([]models.Asset, error) {
	q := r.db.WithContext(ctx).Model(&models.Asset{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var assets []models.Asset
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&assets).Error
	return assets, err
}
