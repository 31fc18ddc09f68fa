package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jimyag/jva/internal/jva/repository/model"
	"gorm.io/gorm"
)

// VolumeRepository 卷仓库接口
type VolumeRepository interface {
	Create(ctx context.Context, volume *model.Volume) error
	GetByID(ctx context.Context, id string) (*model.Volume, error)
	List(ctx context.Context, filters map[string]any) ([]*model.Volume, error)
	// ConditionalUpdate 仅当数据库中的版本号等于 expectedVersion 时写入 columns 指定的列
	// 成功后版本号加一并回填到 volume，未命中时返回 ErrConditionFailed
	ConditionalUpdate(ctx context.Context, volume *model.Volume, expectedVersion int64, columns ...string) error
	Delete(ctx context.Context, id string) error
}

type volumeRepository struct {
	db *gorm.DB
}

// NewVolumeRepository 创建卷仓库
func NewVolumeRepository(db *gorm.DB) VolumeRepository {
	return &volumeRepository{db: db}
}

// Create 创建卷
func (r *volumeRepository) Create(ctx context.Context, volume *model.Volume) error {
	return r.db.WithContext(ctx).Create(volume).Error
}

// GetByID 根据 ID 获取卷
func (r *volumeRepository) GetByID(ctx context.Context, id string) (*model.Volume, error) {
	var volume model.Volume
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&volume).Error; err != nil {
		return nil, err
	}
	return &volume, nil
}

// List 列出卷
func (r *volumeRepository) List(ctx context.Context, filters map[string]any) ([]*model.Volume, error) {
	var volumes []*model.Volume
	query := r.db.WithContext(ctx).Model(&model.Volume{})

	if status, ok := filters["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if projectID, ok := filters["project_id"]; ok {
		query = query.Where("project_id = ?", projectID)
	}
	if backend, ok := filters["backend"]; ok {
		query = query.Where("backend = ?", backend)
	}

	if err := query.Order("created_at, id").Find(&volumes).Error; err != nil {
		return nil, err
	}
	return volumes, nil
}

// ConditionalUpdate 基于版本号的比较并交换更新
func (r *volumeRepository) ConditionalUpdate(
	ctx context.Context,
	volume *model.Volume,
	expectedVersion int64,
	columns ...string,
) error {
	updated := *volume
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now()

	selected := append([]string{"version", "updated_at"}, columns...)
	result := r.db.WithContext(ctx).
		Model(&model.Volume{ID: volume.ID}).
		Where("version = ?", expectedVersion).
		Select(selected).
		Updates(&updated)
	if result.Error != nil {
		return fmt.Errorf("conditional update volume %s: %w", volume.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConditionFailed
	}

	volume.Version = updated.Version
	volume.UpdatedAt = updated.UpdatedAt
	return nil
}

// Delete 软删除卷
func (r *volumeRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Volume{}, "id = ?", id).Error
}
