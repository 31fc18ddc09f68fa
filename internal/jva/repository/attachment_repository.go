package repository

import (
	"context"
	"time"

	"github.com/jimyag/jva/internal/jva/repository/model"
	"gorm.io/gorm"
)

// AttachmentRepository 卷挂载记录仓库接口
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *model.VolumeAttachment) error
	GetByID(ctx context.Context, id string) (*model.VolumeAttachment, error)
	// ListByVolume 返回卷上所有未销毁的挂载，按创建顺序排列，不做项目过滤
	ListByVolume(ctx context.Context, volumeID string) ([]*model.VolumeAttachment, error)
	List(ctx context.Context, filters map[string]any) ([]*model.VolumeAttachment, error)
	Update(ctx context.Context, attachment *model.VolumeAttachment) error
	// Destroy 将挂载标记为 detached 并软删除，保留审计记录
	Destroy(ctx context.Context, attachment *model.VolumeAttachment, detachTime time.Time) error
	GetByIDWithDeleted(ctx context.Context, id string) (*model.VolumeAttachment, error)
}

type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository 创建卷挂载记录仓库
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

// Create 创建挂载记录
func (r *attachmentRepository) Create(ctx context.Context, attachment *model.VolumeAttachment) error {
	return r.db.WithContext(ctx).Create(attachment).Error
}

// GetByID 根据 ID 获取挂载记录
func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*model.VolumeAttachment, error) {
	var attachment model.VolumeAttachment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&attachment).Error; err != nil {
		return nil, err
	}
	return &attachment, nil
}

// ListByVolume 根据 Volume ID 获取所有挂载记录
func (r *attachmentRepository) ListByVolume(ctx context.Context, volumeID string) ([]*model.VolumeAttachment, error) {
	var attachments []*model.VolumeAttachment
	if err := r.db.WithContext(ctx).
		Where("volume_id = ?", volumeID).
		Order("created_at, id").
		Find(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}

// List 列出挂载记录
func (r *attachmentRepository) List(ctx context.Context, filters map[string]any) ([]*model.VolumeAttachment, error) {
	var attachments []*model.VolumeAttachment
	query := r.db.WithContext(ctx).Model(&model.VolumeAttachment{})

	if volumeID, ok := filters["volume_id"]; ok {
		query = query.Where("volume_id = ?", volumeID)
	}
	if status, ok := filters["attach_status"]; ok {
		query = query.Where("attach_status = ?", status)
	}
	if instanceUUID, ok := filters["instance_uuid"]; ok {
		query = query.Where("instance_uuid = ?", instanceUUID)
	}
	if projectID, ok := filters["project_id"]; ok {
		query = query.Where("project_id = ?", projectID)
	}

	if err := query.Order("created_at, id").Find(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}

// Update 更新挂载记录
func (r *attachmentRepository) Update(ctx context.Context, attachment *model.VolumeAttachment) error {
	return r.db.WithContext(ctx).Save(attachment).Error
}

// Destroy 软删除挂载记录
func (r *attachmentRepository) Destroy(ctx context.Context, attachment *model.VolumeAttachment, detachTime time.Time) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.VolumeAttachment{ID: attachment.ID}).
		Updates(map[string]any{
			"attach_status": "detached",
			"detach_time":   detachTime,
		}).Error; err != nil {
		return err
	}
	if err := db.Delete(&model.VolumeAttachment{}, "id = ?", attachment.ID).Error; err != nil {
		return err
	}
	attachment.AttachStatus = "detached"
	attachment.DetachTime = &detachTime
	return nil
}

// GetByIDWithDeleted 根据 ID 获取挂载记录（包含已销毁的记录）
func (r *attachmentRepository) GetByIDWithDeleted(ctx context.Context, id string) (*model.VolumeAttachment, error) {
	var attachment model.VolumeAttachment
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&attachment).Error; err != nil {
		return nil, err
	}
	return &attachment, nil
}
