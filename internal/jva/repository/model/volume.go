package model

import (
	"time"

	"gorm.io/gorm"
)

// Volume 卷表
type Volume struct {
	ID               string            `gorm:"primaryKey;type:text;column:id" json:"id"` // vol-{sonyflake}
	ProjectID        string            `gorm:"type:text;index:idx_volumes_project_id;column:project_id" json:"projectID"`
	DisplayName      string            `gorm:"type:text;column:display_name" json:"displayName"`
	SizeGB           uint64            `gorm:"type:integer;not null;default:0;column:size_gb" json:"sizeGB"`
	Backend          string            `gorm:"type:text;not null;column:backend" json:"backend"`                     // 后端驱动名称
	ProviderLocation string            `gorm:"type:text;column:provider_location" json:"providerLocation"`          // 后端定位信息，如 pool/volume
	Status           string            `gorm:"type:text;not null;index:idx_volumes_status;column:status" json:"status"` // available, attaching, in-use, detaching, error ...
	AttachStatus     string            `gorm:"type:text;not null;default:detached;column:attach_status" json:"attachStatus"`
	Multiattach      bool              `gorm:"type:boolean;default:0;column:multiattach" json:"multiattach"`
	Bootable         bool              `gorm:"type:boolean;default:0;column:bootable" json:"bootable"`
	AdminMetadata    map[string]string `gorm:"type:text;serializer:json;column:admin_metadata" json:"adminMetadata"`
	Version          int64             `gorm:"type:integer;not null;default:0;column:version" json:"version"` // 乐观并发版本号
	CreatedAt        time.Time         `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt        gorm.DeletedAt    `gorm:"type:datetime;index:idx_volumes_deleted_at;column:deleted_at" json:"deleted_at,omitempty"` // 软删除
}

// TableName 指定表名
func (Volume) TableName() string {
	return "volumes"
}
