package model

import (
	"time"

	"gorm.io/gorm"
)

// VolumeAttachment 卷挂载记录表
// 同一个卷上同一个使用方允许存在多条记录（重复预留）
type VolumeAttachment struct {
	ID             string         `gorm:"primaryKey;type:text;column:id" json:"id"` // att-{sonyflake}
	VolumeID       string         `gorm:"type:text;not null;index:idx_attachments_volume_id;column:volume_id" json:"volumeID"`
	ProjectID      string         `gorm:"type:text;index:idx_attachments_project_id;column:project_id" json:"projectID"`
	InstanceUUID   string         `gorm:"type:text;index:idx_attachments_instance_uuid;column:instance_uuid" json:"instanceUUID"`
	AttachedHost   string         `gorm:"type:text;column:attached_host" json:"attachedHost"`
	Mountpoint     string         `gorm:"type:text;column:mountpoint" json:"mountpoint"`
	AttachStatus   string         `gorm:"type:text;not null;index:idx_attachments_attach_status;column:attach_status" json:"attachStatus"`
	AttachMode     string         `gorm:"type:text;column:attach_mode" json:"attachMode"` // rw, ro，空表示未协商
	Connector      map[string]any `gorm:"type:text;serializer:json;column:connector" json:"connector"`
	ConnectionInfo map[string]any `gorm:"type:text;serializer:json;column:connection_info" json:"connectionInfo"`
	AttachTime     *time.Time     `gorm:"type:datetime;column:attach_time" json:"attachTime"`
	DetachTime     *time.Time     `gorm:"type:datetime;column:detach_time" json:"detachTime"`
	Legacy         bool           `gorm:"type:boolean;default:0;column:legacy" json:"legacy"` // 旧接口 Reserve 产生的隐式挂载
	CreatedAt      time.Time      `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"type:datetime;index:idx_attachments_deleted_at;column:deleted_at" json:"deleted_at,omitempty"` // 软删除
}

// TableName 指定表名
func (VolumeAttachment) TableName() string {
	return "volume_attachments"
}
