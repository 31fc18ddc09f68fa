package entity

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jimyag/jva/pkg/apierror"
)

// 挂载记录状态
const (
	AttachStatusReserved       = "reserved"
	AttachStatusAttaching      = "attaching"
	AttachStatusAttached       = "attached"
	AttachStatusDetaching      = "detaching"
	AttachStatusErrorAttaching = "error_attaching"
	AttachStatusErrorDetaching = "error_detaching"
	// AttachStatusDetached 终态，只出现在软删除的审计记录上
	AttachStatusDetached = "detached"
)

// 挂载模式，空字符串表示 null（仅预留，尚未协商）
const (
	AttachModeRW   = "rw"
	AttachModeRO   = "ro"
	AttachModeNull = ""
)

// Connector 使用方提供的连接描述（initiator、host、multipath 等）
// 各后端驱动的字段不同，按不透明的键值对处理
type Connector map[string]any

// ConnectionInfo 后端驱动返回的连接信息，同样是不透明的键值对
type ConnectionInfo map[string]any

// Host 返回 connector 中的 host 字段
func (c Connector) Host() string {
	return c.stringField("host")
}

// Mode 返回 connector 请求的挂载模式，未指定时返回空字符串
func (c Connector) Mode() string {
	return c.stringField("mode")
}

// SameConsumer 判断两个 connector 是否标识同一个使用方路径
// 优先比较 host，其次比较 initiator / nqn
func (c Connector) SameConsumer(other Connector) bool {
	if len(c) == 0 || len(other) == 0 {
		return false
	}
	for _, key := range []string{"host", "initiator", "nqn"} {
		a, b := c.stringField(key), other.stringField(key)
		if a != "" || b != "" {
			return a == b
		}
	}
	return false
}

func (c Connector) stringField(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// 用于判断共享 target 的连接信息字段，按优先级排列
var targetIdentityKeys = []string{"target_iqn", "target_nqn", "export_name", "device_path"}

// TargetIdentity 返回连接信息中标识后端 target 的值
// 多个挂载的 TargetIdentity 相同说明它们共享同一个后端导出
func (ci ConnectionInfo) TargetIdentity() string {
	if len(ci) == 0 {
		return ""
	}
	driverType, _ := ci["driver_volume_type"].(string)
	for _, key := range targetIdentityKeys {
		if v, ok := ci[key].(string); ok && v != "" {
			return driverType + ":" + v
		}
	}
	return ""
}

// Consumer 挂载的使用方，instance 与 host 二选一
type Consumer struct {
	InstanceUUID string `json:"instance_uuid,omitempty" xml:"instance_uuid,omitempty"`
	Host         string `json:"attached_host,omitempty" xml:"attached_host,omitempty"`
}

// Key 返回使用方的唯一标识
func (c Consumer) Key() string {
	if c.InstanceUUID != "" {
		return "instance:" + c.InstanceUUID
	}
	if c.Host != "" {
		return "host:" + c.Host
	}
	return ""
}

// IsZero 是否未指定使用方
func (c Consumer) IsZero() bool {
	return c.InstanceUUID == "" && c.Host == ""
}

// Validate 校验 instance 与 host 恰好指定一个
func (c Consumer) Validate() error {
	if c.InstanceUUID != "" && c.Host != "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "instance_uuid and attached_host are mutually exclusive")
	}
	if c.IsZero() {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "one of instance_uuid or attached_host is required")
	}
	if c.InstanceUUID != "" {
		if _, err := uuid.Parse(c.InstanceUUID); err != nil {
			return apierror.WrapError(apierror.ErrInvalidParameterValue, "instance_uuid must be a UUID", err)
		}
	}
	return nil
}

// VolumeAttachment 挂载记录
type VolumeAttachment struct {
	ID             string         `json:"id"`
	VolumeID       string         `json:"volume_id"`
	ProjectID      string         `json:"project_id,omitempty"`
	InstanceUUID   string         `json:"instance_uuid,omitempty"`
	AttachedHost   string         `json:"attached_host,omitempty"`
	Mountpoint     string         `json:"mountpoint,omitempty"`
	AttachStatus   string         `json:"attach_status"`
	AttachMode     string         `json:"attach_mode,omitempty"`
	Connector      Connector      `json:"connector,omitempty"`
	ConnectionInfo ConnectionInfo `json:"connection_info,omitempty"`
	AttachTime     string         `json:"attach_time,omitempty"`
	DetachTime     string         `json:"detach_time,omitempty"`
	Legacy         bool           `json:"-"`
}

// Consumer 返回挂载的使用方
func (a *VolumeAttachment) Consumer() Consumer {
	return Consumer{InstanceUUID: a.InstanceUUID, Host: a.AttachedHost}
}

// IsLive 是否为非终态挂载（仍然持有卷）
func (a *VolumeAttachment) IsLive() bool {
	return IsLiveStatus(a.AttachStatus)
}

// IsLiveStatus 挂载状态是否仍然持有卷
func IsLiveStatus(status string) bool {
	switch status {
	case AttachStatusReserved, AttachStatusAttaching, AttachStatusAttached, AttachStatusDetaching:
		return true
	}
	return false
}

// IsError 是否处于错误状态
func (a *VolumeAttachment) IsError() bool {
	return strings.HasPrefix(a.AttachStatus, "error_")
}

// CreateAttachmentRequest 创建挂载请求
type CreateAttachmentRequest struct {
	Attachment struct {
		VolumeUUID   string    `json:"volume_uuid"`
		InstanceUUID string    `json:"instance_uuid,omitempty"`
		AttachedHost string    `json:"attached_host,omitempty"`
		Connector    Connector `json:"connector,omitempty"`
		Mode         string    `json:"mode,omitempty"`
	} `json:"attachment"`
}

// IsValid 校验请求参数
func (r *CreateAttachmentRequest) IsValid() error {
	if r.Attachment.VolumeUUID == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "volume_uuid is required")
	}
	if err := validateMode(r.Attachment.Mode); err != nil {
		return err
	}
	return r.Consumer().Validate()
}

// Consumer 返回请求中的使用方
func (r *CreateAttachmentRequest) Consumer() Consumer {
	return Consumer{InstanceUUID: r.Attachment.InstanceUUID, Host: r.Attachment.AttachedHost}
}

// AttachmentResponse 单个挂载记录响应
type AttachmentResponse struct {
	Attachment *VolumeAttachment `json:"attachment"`
	status     int
}

// NewAcceptedAttachmentResponse 返回 202 的挂载响应
func NewAcceptedAttachmentResponse(a *VolumeAttachment) *AttachmentResponse {
	return &AttachmentResponse{Attachment: a, status: http.StatusAccepted}
}

// StatusCode 实现 ginx.StatusCoder
func (r *AttachmentResponse) StatusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// UpdateAttachmentRequest 更新挂载（协商连接）请求
type UpdateAttachmentRequest struct {
	ID         string `uri:"id" json:"-"`
	Attachment struct {
		Connector Connector `json:"connector"`
	} `json:"attachment"`
}

// IsValid 校验请求参数
func (r *UpdateAttachmentRequest) IsValid() error {
	if r.ID == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "attachment id is required")
	}
	if len(r.Attachment.Connector) == 0 {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "connector is required and must not be empty")
	}
	return nil
}

// AttachmentActionRequest 挂载记录上的动作，目前只支持 os-complete
type AttachmentActionRequest struct {
	ID       string    `uri:"id" json:"-"`
	Complete *struct{} `json:"os-complete"`
}

// IsValid 校验请求参数
func (r *AttachmentActionRequest) IsValid() error {
	if r.ID == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "attachment id is required")
	}
	if r.Complete == nil {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "unsupported attachment action")
	}
	return nil
}

// AttachmentIDRequest 只携带挂载 ID 的请求
type AttachmentIDRequest struct {
	ID string `uri:"id" json:"-"`
}

// IsValid 校验请求参数
func (r *AttachmentIDRequest) IsValid() error {
	if r.ID == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "attachment id is required")
	}
	return nil
}

// AcceptedResponse 已受理的空响应
type AcceptedResponse struct{}

// StatusCode 实现 ginx.StatusCoder
func (AcceptedResponse) StatusCode() int { return http.StatusAccepted }

// DeleteAttachmentResponse 删除挂载响应，返回共享同一后端 target 的兄弟挂载 ID
type DeleteAttachmentResponse struct {
	Attachments []string `json:"attachments"`
}

// StatusCode 实现 ginx.StatusCoder
func (*DeleteAttachmentResponse) StatusCode() int { return http.StatusAccepted }

// ListAttachmentsRequest 列出挂载记录请求
type ListAttachmentsRequest struct {
	VolumeID     string `form:"volume_id"`
	Status       string `form:"status"`
	InstanceID   string `form:"instance_id"`
	AttachStatus string `form:"attach_status"`
}

// ListAttachmentsResponse 列出挂载记录响应
type ListAttachmentsResponse struct {
	Attachments []VolumeAttachment `json:"attachments"`
}

func validateMode(mode string) error {
	switch mode {
	case AttachModeNull, AttachModeRW, AttachModeRO:
		return nil
	}
	return apierror.Newf(apierror.ErrInvalidParameterValue, "invalid attach mode %q", mode)
}
