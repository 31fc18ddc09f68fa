package entity

import (
	"net/http"
	"strings"

	"github.com/jimyag/jva/pkg/apierror"
)

// 卷状态
const (
	VolumeStatusCreating    = "creating"
	VolumeStatusAvailable   = "available"
	VolumeStatusAttaching   = "attaching"
	VolumeStatusInUse       = "in-use"
	VolumeStatusDetaching   = "detaching"
	VolumeStatusError       = "error"
	VolumeStatusDeleting    = "deleting"
	VolumeStatusMaintenance = "maintenance"
)

// 卷的汇总挂载状态
const (
	VolumeAttachStatusDetached = "detached"
	VolumeAttachStatusAttached = "attached"
)

// admin_metadata 中识别的键
const (
	AdminMetadataReadonly     = "readonly"
	AdminMetadataAttachedMode = "attached_mode"
)

// Volume 卷
type Volume struct {
	ID               string             `json:"id"`
	ProjectID        string             `json:"project_id,omitempty"`
	Name             string             `json:"name,omitempty"`
	SizeGB           uint64             `json:"size"`
	Backend          string             `json:"backend"`
	ProviderLocation string             `json:"provider_location,omitempty"`
	Status           string             `json:"status"`
	AttachStatus     string             `json:"attach_status"`
	Multiattach      bool               `json:"multiattach"`
	Bootable         bool               `json:"bootable"`
	AdminMetadata    map[string]string  `json:"admin_metadata,omitempty"`
	Version          int64              `json:"-"`
	CreatedAt        string             `json:"created_at,omitempty"`
	Attachments      []VolumeAttachment `json:"volume_attachment"`
}

// IsReadonly admin_metadata.readonly 是否为 true（大小写不敏感，兼容 "True"）
func (v *Volume) IsReadonly() bool {
	return strings.EqualFold(v.AdminMetadata[AdminMetadataReadonly], "true")
}

// CreateVolumeRequest 登记后端卷请求
type CreateVolumeRequest struct {
	Volume struct {
		Name             string `json:"name,omitempty"`
		SizeGB           uint64 `json:"size"`
		Backend          string `json:"backend"`
		ProviderLocation string `json:"provider_location"`
		Multiattach      bool   `json:"multiattach,omitempty"`
		Bootable         bool   `json:"bootable,omitempty"`
		Readonly         bool   `json:"readonly,omitempty"`
	} `json:"volume"`
}

// IsValid 校验请求参数
func (r *CreateVolumeRequest) IsValid() error {
	if r.Volume.Backend == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "backend is required")
	}
	if r.Volume.ProviderLocation == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "provider_location is required")
	}
	return nil
}

// VolumeResponse 单个卷响应
type VolumeResponse struct {
	Volume *Volume `json:"volume"`
	status int
}

// NewAcceptedVolumeResponse 返回 202 的卷响应
func NewAcceptedVolumeResponse(v *Volume) *VolumeResponse {
	return &VolumeResponse{Volume: v, status: http.StatusAccepted}
}

// StatusCode 实现 ginx.StatusCoder
func (r *VolumeResponse) StatusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// VolumeIDRequest 只携带卷 ID 的请求
type VolumeIDRequest struct {
	ID string `uri:"id" json:"-"`
}

// IsValid 校验请求参数
func (r *VolumeIDRequest) IsValid() error {
	if r.ID == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "volume id is required")
	}
	return nil
}

// ListVolumesRequest 列出卷请求
type ListVolumesRequest struct {
	Status  string `form:"status"`
	Backend string `form:"backend"`
}

// ListVolumesResponse 列出卷响应
type ListVolumesResponse struct {
	Volumes []Volume `json:"volumes"`
}

// AttachAction os-attach 参数
type AttachAction struct {
	InstanceUUID string `json:"instance_uuid,omitempty"`
	HostName     string `json:"host_name,omitempty"`
	Mountpoint   string `json:"mountpoint"`
	Mode         string `json:"mode,omitempty"`
}

// Consumer 返回 os-attach 指定的使用方
func (a *AttachAction) Consumer() Consumer {
	return Consumer{InstanceUUID: a.InstanceUUID, Host: a.HostName}
}

// DetachAction os-detach 参数
type DetachAction struct {
	AttachmentID string `json:"attachment_id,omitempty"`
}

// ConnectorAction os-initialize_connection / os-terminate_connection 参数
type ConnectorAction struct {
	Connector Connector `json:"connector"`
}

// ReadonlyAction os-update_readonly_flag 参数
type ReadonlyAction struct {
	Readonly bool `json:"readonly"`
}

// 卷动作名
const (
	ActionReserve              = "os-reserve"
	ActionUnreserve            = "os-unreserve"
	ActionAttach               = "os-attach"
	ActionDetach               = "os-detach"
	ActionBeginDetaching       = "os-begin_detaching"
	ActionRollDetaching        = "os-roll_detaching"
	ActionInitializeConnection = "os-initialize_connection"
	ActionTerminateConnection  = "os-terminate_connection"
	ActionUpdateReadonlyFlag   = "os-update_readonly_flag"
)

// VolumeActionRequest 卷上的旧式动作，请求体只能包含一个动作
type VolumeActionRequest struct {
	ID                   string           `uri:"id" json:"-"`
	Reserve              *struct{}        `json:"os-reserve,omitempty"`
	Unreserve            *struct{}        `json:"os-unreserve,omitempty"`
	Attach               *AttachAction    `json:"os-attach,omitempty"`
	Detach               *DetachAction    `json:"os-detach,omitempty"`
	BeginDetaching       *struct{}        `json:"os-begin_detaching,omitempty"`
	RollDetaching        *struct{}        `json:"os-roll_detaching,omitempty"`
	InitializeConnection *ConnectorAction `json:"os-initialize_connection,omitempty"`
	TerminateConnection  *ConnectorAction `json:"os-terminate_connection,omitempty"`
	UpdateReadonlyFlag   *ReadonlyAction  `json:"os-update_readonly_flag,omitempty"`
}

// Action 返回请求中的动作名，没有或有多个动作时返回空字符串
func (r *VolumeActionRequest) Action() string {
	set := map[string]bool{
		ActionReserve:              r.Reserve != nil,
		ActionUnreserve:            r.Unreserve != nil,
		ActionAttach:               r.Attach != nil,
		ActionDetach:               r.Detach != nil,
		ActionBeginDetaching:       r.BeginDetaching != nil,
		ActionRollDetaching:        r.RollDetaching != nil,
		ActionInitializeConnection: r.InitializeConnection != nil,
		ActionTerminateConnection:  r.TerminateConnection != nil,
		ActionUpdateReadonlyFlag:   r.UpdateReadonlyFlag != nil,
	}
	action := ""
	for name, ok := range set {
		if !ok {
			continue
		}
		if action != "" {
			return ""
		}
		action = name
	}
	return action
}

// IsValid 校验请求参数
func (r *VolumeActionRequest) IsValid() error {
	if r.ID == "" {
		return apierror.Newf(apierror.ErrInvalidParameterValue, "volume id is required")
	}
	switch r.Action() {
	case "":
		return apierror.Newf(apierror.ErrInvalidParameterValue, "exactly one volume action is required")
	case ActionAttach:
		if err := validateMode(r.Attach.Mode); err != nil {
			return err
		}
		return r.Attach.Consumer().Validate()
	case ActionInitializeConnection:
		if len(r.InitializeConnection.Connector) == 0 {
			return apierror.Newf(apierror.ErrInvalidParameterValue, "connector is required")
		}
	case ActionTerminateConnection:
		if len(r.TerminateConnection.Connector) == 0 {
			return apierror.Newf(apierror.ErrInvalidParameterValue, "connector is required")
		}
	}
	return nil
}

// VolumeActionResponse 卷动作响应，只有 os-initialize_connection 带有连接信息
type VolumeActionResponse struct {
	ConnectionInfo ConnectionInfo `json:"connection_info,omitempty"`
}

// StatusCode 实现 ginx.StatusCoder
func (r *VolumeActionResponse) StatusCode() int {
	if r.ConnectionInfo != nil {
		return http.StatusOK
	}
	return http.StatusAccepted
}
