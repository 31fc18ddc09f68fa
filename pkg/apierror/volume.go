package apierror

import "net/http"

// 卷挂载相关错误
var (
	// ErrVolumeNotFound 卷不存在
	ErrVolumeNotFound = &Error{
		Code:       "VolumeNotFound",
		Message:    "The volume does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrVolumeAttachmentNotFound 挂载记录不存在
	ErrVolumeAttachmentNotFound = &Error{
		Code:       "VolumeAttachmentNotFound",
		Message:    "The volume attachment does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrInvalidVolume 卷状态不满足操作前置条件
	ErrInvalidVolume = &Error{
		Code:       "InvalidVolume",
		Message:    "The volume is not in a valid state for the requested operation.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrConflictingReservation 非多挂载卷已被其他使用方预留
	// 属于 InvalidVolume，errors.Is(err, ErrInvalidVolume) 为 true
	ErrConflictingReservation = &Error{
		Code:       "ConflictingReservation",
		Message:    "The volume is already reserved by another consumer.",
		HTTPStatus: http.StatusBadRequest,
		Family:     "InvalidVolume",
	}

	// ErrInvalidVolumeAttachMode 请求的挂载模式与卷的只读属性冲突
	ErrInvalidVolumeAttachMode = &Error{
		Code:       "InvalidVolumeAttachMode",
		Message:    "The requested attach mode is not compatible with the volume.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrConnectorNegotiationFailed 后端驱动建立或拆除连接失败
	ErrConnectorNegotiationFailed = &Error{
		Code:       "ConnectorNegotiationFailed",
		Message:    "The storage backend failed to negotiate the connection.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrPolicyNotAuthorized 策略不允许执行该操作
	ErrPolicyNotAuthorized = &Error{
		Code:       "PolicyNotAuthorized",
		Message:    "Policy does not allow this action to be performed.",
		HTTPStatus: http.StatusForbidden,
	}

	// ErrAuthFailure 认证失败
	ErrAuthFailure = &Error{
		Code:       "AuthFailure",
		Message:    "The provided credentials could not be validated.",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrInvalidParameterValue 请求参数不合法
	ErrInvalidParameterValue = &Error{
		Code:       "InvalidParameterValue",
		Message:    "A parameter specified in the request is not valid.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrInternalError 发生了内部错误（通常是持久化失败）
	ErrInternalError = &Error{
		Code:       "InternalError",
		Message:    "An internal error has occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
