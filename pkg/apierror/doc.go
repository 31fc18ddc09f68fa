// Package apierror 提供统一的错误类型，用于所有服务的错误处理
//
// 错误响应格式支持 XML 和 JSON 两种格式：
//
//	JSON 格式：
//	{
//	    "errors": [
//	        {
//	            "code": "VolumeNotFound",
//	            "message": "The volume 'vol-1a2b3c4d' does not exist"
//	        }
//	    ],
//	    "requestID": "ea966190-f9aa-478e-9ede-example"
//	}
//
// 预定义的卷挂载错误（可在代码中直接使用）：
//
//   - ErrVolumeNotFound: 卷不存在（404）
//   - ErrVolumeAttachmentNotFound: 挂载记录不存在（404）
//   - ErrInvalidVolume: 卷状态不满足前置条件（400）
//   - ErrConflictingReservation: 卷已被其他使用方预留（400，属于 InvalidVolume）
//   - ErrInvalidVolumeAttachMode: 挂载模式与只读属性冲突（400）
//   - ErrPolicyNotAuthorized: 策略拒绝（403）
//   - ErrAuthFailure: 认证失败（401）
//   - ErrConnectorNegotiationFailed: 后端驱动失败（500）
//   - ErrInternalError: 内部错误（500）
//
// 使用示例：
//
//	// 基于预定义错误附加上下文
//	err := apierror.Newf(apierror.ErrVolumeNotFound, "The volume '%s' does not exist", volumeID)
//
//	// 保留原始错误用于服务端调试
//	err := apierror.WrapError(apierror.ErrInternalError, "persist attachment", dbErr)
//
//	// 判断错误类别
//	errors.Is(err, apierror.ErrInvalidVolume)
package apierror
