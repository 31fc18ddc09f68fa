package service

import (
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/repository/model"
)

// managedStatuses 由挂载记录决定的卷状态，其他状态（creating、deleting、maintenance 等）
// 由卷自身的生命周期决定，投影时保持不变
var managedStatuses = map[string]bool{
	entity.VolumeStatusAvailable: true,
	entity.VolumeStatusAttaching: true,
	entity.VolumeStatusInUse:     true,
	entity.VolumeStatusDetaching: true,
	entity.VolumeStatusError:     true,
}

// ProjectVolumeStatus 根据卷上全部未销毁的挂载记录计算卷的 status 和 attach_status
//
// 优先级：存在 attached 为 in-use；否则存在 detaching 为 detaching；
// 否则存在 reserved/attaching 为 attaching；否则存在 error_* 为 error；否则为 available。
// attach_status 当且仅当存在 attaching 或 attached 的挂载时为 attached。
func ProjectVolumeStatus(volume *entity.Volume, attachments []entity.VolumeAttachment) (string, string) {
	var attached, detaching, pending, errored, connected bool
	for _, a := range attachments {
		switch a.AttachStatus {
		case entity.AttachStatusAttached:
			attached = true
			connected = true
		case entity.AttachStatusAttaching:
			pending = true
			connected = true
		case entity.AttachStatusReserved:
			pending = true
		case entity.AttachStatusDetaching:
			detaching = true
		case entity.AttachStatusErrorAttaching, entity.AttachStatusErrorDetaching:
			errored = true
		}
	}

	attachStatus := entity.VolumeAttachStatusDetached
	if connected {
		attachStatus = entity.VolumeAttachStatusAttached
	}

	if !managedStatuses[volume.Status] {
		return volume.Status, attachStatus
	}

	switch {
	case attached:
		return entity.VolumeStatusInUse, attachStatus
	case detaching:
		return entity.VolumeStatusDetaching, attachStatus
	case pending:
		return entity.VolumeStatusAttaching, attachStatus
	case errored:
		return entity.VolumeStatusError, attachStatus
	default:
		return entity.VolumeStatusAvailable, attachStatus
	}
}

// projectModel 对持久化模型做投影
func projectModel(volume *model.Volume, attachments []*model.VolumeAttachment) (string, string) {
	list := make([]entity.VolumeAttachment, 0, len(attachments))
	for _, a := range attachments {
		list = append(list, entity.VolumeAttachment{ID: a.ID, AttachStatus: a.AttachStatus})
	}
	return ProjectVolumeStatus(&entity.Volume{ID: volume.ID, Status: volume.Status}, list)
}
