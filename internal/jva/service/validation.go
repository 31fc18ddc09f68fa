package service

import (
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jimyag/jva/pkg/apierror"
)

// DefaultMaxPendingPerConsumer 同一使用方在同一个卷上允许的未协商预留数
const DefaultMaxPendingPerConsumer = 4

func consumerOf(a *model.VolumeAttachment) entity.Consumer {
	return entity.Consumer{InstanceUUID: a.InstanceUUID, Host: a.AttachedHost}
}

func isLive(a *model.VolumeAttachment) bool {
	return entity.IsLiveStatus(a.AttachStatus)
}

// checkReservable 校验卷能否为 consumer 创建新的预留
//
// 卷状态必须是 available、attaching 或 in-use；非多挂载卷上只要存在其他使用方
// （包括旧接口产生的无使用方预留）的未销毁挂载，就返回 ConflictingReservation
func checkReservable(volume *model.Volume, attachments []*model.VolumeAttachment, consumer entity.Consumer) error {
	switch volume.Status {
	case entity.VolumeStatusAvailable, entity.VolumeStatusAttaching, entity.VolumeStatusInUse:
	default:
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s status must be available, attaching or in-use to reserve, but the current status is %s.",
			volume.ID, volume.Status)
	}
	if volume.Multiattach {
		return nil
	}

	owned := false
	for _, a := range attachments {
		if !isLive(a) {
			continue
		}
		holder := consumerOf(a).Key()
		if holder != consumer.Key() {
			return apierror.Newf(apierror.ErrConflictingReservation,
				"Volume %s is not multiattach and is already reserved by attachment %s.", volume.ID, a.ID)
		}
		owned = true
	}
	if volume.Status == entity.VolumeStatusInUse && !owned {
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s is in-use and does not allow multiattach.", volume.ID)
	}
	return nil
}

// checkPendingLimit 限制同一使用方的重复预留数量，limit 为 0 表示不限制
func checkPendingLimit(attachments []*model.VolumeAttachment, consumer entity.Consumer, limit int) error {
	if limit <= 0 {
		return nil
	}
	pending := 0
	for _, a := range attachments {
		if a.AttachStatus == entity.AttachStatusReserved && consumerOf(a).Key() == consumer.Key() {
			pending++
		}
	}
	if pending >= limit {
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Consumer %s already holds %d pending reservations on this volume.", consumer.Key(), pending)
	}
	return nil
}

// checkConnectorCollision 同一卷上另一条已协商的挂载使用了相同的 connector 时拒绝
func checkConnectorCollision(attachments []*model.VolumeAttachment, selfID string, connector entity.Connector) error {
	for _, a := range attachments {
		if a.ID == selfID || !isLive(a) || len(a.ConnectionInfo) == 0 {
			continue
		}
		if entity.Connector(a.Connector).SameConsumer(connector) {
			return apierror.Newf(apierror.ErrInvalidVolume,
				"Connector is already in use by attachment %s on this volume.", a.ID)
		}
	}
	return nil
}

// resolveAttachMode 根据请求的模式和卷的只读属性得出挂载模式
// 只读卷不允许 rw，未指定时只读卷为 ro，否则为 rw
func resolveAttachMode(volume *model.Volume, requested string) (string, error) {
	readonly := (&entity.Volume{AdminMetadata: volume.AdminMetadata}).IsReadonly()
	switch requested {
	case entity.AttachModeRW:
		if readonly {
			return "", apierror.Newf(apierror.ErrInvalidVolumeAttachMode,
				"Invalid attaching mode 'rw' for volume %s.", volume.ID)
		}
		return entity.AttachModeRW, nil
	case entity.AttachModeRO:
		return entity.AttachModeRO, nil
	case entity.AttachModeNull:
		if readonly {
			return entity.AttachModeRO, nil
		}
		return entity.AttachModeRW, nil
	}
	return "", apierror.Newf(apierror.ErrInvalidParameterValue, "invalid attach mode %q", requested)
}

// siblingAttachments 返回与 removed 共享同一后端 target 的其他未销毁挂载
func siblingAttachments(attachments []*model.VolumeAttachment, removed *model.VolumeAttachment) []string {
	siblings := []string{}
	target := entity.ConnectionInfo(removed.ConnectionInfo).TargetIdentity()
	if target == "" {
		return siblings
	}
	for _, a := range attachments {
		if a.ID == removed.ID || !isLive(a) {
			continue
		}
		if entity.ConnectionInfo(a.ConnectionInfo).TargetIdentity() == target {
			siblings = append(siblings, a.ID)
		}
	}
	return siblings
}

// releaseAttachedMode 卷上不再有其他未销毁挂载时清除 admin_metadata 中的 attached_mode
func releaseAttachedMode(volume *model.Volume, attachments []*model.VolumeAttachment, removedID string) {
	for _, a := range attachments {
		if a.ID != removedID && isLive(a) {
			return
		}
	}
	delete(volume.AdminMetadata, entity.AdminMetadataAttachedMode)
}

// setAttachedMode 记录卷当前的挂载模式
func setAttachedMode(volume *model.Volume, mode string) {
	if mode == "" {
		return
	}
	if volume.AdminMetadata == nil {
		volume.AdminMetadata = map[string]string{}
	}
	volume.AdminMetadata[entity.AdminMetadataAttachedMode] = mode
}
