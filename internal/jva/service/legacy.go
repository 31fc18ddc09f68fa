package service

import (
	"context"
	"time"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/internal/jva/repository"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/rs/zerolog"
)

// 旧版卷动作接口（os-reserve、os-attach 等）
// 旧接口不显式传递挂载 ID，状态变化同样落在挂载记录上，由投影得出卷状态

// Reserve 创建一条没有使用方的隐式预留
func (s *AttachmentService) Reserve(ctx context.Context, actor policy.Actor, volumeID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_reserve", start, err) }()

	logger := zerolog.Ctx(ctx).With().Str("volumeID", volumeID).Logger()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeReserve, volumeID)
	if err != nil {
		return err
	}
	defer unlock()
	volume := state.volume

	switch {
	case volume.Status == entity.VolumeStatusAvailable:
	case volume.Multiattach &&
		(volume.Status == entity.VolumeStatusInUse || volume.Status == entity.VolumeStatusAttaching):
	default:
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s status must be available to reserve, but the current status is %s.", volume.ID, volume.Status)
	}

	attachmentID, err := s.ids.GenerateAttachmentID()
	if err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "Failed to generate attachment ID", err)
	}
	row := &model.VolumeAttachment{
		ID:           attachmentID,
		VolumeID:     volume.ID,
		ProjectID:    volume.ProjectID,
		AttachStatus: entity.AttachStatusReserved,
		Legacy:       true,
	}
	if err := s.commit(ctx, volume, func(tx repository.Store) error {
		return tx.Attachments().Create(ctx, row)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to reserve volume")
		return err
	}
	logger.Info().Str("attachmentID", row.ID).Str("volumeStatus", volume.Status).Msg("Volume reserved")
	return nil
}

// Unreserve 释放最早的一条隐式预留
func (s *AttachmentService) Unreserve(ctx context.Context, actor policy.Actor, volumeID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_unreserve", start, err) }()

	logger := zerolog.Ctx(ctx).With().Str("volumeID", volumeID).Logger()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeUnreserve, volumeID)
	if err != nil {
		return err
	}
	defer unlock()

	row := implicitReservation(state.attachments)
	if row == nil {
		return apierror.Newf(apierror.ErrInvalidVolume, "Volume %s has no pending reservation.", volumeID)
	}
	if err := s.destroy(ctx, state, row); err != nil {
		logger.Error().Err(err).Msg("Failed to unreserve volume")
		return err
	}
	logger.Info().Str("attachmentID", row.ID).Str("volumeStatus", state.volume.Status).Msg("Volume unreserved")
	return nil
}

// Attach 记录使用方已经挂载卷
// 优先认领该使用方未完成的挂载，其次认领隐式预留，都没有时新建一条挂载记录
func (s *AttachmentService) Attach(
	ctx context.Context, actor policy.Actor, volumeID string, params *entity.AttachAction,
) (result *entity.VolumeAttachment, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_attach", start, err) }()

	consumer := params.Consumer()
	logger := zerolog.Ctx(ctx).With().
		Str("volumeID", volumeID).
		Str("consumer", consumer.Key()).
		Logger()

	if err := consumer.Validate(); err != nil {
		return nil, err
	}

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeAttach, volumeID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	volume := state.volume

	switch volume.Status {
	case entity.VolumeStatusAvailable, entity.VolumeStatusAttaching, entity.VolumeStatusInUse:
	default:
		return nil, apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s status must be available, attaching or in-use to attach, but the current status is %s.",
			volume.ID, volume.Status)
	}

	mode, err := resolveAttachMode(volume, params.Mode)
	if err != nil {
		logger.Warn().Err(err).Msg("Attach mode not allowed")
		return nil, err
	}

	if !volume.Multiattach {
		for _, a := range state.attachments {
			holder := consumerOf(a).Key()
			if isLive(a) && holder != "" && holder != consumer.Key() {
				return nil, apierror.Newf(apierror.ErrConflictingReservation,
					"Volume %s is not multiattach and is already attached by attachment %s.", volume.ID, a.ID)
			}
		}
	}

	row := pendingAttachmentOf(state.attachments, consumer)
	if row == nil {
		row = implicitReservation(state.attachments)
	}
	create := row == nil
	if create {
		attachmentID, err := s.ids.GenerateAttachmentID()
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to generate attachment ID", err)
		}
		row = &model.VolumeAttachment{
			ID:        attachmentID,
			VolumeID:  volume.ID,
			ProjectID: volume.ProjectID,
			Legacy:    true,
		}
	}

	now := time.Now().UTC()
	row.InstanceUUID = consumer.InstanceUUID
	row.AttachedHost = consumer.Host
	row.Mountpoint = params.Mountpoint
	row.AttachMode = mode
	row.AttachStatus = entity.AttachStatusAttached
	row.AttachTime = &now
	setAttachedMode(volume, mode)

	if err := s.commit(ctx, volume, func(tx repository.Store) error {
		if create {
			return tx.Attachments().Create(ctx, row)
		}
		return tx.Attachments().Update(ctx, row)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to attach volume")
		return nil, err
	}
	logger.Info().Str("attachmentID", row.ID).Str("mode", mode).Msg("Volume attached")
	return s.attachmentEntity(row)
}

// Detach 销毁一条挂载记录，卷上有多个活动挂载时必须指定 attachmentID
// 连接拆除由调用方先通过 TerminateConnection 完成
func (s *AttachmentService) Detach(ctx context.Context, actor policy.Actor, volumeID, attachmentID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_detach", start, err) }()

	logger := zerolog.Ctx(ctx).With().Str("volumeID", volumeID).Logger()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeDetach, volumeID)
	if err != nil {
		return err
	}
	defer unlock()

	var row *model.VolumeAttachment
	if attachmentID != "" {
		row = state.find(attachmentID)
		if row == nil {
			return apierror.Newf(apierror.ErrVolumeAttachmentNotFound,
				"Volume attachment %s could not be found on volume %s.", attachmentID, volumeID)
		}
	} else {
		active := activeAttachments(state.attachments)
		switch len(active) {
		case 0:
			return apierror.Newf(apierror.ErrInvalidVolume, "Volume %s has no active attachment to detach.", volumeID)
		case 1:
			row = active[0]
		default:
			return apierror.Newf(apierror.ErrInvalidVolume,
				"Volume %s has %d active attachments, attachment_id is required.", volumeID, len(active))
		}
	}

	if err := s.destroy(ctx, state, row); err != nil {
		logger.Error().Err(err).Msg("Failed to detach volume")
		return err
	}
	logger.Info().Str("attachmentID", row.ID).Str("volumeStatus", state.volume.Status).Msg("Volume detached")
	return nil
}

// BeginDetaching 将唯一的 attached 挂载标记为 detaching
func (s *AttachmentService) BeginDetaching(ctx context.Context, actor policy.Actor, volumeID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_begin_detaching", start, err) }()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeBeginDetaching, volumeID)
	if err != nil {
		return err
	}
	defer unlock()
	volume := state.volume

	if volume.Status != entity.VolumeStatusInUse {
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s status must be in-use to begin detaching, but the current status is %s.", volume.ID, volume.Status)
	}
	attached := attachmentsIn(state.attachments, entity.AttachStatusAttached)
	if len(attached) != 1 {
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s has %d attached attachments, expected exactly one.", volume.ID, len(attached))
	}

	row := attached[0]
	row.AttachStatus = entity.AttachStatusDetaching
	if err := s.commit(ctx, volume, func(tx repository.Store) error {
		return tx.Attachments().Update(ctx, row)
	}); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("volumeID", volume.ID).Str("attachmentID", row.ID).Msg("Volume detaching")
	return nil
}

// RollDetaching 将 detaching 的挂载恢复为 attached，没有 detaching 挂载时不做修改
func (s *AttachmentService) RollDetaching(ctx context.Context, actor policy.Actor, volumeID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_roll_detaching", start, err) }()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeRollDetaching, volumeID)
	if err != nil {
		return err
	}
	defer unlock()

	detaching := attachmentsIn(state.attachments, entity.AttachStatusDetaching)
	if len(detaching) == 0 {
		return nil
	}
	for _, row := range detaching {
		row.AttachStatus = entity.AttachStatusAttached
	}
	if err := s.commit(ctx, state.volume, func(tx repository.Store) error {
		for _, row := range detaching {
			if err := tx.Attachments().Update(ctx, row); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("volumeID", volumeID).Int("count", len(detaching)).Msg("Volume detaching rolled back")
	return nil
}

// InitializeConnection 直接向后端协商连接，不创建挂载记录
func (s *AttachmentService) InitializeConnection(
	ctx context.Context, actor policy.Actor, volumeID string, connector entity.Connector,
) (info entity.ConnectionInfo, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_initialize_connection", start, err) }()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeInitializeConnection, volumeID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	volume := state.volume

	switch volume.Status {
	case entity.VolumeStatusAvailable, entity.VolumeStatusAttaching, entity.VolumeStatusInUse, entity.VolumeStatusDetaching:
	default:
		return nil, apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s cannot be connected in status %s.", volume.ID, volume.Status)
	}
	if _, err := resolveAttachMode(volume, connector.Mode()); err != nil {
		return nil, err
	}

	volumeEntity, err := s.volumeEntity(volume)
	if err != nil {
		return nil, err
	}
	return s.bridge.InitializeConnection(ctx, volumeEntity, connector)
}

// TerminateConnection 直接向后端拆除连接，不修改挂载记录
func (s *AttachmentService) TerminateConnection(
	ctx context.Context, actor policy.Actor, volumeID string, connector entity.Connector,
) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_terminate_connection", start, err) }()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeTerminateConnection, volumeID)
	if err != nil {
		return err
	}
	defer unlock()

	volumeEntity, err := s.volumeEntity(state.volume)
	if err != nil {
		return err
	}
	return s.bridge.TerminateConnection(ctx, volumeEntity, connector)
}

// implicitReservation 返回最早的一条没有使用方的预留
func implicitReservation(attachments []*model.VolumeAttachment) *model.VolumeAttachment {
	for _, a := range attachments {
		if a.AttachStatus == entity.AttachStatusReserved && consumerOf(a).IsZero() {
			return a
		}
	}
	return nil
}

// pendingAttachmentOf 返回使用方最早的一条未完成挂载
func pendingAttachmentOf(attachments []*model.VolumeAttachment, consumer entity.Consumer) *model.VolumeAttachment {
	for _, a := range attachments {
		if consumerOf(a).Key() != consumer.Key() {
			continue
		}
		if a.AttachStatus == entity.AttachStatusReserved || a.AttachStatus == entity.AttachStatusAttaching {
			return a
		}
	}
	return nil
}

// activeAttachments 已经开始协商或已挂载的记录
func activeAttachments(attachments []*model.VolumeAttachment) []*model.VolumeAttachment {
	return attachmentsIn(attachments,
		entity.AttachStatusAttaching, entity.AttachStatusAttached, entity.AttachStatusDetaching)
}

func attachmentsIn(attachments []*model.VolumeAttachment, statuses ...string) []*model.VolumeAttachment {
	var out []*model.VolumeAttachment
	for _, a := range attachments {
		for _, status := range statuses {
			if a.AttachStatus == status {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
