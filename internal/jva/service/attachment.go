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

// AttachmentService 挂载编排服务
// 同一个卷上的所有变更在卷锁内串行执行，卷状态由挂载记录投影得出
type AttachmentService struct {
	*core
	maxPendingPerConsumer int
}

// NewAttachmentService 创建挂载编排服务
// maxPendingPerConsumer 为 0 表示不限制同一使用方的重复预留
func NewAttachmentService(deps Dependencies, maxPendingPerConsumer int) *AttachmentService {
	return &AttachmentService{
		core:                  newCore(deps),
		maxPendingPerConsumer: maxPendingPerConsumer,
	}
}

// Create 为使用方预留卷，携带 connector 时在同一次调用中完成连接协商
func (s *AttachmentService) Create(
	ctx context.Context, actor policy.Actor, req *entity.CreateAttachmentRequest,
) (result *entity.VolumeAttachment, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("attachment_create", start, err) }()

	volumeID := req.Attachment.VolumeUUID
	consumer := req.Consumer()
	connector := req.Attachment.Connector
	logger := zerolog.Ctx(ctx).With().
		Str("volumeID", volumeID).
		Str("consumer", consumer.Key()).
		Logger()
	logger.Info().Bool("withConnector", len(connector) > 0).Msg("Creating volume attachment")

	state, unlock, err := s.begin(ctx, actor, policy.ActionAttachmentCreate, volumeID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	volume := state.volume

	if err := checkReservable(volume, state.attachments, consumer); err != nil {
		logger.Warn().Err(err).Str("status", volume.Status).Msg("Volume cannot be reserved")
		return nil, err
	}
	if err := checkPendingLimit(state.attachments, consumer, s.maxPendingPerConsumer); err != nil {
		logger.Warn().Err(err).Msg("Too many pending reservations")
		return nil, err
	}

	// 显式指定的模式在预留时就校验，未指定且没有 connector 时 attach_mode 为 null
	mode := entity.AttachModeNull
	if req.Attachment.Mode != "" || len(connector) > 0 {
		requested := req.Attachment.Mode
		if requested == "" {
			requested = connector.Mode()
		}
		if mode, err = resolveAttachMode(volume, requested); err != nil {
			logger.Warn().Err(err).Msg("Attach mode not allowed")
			return nil, err
		}
	}

	// 冲突在落库前检查，校验失败不留下任何记录也不推进卷版本
	if len(connector) > 0 {
		if err := checkConnectorCollision(state.attachments, "", connector); err != nil {
			logger.Warn().Err(err).Msg("Connector already in use on this volume")
			return nil, err
		}
	}

	attachmentID, err := s.ids.GenerateAttachmentID()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate attachment ID")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to generate attachment ID", err)
	}
	row := &model.VolumeAttachment{
		ID:           attachmentID,
		VolumeID:     volume.ID,
		ProjectID:    volume.ProjectID,
		InstanceUUID: consumer.InstanceUUID,
		AttachedHost: consumer.Host,
		AttachStatus: entity.AttachStatusReserved,
		AttachMode:   mode,
	}
	if err := s.commit(ctx, volume, func(tx repository.Store) error {
		return tx.Attachments().Create(ctx, row)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist reservation")
		return nil, err
	}
	state.attachments = append(state.attachments, row)
	logger = logger.With().Str("attachmentID", row.ID).Logger()
	logger.Info().Str("volumeStatus", volume.Status).Msg("Volume reserved")

	if len(connector) == 0 {
		return s.attachmentEntity(row)
	}

	// 协商失败时撤销刚创建的预留，调用方不会看到半成品
	var connected bool
	defer func() {
		if err == nil {
			return
		}
		s.abandon(context.WithoutCancel(ctx), logger, state, row.ID, connector, connected)
	}()

	if connected, err = s.negotiate(ctx, state, row, connector, mode); err != nil {
		logger.Error().Err(err).Bool("connected", connected).Msg("Failed to negotiate connection")
		return nil, err
	}
	logger.Info().Str("volumeStatus", state.volume.Status).Msg("Volume attachment created")
	return s.attachmentEntity(row)
}

// Update 用使用方的 connector 向后端协商连接，reserved 的挂载转为 attaching
func (s *AttachmentService) Update(
	ctx context.Context, actor policy.Actor, attachmentID string, connector entity.Connector,
) (result *entity.VolumeAttachment, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("attachment_update", start, err) }()

	logger := zerolog.Ctx(ctx).With().Str("attachmentID", attachmentID).Logger()
	logger.Info().Msg("Updating volume attachment")

	if len(connector) == 0 {
		return nil, apierror.Newf(apierror.ErrInvalidParameterValue, "connector is required and must not be empty")
	}

	state, row, unlock, err := s.beginAttachment(ctx, actor, policy.ActionAttachmentUpdate, attachmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	volume := state.volume

	switch row.AttachStatus {
	case entity.AttachStatusReserved, entity.AttachStatusAttaching, entity.AttachStatusAttached:
	default:
		return nil, apierror.Newf(apierror.ErrInvalidVolume,
			"Attachment %s cannot be updated in status %s.", row.ID, row.AttachStatus)
	}
	if volume.Status == entity.VolumeStatusError {
		return nil, apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s is in error status and cannot be connected.", volume.ID)
	}

	requested := connector.Mode()
	if requested == "" {
		requested = row.AttachMode
	}
	mode, err := resolveAttachMode(volume, requested)
	if err != nil {
		logger.Warn().Err(err).Msg("Attach mode not allowed")
		return nil, err
	}

	hadConnection := len(row.ConnectionInfo) > 0
	connected, err := s.negotiate(ctx, state, row, connector, mode)
	if err != nil {
		logger.Error().Err(err).Bool("connected", connected).Msg("Failed to negotiate connection")
		// 首次协商建立的连接没有记录可供 Delete 拆除，这里立即拆除
		if connected && !hadConnection {
			s.terminate(context.WithoutCancel(ctx), logger, state.volume, connector)
		}
		return nil, err
	}
	logger.Info().
		Str("attachStatus", row.AttachStatus).
		Str("volumeStatus", volume.Status).
		Msg("Volume attachment updated")
	return s.attachmentEntity(row)
}

// negotiate 调用后端建立连接并持久化 connector 和 connection_info
// 持锁期间调用驱动；驱动返回后即使 ctx 已取消也写入结果，保证记录与后端一致
// connected 表示后端连接已经建立，持久化失败时调用方据此拆除连接
func (s *AttachmentService) negotiate(
	ctx context.Context, state *volumeState, row *model.VolumeAttachment, connector entity.Connector, mode string,
) (connected bool, err error) {
	volume := state.volume
	if err := checkConnectorCollision(state.attachments, row.ID, connector); err != nil {
		return false, err
	}

	volumeEntity, err := s.volumeEntity(volume)
	if err != nil {
		return false, err
	}
	info, err := s.bridge.InitializeConnection(ctx, volumeEntity, connector)
	if err != nil {
		return false, err
	}

	persistCtx := context.WithoutCancel(ctx)
	row.Connector = connector
	row.ConnectionInfo = info
	row.AttachMode = mode
	if mountpoint, ok := connector["mountpoint"].(string); ok && mountpoint != "" {
		row.Mountpoint = mountpoint
	}
	if row.AttachStatus == entity.AttachStatusReserved {
		row.AttachStatus = entity.AttachStatusAttaching
	}
	return true, s.commit(persistCtx, volume, func(tx repository.Store) error {
		return tx.Attachments().Update(persistCtx, row)
	})
}

// abandon 撤销协商失败的预留：已建立的连接先拆除，再按最新版本销毁记录
// 这里的失败只记录日志，调用方收到的是协商本身的错误
func (s *AttachmentService) abandon(
	ctx context.Context, logger zerolog.Logger, state *volumeState,
	attachmentID string, connector entity.Connector, connected bool,
) {
	if connected {
		s.terminate(ctx, logger, state.volume, connector)
	}
	if err := s.reload(ctx, state); err != nil {
		logger.Error().Err(err).Msg("Failed to reload volume before cleaning up reservation")
		return
	}
	row := state.find(attachmentID)
	if row == nil {
		return
	}
	if err := s.destroy(ctx, state, row); err != nil {
		logger.Error().Err(err).Msg("Failed to clean up reservation after negotiation failure")
	}
}

// terminate 尽力拆除一个没有持久化的连接
func (s *AttachmentService) terminate(
	ctx context.Context, logger zerolog.Logger, volume *model.Volume, connector entity.Connector,
) {
	volumeEntity, err := s.volumeEntity(volume)
	if err == nil {
		err = s.bridge.TerminateConnection(ctx, volumeEntity, connector)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to terminate unrecorded connection")
	}
}

// Complete 使用方确认挂载完成，attaching 转为 attached，已是 attached 时不做任何修改
func (s *AttachmentService) Complete(ctx context.Context, actor policy.Actor, attachmentID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("attachment_complete", start, err) }()

	logger := zerolog.Ctx(ctx).With().Str("attachmentID", attachmentID).Logger()

	state, row, unlock, err := s.beginAttachment(ctx, actor, policy.ActionAttachmentComplete, attachmentID)
	if err != nil {
		return err
	}
	defer unlock()
	volume := state.volume

	switch row.AttachStatus {
	case entity.AttachStatusAttached:
		logger.Debug().Msg("Attachment already completed")
		return nil
	case entity.AttachStatusAttaching:
	default:
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Attachment %s must be attaching to complete, but the current status is %s.", row.ID, row.AttachStatus)
	}

	now := time.Now().UTC()
	row.AttachStatus = entity.AttachStatusAttached
	row.AttachTime = &now
	setAttachedMode(volume, row.AttachMode)
	if err := s.commit(ctx, volume, func(tx repository.Store) error {
		return tx.Attachments().Update(ctx, row)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to complete attachment")
		return err
	}

	logger.Info().Str("volumeID", volume.ID).Str("volumeStatus", volume.Status).Msg("Volume attachment completed")
	return nil
}

// Delete 拆除连接并销毁挂载记录，返回与其共享同一后端 target 的其他挂载 ID
// 未协商的预留直接销毁；驱动拆除失败时挂载恢复到调用前的状态，调用方可以重试
func (s *AttachmentService) Delete(
	ctx context.Context, actor policy.Actor, attachmentID string,
) (siblings []string, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("attachment_delete", start, err) }()

	logger := zerolog.Ctx(ctx).With().Str("attachmentID", attachmentID).Logger()
	logger.Info().Msg("Deleting volume attachment")

	state, row, unlock, err := s.beginAttachment(ctx, actor, policy.ActionAttachmentDelete, attachmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	volume := state.volume
	siblings = siblingAttachments(state.attachments, row)

	if row.AttachStatus == entity.AttachStatusReserved || len(row.Connector) == 0 {
		if err := s.destroy(ctx, state, row); err != nil {
			logger.Error().Err(err).Msg("Failed to destroy reservation")
			return nil, err
		}
		logger.Info().Str("volumeStatus", volume.Status).Msg("Reservation released")
		return siblings, nil
	}

	previous := row.AttachStatus
	row.AttachStatus = entity.AttachStatusDetaching
	if err := s.commit(ctx, volume, func(tx repository.Store) error {
		return tx.Attachments().Update(ctx, row)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to mark attachment detaching")
		return nil, err
	}

	// 拆除失败时恢复到调用前的状态；恢复写入以重新读取的版本为准
	terminated := false
	defer func() {
		if err == nil || terminated {
			return
		}
		revertCtx := context.WithoutCancel(ctx)
		if reloadErr := s.reload(revertCtx, state); reloadErr != nil {
			logger.Error().Err(reloadErr).Msg("Failed to reload volume before reverting attachment status")
			return
		}
		current := state.find(attachmentID)
		if current == nil || current.AttachStatus != entity.AttachStatusDetaching {
			return
		}
		current.AttachStatus = previous
		if revertErr := s.commit(revertCtx, state.volume, func(tx repository.Store) error {
			return tx.Attachments().Update(revertCtx, current)
		}); revertErr != nil {
			logger.Error().Err(revertErr).Msg("Failed to revert attachment status")
		}
	}()

	volumeEntity, err := s.volumeEntity(volume)
	if err != nil {
		return nil, err
	}
	if err := s.bridge.TerminateConnection(ctx, volumeEntity, entity.Connector(row.Connector)); err != nil {
		logger.Error().Err(err).Msg("Failed to terminate connection")
		return nil, err
	}
	terminated = true

	// 连接已经拆除，销毁记录时版本冲突就按最新版本重试一次，不再恢复状态
	persistCtx := context.WithoutCancel(ctx)
	if destroyErr := s.destroy(persistCtx, state, row); destroyErr != nil {
		logger.Warn().Err(destroyErr).Msg("Failed to destroy attachment, retrying with latest volume")
		if destroyErr = s.destroyLatest(persistCtx, state, attachmentID); destroyErr != nil {
			logger.Error().Err(destroyErr).Msg("Failed to destroy attachment")
			// 记录停留在 detaching，重试 Delete 会再次拆除
			return nil, destroyErr
		}
	}
	logger.Info().
		Str("volumeStatus", state.volume.Status).
		Strs("siblings", siblings).
		Msg("Volume attachment deleted")
	return siblings, nil
}

// destroy 软删除挂载记录并重新投影卷状态
func (s *AttachmentService) destroy(ctx context.Context, state *volumeState, row *model.VolumeAttachment) error {
	releaseAttachedMode(state.volume, state.attachments, row.ID)
	err := s.commit(ctx, state.volume, func(tx repository.Store) error {
		return tx.Attachments().Destroy(ctx, row, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	remaining := make([]*model.VolumeAttachment, 0, len(state.attachments))
	for _, a := range state.attachments {
		if a.ID != row.ID {
			remaining = append(remaining, a)
		}
	}
	state.attachments = remaining
	return nil
}

// destroyLatest 重新读取卷后销毁挂载记录，记录已不存在时视为成功
func (s *AttachmentService) destroyLatest(ctx context.Context, state *volumeState, attachmentID string) error {
	if err := s.reload(ctx, state); err != nil {
		return err
	}
	row := state.find(attachmentID)
	if row == nil {
		return nil
	}
	return s.destroy(ctx, state, row)
}

// beginAttachment 按挂载记录定位卷，加锁后重新读取挂载记录
func (s *AttachmentService) beginAttachment(
	ctx context.Context, actor policy.Actor, action, attachmentID string,
) (*volumeState, *model.VolumeAttachment, func(), error) {
	attachment, err := s.getAttachment(ctx, attachmentID)
	if err != nil {
		return nil, nil, nil, err
	}
	state, unlock, err := s.begin(ctx, actor, action, attachment.VolumeID)
	if err != nil {
		return nil, nil, nil, err
	}
	row := state.find(attachmentID)
	if row == nil {
		unlock()
		return nil, nil, nil, apierror.Newf(apierror.ErrVolumeAttachmentNotFound,
			"Volume attachment %s could not be found.", attachmentID)
	}
	return state, row, unlock, nil
}

// Get 获取挂载记录
func (s *AttachmentService) Get(ctx context.Context, actor policy.Actor, attachmentID string) (*entity.VolumeAttachment, error) {
	attachment, err := s.getAttachment(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, policy.ActionAttachmentGet, attachment.ProjectID); err != nil {
		return nil, err
	}
	return s.attachmentEntity(attachment)
}

// List 列出挂载记录，非管理员只能看到自己项目的记录
func (s *AttachmentService) List(
	ctx context.Context, actor policy.Actor, req *entity.ListAttachmentsRequest,
) (*entity.ListAttachmentsResponse, error) {
	if err := s.authorize(actor, policy.ActionAttachmentGet, actor.ProjectID); err != nil {
		return nil, err
	}

	filters := map[string]any{}
	if req.VolumeID != "" {
		filters["volume_id"] = req.VolumeID
	}
	if req.InstanceID != "" {
		filters["instance_uuid"] = req.InstanceID
	}
	switch {
	case req.AttachStatus != "":
		filters["attach_status"] = req.AttachStatus
	case req.Status != "":
		filters["attach_status"] = req.Status
	}
	if !actor.IsAdmin() {
		filters["project_id"] = actor.ProjectID
	}

	rows, err := s.store.Attachments().List(ctx, filters)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to list volume attachments")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list volume attachments", err)
	}
	attachments, err := attachmentModelsToEntities(rows)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert volume attachments", err)
	}
	return &entity.ListAttachmentsResponse{Attachments: attachments}, nil
}
