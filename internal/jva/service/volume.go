package service

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/rs/zerolog"
)

// BackendRegistry 已注册的后端驱动，由 driver.Registry 实现
type BackendRegistry interface {
	Names() []string
}

// VolumeService 卷登记与查询服务
// 卷的数据面由后端管理，这里只记录定位信息和挂载相关的状态
type VolumeService struct {
	*core
	backends BackendRegistry
}

// NewVolumeService 创建卷服务
func NewVolumeService(deps Dependencies, backends BackendRegistry) *VolumeService {
	return &VolumeService{
		core:     newCore(deps),
		backends: backends,
	}
}

// CreateVolume 登记一个后端卷，初始状态为 available
func (s *VolumeService) CreateVolume(
	ctx context.Context, actor policy.Actor, req *entity.CreateVolumeRequest,
) (result *entity.Volume, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_create", start, err) }()

	logger := zerolog.Ctx(ctx).With().
		Str("backend", req.Volume.Backend).
		Str("location", req.Volume.ProviderLocation).
		Logger()
	logger.Info().Msg("Creating volume")

	if err := s.authorize(actor, policy.ActionVolumeCreate, actor.ProjectID); err != nil {
		return nil, err
	}
	if s.backends != nil && !slices.Contains(s.backends.Names(), req.Volume.Backend) {
		return nil, apierror.Newf(apierror.ErrInvalidParameterValue,
			"Backend %s is not configured.", req.Volume.Backend)
	}

	volumeID, err := s.ids.GenerateVolumeID()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate volume ID")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to generate volume ID", err)
	}

	volume := &model.Volume{
		ID:               volumeID,
		ProjectID:        actor.ProjectID,
		DisplayName:      req.Volume.Name,
		SizeGB:           req.Volume.SizeGB,
		Backend:          req.Volume.Backend,
		ProviderLocation: req.Volume.ProviderLocation,
		Status:           entity.VolumeStatusAvailable,
		AttachStatus:     entity.VolumeAttachStatusDetached,
		Multiattach:      req.Volume.Multiattach,
		Bootable:         req.Volume.Bootable,
		AdminMetadata: map[string]string{
			entity.AdminMetadataReadonly: readonlyValue(req.Volume.Readonly),
		},
	}
	if err := s.store.Volumes().Create(ctx, volume); err != nil {
		logger.Error().Err(err).Msg("Failed to save volume to database")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to save volume to database", err)
	}

	logger.Info().Str("volumeID", volume.ID).Msg("Volume created")
	return s.volumeEntity(volume)
}

// GetVolume 获取卷及其未销毁的挂载记录
func (s *VolumeService) GetVolume(ctx context.Context, actor policy.Actor, volumeID string) (*entity.Volume, error) {
	volume, err := s.getVolume(ctx, s.store, volumeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, policy.ActionVolumeGet, volume.ProjectID); err != nil {
		return nil, err
	}

	rows, err := s.store.Attachments().ListByVolume(ctx, volumeID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("volumeID", volumeID).Msg("Failed to list volume attachments")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list volume attachments", err)
	}

	result, err := s.volumeEntity(volume)
	if err != nil {
		return nil, err
	}
	if result.Attachments, err = attachmentModelsToEntities(rows); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert volume attachments", err)
	}
	return result, nil
}

// ListVolumes 列出卷，非管理员只能看到自己项目的卷
func (s *VolumeService) ListVolumes(
	ctx context.Context, actor policy.Actor, req *entity.ListVolumesRequest,
) (*entity.ListVolumesResponse, error) {
	if err := s.authorize(actor, policy.ActionVolumeGet, actor.ProjectID); err != nil {
		return nil, err
	}

	filters := map[string]any{}
	if req.Status != "" {
		filters["status"] = req.Status
	}
	if req.Backend != "" {
		filters["backend"] = req.Backend
	}
	if !actor.IsAdmin() {
		filters["project_id"] = actor.ProjectID
	}

	rows, err := s.store.Volumes().List(ctx, filters)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to list volumes")
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list volumes", err)
	}

	volumes := make([]entity.Volume, 0, len(rows))
	for _, row := range rows {
		v, err := s.volumeEntity(row)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, *v)
	}
	return &entity.ListVolumesResponse{Volumes: volumes}, nil
}

// DeleteVolume 删除卷登记，卷上不能有任何未销毁的挂载记录
func (s *VolumeService) DeleteVolume(ctx context.Context, actor policy.Actor, volumeID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_delete", start, err) }()

	logger := zerolog.Ctx(ctx).With().Str("volumeID", volumeID).Logger()
	logger.Info().Msg("Deleting volume")

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeDelete, volumeID)
	if err != nil {
		return err
	}
	defer unlock()
	volume := state.volume

	if len(state.attachments) > 0 {
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s still has %d attachments.", volume.ID, len(state.attachments))
	}
	switch volume.Status {
	case entity.VolumeStatusAvailable, entity.VolumeStatusError:
	default:
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s status must be available or error to delete, but the current status is %s.",
			volume.ID, volume.Status)
	}

	if err := s.store.Volumes().Delete(ctx, volume.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to delete volume from database")
		return apierror.WrapError(apierror.ErrInternalError, "Failed to delete volume from database", err)
	}
	logger.Info().Msg("Volume deleted")
	return nil
}

// UpdateReadonlyFlag 修改卷的只读属性，只影响之后的挂载
func (s *VolumeService) UpdateReadonlyFlag(
	ctx context.Context, actor policy.Actor, volumeID string, readonly bool,
) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("volume_update_readonly_flag", start, err) }()

	state, unlock, err := s.begin(ctx, actor, policy.ActionVolumeUpdateReadonlyFlag, volumeID)
	if err != nil {
		return err
	}
	defer unlock()
	volume := state.volume

	switch volume.Status {
	case entity.VolumeStatusAvailable, entity.VolumeStatusInUse:
	default:
		return apierror.Newf(apierror.ErrInvalidVolume,
			"Volume %s status must be available or in-use to update readonly flag, but the current status is %s.",
			volume.ID, volume.Status)
	}

	if volume.AdminMetadata == nil {
		volume.AdminMetadata = map[string]string{}
	}
	volume.AdminMetadata[entity.AdminMetadataReadonly] = readonlyValue(readonly)
	if err := s.commit(ctx, volume, nil); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("volumeID", volumeID).Bool("readonly", readonly).Msg("Volume readonly flag updated")
	return nil
}

func readonlyValue(readonly bool) string {
	return strconv.FormatBool(readonly)
}
