package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/jimyag/jva/pkg/ginx"
	"github.com/rs/zerolog"
)

// VolumeServiceInterface 定义卷服务的接口
type VolumeServiceInterface interface {
	CreateVolume(ctx context.Context, actor policy.Actor, req *entity.CreateVolumeRequest) (*entity.Volume, error)
	GetVolume(ctx context.Context, actor policy.Actor, volumeID string) (*entity.Volume, error)
	ListVolumes(ctx context.Context, actor policy.Actor, req *entity.ListVolumesRequest) (*entity.ListVolumesResponse, error)
	DeleteVolume(ctx context.Context, actor policy.Actor, volumeID string) error
	UpdateReadonlyFlag(ctx context.Context, actor policy.Actor, volumeID string, readonly bool) error
}

type Volume struct {
	volumeService     VolumeServiceInterface
	attachmentService AttachmentServiceInterface
}

func NewVolume(volumeService VolumeServiceInterface, attachmentService AttachmentServiceInterface) *Volume {
	return &Volume{
		volumeService:     volumeService,
		attachmentService: attachmentService,
	}
}

func (v *Volume) RegisterRoutes(router *gin.RouterGroup) {
	volumeRouter := router.Group("/volumes")
	volumeRouter.POST("", ginx.Adapt5(v.CreateVolume))
	volumeRouter.GET("", ginx.Adapt5(v.ListVolumes))
	volumeRouter.GET("/:id", ginx.Adapt5(v.ShowVolume))
	volumeRouter.DELETE("/:id", ginx.Adapt5(v.DeleteVolume))
	volumeRouter.POST("/:id/action", ginx.Adapt5(v.VolumeAction))
}

func (v *Volume) CreateVolume(ctx *gin.Context, req *entity.CreateVolumeRequest) (*entity.VolumeResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("backend", req.Volume.Backend).
		Str("location", req.Volume.ProviderLocation).
		Msg("CreateVolume called")

	volume, err := v.volumeService.CreateVolume(ctx, actorFrom(ctx), req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create volume")
		return nil, err
	}

	logger.Info().Str("volumeID", volume.ID).Msg("Volume created successfully")
	return entity.NewAcceptedVolumeResponse(volume), nil
}

func (v *Volume) ShowVolume(ctx *gin.Context, req *entity.VolumeIDRequest) (*entity.VolumeResponse, error) {
	volume, err := v.volumeService.GetVolume(ctx, actorFrom(ctx), req.ID)
	if err != nil {
		return nil, err
	}
	return &entity.VolumeResponse{Volume: volume}, nil
}

func (v *Volume) ListVolumes(ctx *gin.Context, req *entity.ListVolumesRequest) (*entity.ListVolumesResponse, error) {
	return v.volumeService.ListVolumes(ctx, actorFrom(ctx), req)
}

func (v *Volume) DeleteVolume(ctx *gin.Context, req *entity.VolumeIDRequest) (*entity.AcceptedResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("volumeID", req.ID).Msg("DeleteVolume called")

	if err := v.volumeService.DeleteVolume(ctx, actorFrom(ctx), req.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to delete volume")
		return nil, err
	}
	return &entity.AcceptedResponse{}, nil
}

// VolumeAction 分发旧版卷动作
func (v *Volume) VolumeAction(ctx *gin.Context, req *entity.VolumeActionRequest) (*entity.VolumeActionResponse, error) {
	action := req.Action()
	logger := zerolog.Ctx(ctx).With().
		Str("volumeID", req.ID).
		Str("action", action).
		Logger()
	logger.Info().Msg("VolumeAction called")

	actor := actorFrom(ctx)
	resp := &entity.VolumeActionResponse{}
	var err error

	switch action {
	case entity.ActionReserve:
		err = v.attachmentService.Reserve(ctx, actor, req.ID)
	case entity.ActionUnreserve:
		err = v.attachmentService.Unreserve(ctx, actor, req.ID)
	case entity.ActionAttach:
		_, err = v.attachmentService.Attach(ctx, actor, req.ID, req.Attach)
	case entity.ActionDetach:
		err = v.attachmentService.Detach(ctx, actor, req.ID, req.Detach.AttachmentID)
	case entity.ActionBeginDetaching:
		err = v.attachmentService.BeginDetaching(ctx, actor, req.ID)
	case entity.ActionRollDetaching:
		err = v.attachmentService.RollDetaching(ctx, actor, req.ID)
	case entity.ActionInitializeConnection:
		resp.ConnectionInfo, err = v.attachmentService.InitializeConnection(ctx, actor, req.ID,
			req.InitializeConnection.Connector)
	case entity.ActionTerminateConnection:
		err = v.attachmentService.TerminateConnection(ctx, actor, req.ID, req.TerminateConnection.Connector)
	case entity.ActionUpdateReadonlyFlag:
		err = v.volumeService.UpdateReadonlyFlag(ctx, actor, req.ID, req.UpdateReadonlyFlag.Readonly)
	default:
		err = apierror.Newf(apierror.ErrInvalidParameterValue, "unsupported volume action")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Volume action failed")
		return nil, err
	}
	return resp, nil
}
