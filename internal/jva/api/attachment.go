package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/pkg/ginx"
	"github.com/rs/zerolog"
)

// AttachmentServiceInterface 挂载编排服务的接口，旧版卷动作也由它实现
type AttachmentServiceInterface interface {
	Create(ctx context.Context, actor policy.Actor, req *entity.CreateAttachmentRequest) (*entity.VolumeAttachment, error)
	Update(ctx context.Context, actor policy.Actor, attachmentID string, connector entity.Connector) (*entity.VolumeAttachment, error)
	Complete(ctx context.Context, actor policy.Actor, attachmentID string) error
	Delete(ctx context.Context, actor policy.Actor, attachmentID string) ([]string, error)
	Get(ctx context.Context, actor policy.Actor, attachmentID string) (*entity.VolumeAttachment, error)
	List(ctx context.Context, actor policy.Actor, req *entity.ListAttachmentsRequest) (*entity.ListAttachmentsResponse, error)

	Reserve(ctx context.Context, actor policy.Actor, volumeID string) error
	Unreserve(ctx context.Context, actor policy.Actor, volumeID string) error
	Attach(ctx context.Context, actor policy.Actor, volumeID string, params *entity.AttachAction) (*entity.VolumeAttachment, error)
	Detach(ctx context.Context, actor policy.Actor, volumeID, attachmentID string) error
	BeginDetaching(ctx context.Context, actor policy.Actor, volumeID string) error
	RollDetaching(ctx context.Context, actor policy.Actor, volumeID string) error
	InitializeConnection(ctx context.Context, actor policy.Actor, volumeID string, connector entity.Connector) (entity.ConnectionInfo, error)
	TerminateConnection(ctx context.Context, actor policy.Actor, volumeID string, connector entity.Connector) error
}

type Attachment struct {
	attachmentService AttachmentServiceInterface
}

func NewAttachment(attachmentService AttachmentServiceInterface) *Attachment {
	return &Attachment{
		attachmentService: attachmentService,
	}
}

func (a *Attachment) RegisterRoutes(router *gin.RouterGroup) {
	attachmentRouter := router.Group("/attachments")
	attachmentRouter.POST("", ginx.Adapt5(a.CreateAttachment))
	attachmentRouter.GET("", ginx.Adapt5(a.ListAttachments))
	attachmentRouter.GET("/:id", ginx.Adapt5(a.ShowAttachment))
	attachmentRouter.PUT("/:id", ginx.Adapt5(a.UpdateAttachment))
	attachmentRouter.POST("/:id/action", ginx.Adapt5(a.AttachmentAction))
	attachmentRouter.DELETE("/:id", ginx.Adapt5(a.DeleteAttachment))
}

func (a *Attachment) CreateAttachment(ctx *gin.Context, req *entity.CreateAttachmentRequest) (*entity.AttachmentResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("volumeID", req.Attachment.VolumeUUID).
		Str("consumer", req.Consumer().Key()).
		Msg("CreateAttachment called")

	attachment, err := a.attachmentService.Create(ctx, actorFrom(ctx), req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create attachment")
		return nil, err
	}

	return entity.NewAcceptedAttachmentResponse(attachment), nil
}

func (a *Attachment) UpdateAttachment(ctx *gin.Context, req *entity.UpdateAttachmentRequest) (*entity.AttachmentResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("attachmentID", req.ID).Msg("UpdateAttachment called")

	attachment, err := a.attachmentService.Update(ctx, actorFrom(ctx), req.ID, req.Attachment.Connector)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to update attachment")
		return nil, err
	}

	return &entity.AttachmentResponse{Attachment: attachment}, nil
}

func (a *Attachment) AttachmentAction(ctx *gin.Context, req *entity.AttachmentActionRequest) (*entity.AcceptedResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("attachmentID", req.ID).Msg("Complete attachment called")

	if err := a.attachmentService.Complete(ctx, actorFrom(ctx), req.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to complete attachment")
		return nil, err
	}

	return &entity.AcceptedResponse{}, nil
}

func (a *Attachment) DeleteAttachment(ctx *gin.Context, req *entity.AttachmentIDRequest) (*entity.DeleteAttachmentResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("attachmentID", req.ID).Msg("DeleteAttachment called")

	siblings, err := a.attachmentService.Delete(ctx, actorFrom(ctx), req.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to delete attachment")
		return nil, err
	}

	return &entity.DeleteAttachmentResponse{Attachments: siblings}, nil
}

func (a *Attachment) ShowAttachment(ctx *gin.Context, req *entity.AttachmentIDRequest) (*entity.AttachmentResponse, error) {
	attachment, err := a.attachmentService.Get(ctx, actorFrom(ctx), req.ID)
	if err != nil {
		return nil, err
	}
	return &entity.AttachmentResponse{Attachment: attachment}, nil
}

func (a *Attachment) ListAttachments(ctx *gin.Context, req *entity.ListAttachmentsRequest) (*entity.ListAttachmentsResponse, error) {
	return a.attachmentService.List(ctx, actorFrom(ctx), req)
}
