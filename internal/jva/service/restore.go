package service

import (
	"context"
	"errors"

	"github.com/jimyag/jva/internal/jva/driver"
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/rs/zerolog"
)

// ConnectionRestorer 把持久化的连接交还给驱动，由 driver.Bridge 实现
type ConnectionRestorer interface {
	Restore(ctx context.Context, connections []driver.Connection) error
}

// RestoreConnections 读取所有已协商且未销毁的挂载，交给驱动重建内存中的连接引用
// 必须在开始处理请求之前调用，返回交给驱动的连接数
func (s *AttachmentService) RestoreConnections(ctx context.Context, restorer ConnectionRestorer) (int, error) {
	logger := zerolog.Ctx(ctx)

	rows, err := s.store.Attachments().List(ctx, map[string]any{})
	if err != nil {
		return 0, apierror.WrapError(apierror.ErrInternalError, "Failed to list volume attachments", err)
	}

	volumes := make(map[string]*entity.Volume)
	connections := make([]driver.Connection, 0, len(rows))
	for _, row := range rows {
		if !isLive(row) || len(row.ConnectionInfo) == 0 {
			continue
		}
		volume, ok := volumes[row.VolumeID]
		if !ok {
			volume, err = s.restoreVolume(ctx, row)
			if err != nil {
				return 0, err
			}
			volumes[row.VolumeID] = volume
		}
		if volume == nil {
			continue
		}
		connections = append(connections, driver.Connection{
			Volume:    volume,
			Connector: entity.Connector(row.Connector),
			Info:      entity.ConnectionInfo(row.ConnectionInfo),
		})
	}

	if err := restorer.Restore(ctx, connections); err != nil {
		return 0, err
	}
	logger.Info().Int("connections", len(connections)).Msg("Restored backend connections")
	return len(connections), nil
}

// restoreVolume 读取挂载所属的卷，卷已删除时返回 nil
func (s *AttachmentService) restoreVolume(ctx context.Context, row *model.VolumeAttachment) (*entity.Volume, error) {
	volume, err := s.getVolume(ctx, s.store, row.VolumeID)
	if err != nil {
		if errors.Is(err, apierror.ErrVolumeNotFound) {
			zerolog.Ctx(ctx).Warn().
				Str("volumeID", row.VolumeID).
				Str("attachmentID", row.ID).
				Msg("Attachment references a missing volume")
			return nil, nil
		}
		return nil, err
	}
	return s.volumeEntity(volume)
}
