package service

import (
	"time"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jinzhu/copier"
)

// copyOption 时间统一格式化为 RFC3339，空时间输出空字符串
var copyOption = copier.Option{
	Converters: []copier.TypeConverter{
		{
			SrcType: time.Time{},
			DstType: copier.String,
			Fn: func(src any) (any, error) {
				t, _ := src.(time.Time)
				return formatTime(&t), nil
			},
		},
		{
			SrcType: &time.Time{},
			DstType: copier.String,
			Fn: func(src any) (any, error) {
				t, _ := src.(*time.Time)
				return formatTime(t), nil
			},
		},
	},
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// volumeModelToEntity 将 model.Volume 转换为 entity.Volume
func volumeModelToEntity(m *model.Volume) (*entity.Volume, error) {
	e := &entity.Volume{}
	if err := copier.CopyWithOption(e, m, copyOption); err != nil {
		return nil, err
	}
	e.Name = m.DisplayName
	return e, nil
}

// attachmentModelToEntity 将 model.VolumeAttachment 转换为 entity.VolumeAttachment
func attachmentModelToEntity(m *model.VolumeAttachment) (*entity.VolumeAttachment, error) {
	e := &entity.VolumeAttachment{}
	if err := copier.CopyWithOption(e, m, copyOption); err != nil {
		return nil, err
	}
	return e, nil
}

// attachmentModelsToEntities 批量转换挂载记录
func attachmentModelsToEntities(list []*model.VolumeAttachment) ([]entity.VolumeAttachment, error) {
	out := make([]entity.VolumeAttachment, 0, len(list))
	for _, m := range list {
		e, err := attachmentModelToEntity(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}
