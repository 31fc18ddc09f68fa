package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/internal/jva/repository"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/jimyag/jva/pkg/idgen"
	"gorm.io/gorm"
)

// ConnectionBridge 后端驱动调用，由 driver.Bridge 实现
type ConnectionBridge interface {
	InitializeConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) (entity.ConnectionInfo, error)
	TerminateConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) error
}

// PolicyEnforcer 授权检查，由 policy.Enforcer 实现
type PolicyEnforcer interface {
	Enforce(actor policy.Actor, action string, target policy.Target) error
}

// Dependencies 编排服务共享的依赖
// 同一个进程内的 AttachmentService 和 VolumeService 必须共享同一个 Locks
type Dependencies struct {
	Store   repository.Store
	Bridge  ConnectionBridge
	Policy  PolicyEnforcer
	Locks   *VolumeLocks
	Metrics *Metrics
	IDGen   *idgen.Generator
}

// core 卷上所有变更操作共用的流程：授权、加锁、重新读取、校验、事务提交
type core struct {
	store   repository.Store
	bridge  ConnectionBridge
	policy  PolicyEnforcer
	locks   *VolumeLocks
	metrics *Metrics
	ids     *idgen.Generator
}

func newCore(deps Dependencies) *core {
	c := &core{
		store:   deps.Store,
		bridge:  deps.Bridge,
		policy:  deps.Policy,
		locks:   deps.Locks,
		metrics: deps.Metrics,
		ids:     deps.IDGen,
	}
	if c.locks == nil {
		c.locks = NewVolumeLocks()
	}
	if c.ids == nil {
		c.ids = idgen.DefaultGenerator()
	}
	return c
}

// volumeState 加锁后重新读取的卷及其未销毁的挂载记录
type volumeState struct {
	volume      *model.Volume
	attachments []*model.VolumeAttachment
}

// find 按 ID 查找挂载记录
func (s *volumeState) find(attachmentID string) *model.VolumeAttachment {
	for _, a := range s.attachments {
		if a.ID == attachmentID {
			return a
		}
	}
	return nil
}

// getVolume 获取卷，不存在时返回 VolumeNotFound
func (c *core) getVolume(ctx context.Context, store repository.Store, volumeID string) (*model.Volume, error) {
	volume, err := store.Volumes().GetByID(ctx, volumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.Newf(apierror.ErrVolumeNotFound, "Volume %s could not be found.", volumeID)
		}
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to get volume", err)
	}
	return volume, nil
}

// getAttachment 获取挂载记录，不存在时返回 VolumeAttachmentNotFound
func (c *core) getAttachment(ctx context.Context, attachmentID string) (*model.VolumeAttachment, error) {
	attachment, err := c.store.Attachments().GetByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.Newf(apierror.ErrVolumeAttachmentNotFound,
				"Volume attachment %s could not be found.", attachmentID)
		}
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to get volume attachment", err)
	}
	return attachment, nil
}

// authorize 以卷所属项目为目标做授权检查
func (c *core) authorize(actor policy.Actor, action, projectID string) error {
	if c.policy == nil {
		return nil
	}
	return c.policy.Enforce(actor, action, policy.Target{ProjectID: projectID})
}

// begin 读取卷做授权，获取卷锁后重新读取最新状态
// 返回的 unlock 必须在操作结束时调用
func (c *core) begin(ctx context.Context, actor policy.Actor, action, volumeID string) (*volumeState, func(), error) {
	volume, err := c.getVolume(ctx, c.store, volumeID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.authorize(actor, action, volume.ProjectID); err != nil {
		return nil, nil, err
	}

	waitStart := time.Now()
	unlock, err := c.locks.Lock(ctx, volumeID)
	if err != nil {
		return nil, nil, fmt.Errorf("wait for volume %s lock: %w", volumeID, err)
	}
	c.metrics.ObserveLockWait(time.Since(waitStart))

	state, err := c.loadState(ctx, volumeID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return state, unlock, nil
}

// loadState 读取卷和它的挂载记录
func (c *core) loadState(ctx context.Context, volumeID string) (*volumeState, error) {
	volume, err := c.getVolume(ctx, c.store, volumeID)
	if err != nil {
		return nil, err
	}
	attachments, err := c.store.Attachments().ListByVolume(ctx, volumeID)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list volume attachments", err)
	}
	return &volumeState{volume: volume, attachments: attachments}, nil
}

// reload 重新读取卷和挂载记录替换 state，条件更新失败后的补偿写入以最新版本为准
func (c *core) reload(ctx context.Context, state *volumeState) error {
	fresh, err := c.loadState(ctx, state.volume.ID)
	if err != nil {
		return err
	}
	*state = *fresh
	return nil
}

// commit 在一个事务中执行挂载记录的写入，然后按剩余挂载重新投影卷状态，
// 并以读取时的版本号做条件更新，版本不匹配时返回 InvalidVolume
func (c *core) commit(ctx context.Context, volume *model.Volume, write func(tx repository.Store) error) error {
	expected := volume.Version
	err := c.store.Transaction(ctx, func(tx repository.Store) error {
		if write != nil {
			if err := write(tx); err != nil {
				return err
			}
		}
		attachments, err := tx.Attachments().ListByVolume(ctx, volume.ID)
		if err != nil {
			return err
		}
		volume.Status, volume.AttachStatus = projectModel(volume, attachments)
		return tx.Volumes().ConditionalUpdate(ctx, volume, expected, "status", "attach_status", "admin_metadata")
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrConditionFailed) {
		return apierror.WrapError(apierror.ErrInvalidVolume,
			fmt.Sprintf("Volume %s was modified concurrently, retry the request.", volume.ID), err)
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return err
	}
	return apierror.WrapError(apierror.ErrInternalError, "Failed to persist volume attachment state", err)
}

// volumeEntity 转换为驱动使用的卷实体
func (c *core) volumeEntity(volume *model.Volume) (*entity.Volume, error) {
	e, err := volumeModelToEntity(volume)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert volume", err)
	}
	return e, nil
}

// attachmentEntity 转换为返回给调用方的挂载实体
func (c *core) attachmentEntity(attachment *model.VolumeAttachment) (*entity.VolumeAttachment, error) {
	e, err := attachmentModelToEntity(attachment)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert volume attachment", err)
	}
	return e, nil
}
