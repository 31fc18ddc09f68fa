package service

import (
	"context"
	"testing"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAttachmentService_LegacyFlow(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)

	require.NoError(t, ts.Attachments.Reserve(ctx, ownerActor, volume.ID))
	assert.Equal(t, entity.VolumeStatusAttaching, ts.reloadVolume(t, volume.ID).Status)

	// 非多挂载卷不能重复预留
	err := ts.Attachments.Reserve(ctx, ownerActor, volume.ID)
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)

	a, err := ts.Attachments.Attach(ctx, ownerActor, volume.ID, &entity.AttachAction{
		InstanceUUID: instanceA,
		Mountpoint:   "/dev/vdb",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.AttachStatusAttached, a.AttachStatus)
	assert.Equal(t, entity.AttachModeRW, a.AttachMode)
	assert.Equal(t, "/dev/vdb", a.Mountpoint)

	// Attach 认领了隐式预留，没有新增挂载记录
	rows := ts.liveAttachments(t, volume.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, a.ID, rows[0].ID)
	assert.True(t, rows[0].Legacy)
	assert.Equal(t, entity.VolumeStatusInUse, ts.reloadVolume(t, volume.ID).Status)

	require.NoError(t, ts.Attachments.BeginDetaching(ctx, ownerActor, volume.ID))
	assert.Equal(t, entity.VolumeStatusDetaching, ts.reloadVolume(t, volume.ID).Status)

	require.NoError(t, ts.Attachments.RollDetaching(ctx, ownerActor, volume.ID))
	assert.Equal(t, entity.VolumeStatusInUse, ts.reloadVolume(t, volume.ID).Status)

	// 没有 detaching 的挂载时不做修改
	before := ts.reloadVolume(t, volume.ID).Version
	require.NoError(t, ts.Attachments.RollDetaching(ctx, ownerActor, volume.ID))
	assert.Equal(t, before, ts.reloadVolume(t, volume.ID).Version)

	require.NoError(t, ts.Attachments.BeginDetaching(ctx, ownerActor, volume.ID))
	require.NoError(t, ts.Attachments.Detach(ctx, ownerActor, volume.ID, ""))

	v := ts.reloadVolume(t, volume.ID)
	assert.Equal(t, entity.VolumeStatusAvailable, v.Status)
	assert.Equal(t, entity.VolumeAttachStatusDetached, v.AttachStatus)
	assert.Empty(t, ts.liveAttachments(t, volume.ID))
	ts.Driver.AssertNotCalled(t, "TerminateConnection", mock.Anything, mock.Anything, mock.Anything)
}

func TestAttachmentService_Unreserve(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)

	err := ts.Attachments.Unreserve(ctx, ownerActor, volume.ID)
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)

	require.NoError(t, ts.Attachments.Reserve(ctx, ownerActor, volume.ID))
	require.NoError(t, ts.Attachments.Unreserve(ctx, ownerActor, volume.ID))
	assert.Equal(t, entity.VolumeStatusAvailable, ts.reloadVolume(t, volume.ID).Status)
	assert.Empty(t, ts.liveAttachments(t, volume.ID))
}

func TestAttachmentService_AttachReadonly(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name       string
		mode       string
		expectErr  *apierror.Error
		expectMode string
	}{
		{name: "rw rejected", mode: entity.AttachModeRW, expectErr: apierror.ErrInvalidVolumeAttachMode},
		{name: "ro allowed", mode: entity.AttachModeRO, expectMode: entity.AttachModeRO},
		{name: "default is ro", mode: "", expectMode: entity.AttachModeRO},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := setupTestServices(t)
			ctx := context.Background()
			volume := ts.newVolume(t, readonly)

			a, err := ts.Attachments.Attach(ctx, ownerActor, volume.ID, &entity.AttachAction{
				HostName: "backup-host",
				Mode:     tc.mode,
			})
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
				assert.Empty(t, ts.liveAttachments(t, volume.ID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectMode, a.AttachMode)
			assert.Equal(t, "backup-host", a.AttachedHost)

			v := ts.reloadVolume(t, volume.ID)
			assert.Equal(t, tc.expectMode, v.AdminMetadata[entity.AdminMetadataAttachedMode])
		})
	}
}

func TestAttachmentService_AttachConflicts(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)

	_, err := ts.Attachments.Attach(ctx, ownerActor, volume.ID, &entity.AttachAction{InstanceUUID: instanceA})
	require.NoError(t, err)

	_, err = ts.Attachments.Attach(ctx, ownerActor, volume.ID, &entity.AttachAction{InstanceUUID: instanceB})
	assert.ErrorIs(t, err, apierror.ErrConflictingReservation)

	_, err = ts.Attachments.Attach(ctx, ownerActor, volume.ID, &entity.AttachAction{})
	assert.ErrorIs(t, err, apierror.ErrInvalidParameterValue)
}

func TestAttachmentService_DetachMultiple(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t, multiattach)

	a1, err := ts.Attachments.Attach(ctx, ownerActor, volume.ID, &entity.AttachAction{InstanceUUID: instanceA})
	require.NoError(t, err)
	_, err = ts.Attachments.Attach(ctx, ownerActor, volume.ID, &entity.AttachAction{InstanceUUID: instanceB})
	require.NoError(t, err)

	err = ts.Attachments.Detach(ctx, ownerActor, volume.ID, "")
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)

	err = ts.Attachments.BeginDetaching(ctx, ownerActor, volume.ID)
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)

	err = ts.Attachments.Detach(ctx, ownerActor, volume.ID, "att-missing")
	assert.ErrorIs(t, err, apierror.ErrVolumeAttachmentNotFound)

	require.NoError(t, ts.Attachments.Detach(ctx, ownerActor, volume.ID, a1.ID))
	assert.Len(t, ts.liveAttachments(t, volume.ID), 1)
	assert.Equal(t, entity.VolumeStatusInUse, ts.reloadVolume(t, volume.ID).Status)
}

func TestAttachmentService_Connections(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)
	connector := entity.Connector{"host": "h1"}
	ts.expectInitialize(nbdInfo(volume.ID)).Once()
	ts.expectTerminate(nil).Once()

	info, err := ts.Attachments.InitializeConnection(ctx, ownerActor, volume.ID, connector)
	require.NoError(t, err)
	assert.Equal(t, "nbd", info["driver_volume_type"])

	require.NoError(t, ts.Attachments.TerminateConnection(ctx, ownerActor, volume.ID, connector))
	ts.Driver.AssertExpectations(t)

	// 连接操作不修改挂载记录和卷状态
	assert.Empty(t, ts.liveAttachments(t, volume.ID))
	assert.Equal(t, entity.VolumeStatusAvailable, ts.reloadVolume(t, volume.ID).Status)

	_, err = ts.Attachments.InitializeConnection(ctx, otherActor, volume.ID, connector)
	assert.ErrorIs(t, err, apierror.ErrPolicyNotAuthorized)
}
