package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAttachmentService_Create(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name      string
		actor     *policy.Actor
		mutate    []func(*model.Volume)
		setup     func(t *testing.T, ts *TestServices, volume *model.Volume)
		req       func(volumeID string) *entity.CreateAttachmentRequest
		expectErr *apierror.Error
		check     func(t *testing.T, ts *TestServices, volume *model.Volume, a *entity.VolumeAttachment)
	}{
		{
			name: "reserve without connector",
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, nil)
			},
			check: func(t *testing.T, ts *TestServices, volume *model.Volume, a *entity.VolumeAttachment) {
				assert.Equal(t, entity.AttachStatusReserved, a.AttachStatus)
				assert.Equal(t, entity.AttachModeNull, a.AttachMode)
				assert.Equal(t, instanceA, a.InstanceUUID)
				assert.Equal(t, ownerActor.ProjectID, a.ProjectID)

				v := ts.reloadVolume(t, volume.ID)
				assert.Equal(t, entity.VolumeStatusAttaching, v.Status)
				assert.Equal(t, entity.VolumeAttachStatusDetached, v.AttachStatus)
				ts.Driver.AssertNotCalled(t, "InitializeConnection", mock.Anything, mock.Anything, mock.Anything)
			},
		},
		{
			name: "reserve with connector negotiates inline",
			setup: func(t *testing.T, ts *TestServices, volume *model.Volume) {
				ts.expectInitialize(nbdInfo(volume.ID)).Once()
			},
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, entity.Connector{"host": "h1", "mountpoint": "/dev/vdb"})
			},
			check: func(t *testing.T, ts *TestServices, volume *model.Volume, a *entity.VolumeAttachment) {
				assert.Equal(t, entity.AttachStatusAttaching, a.AttachStatus)
				assert.Equal(t, entity.AttachModeRW, a.AttachMode)
				assert.Equal(t, "/dev/vdb", a.Mountpoint)
				assert.Equal(t, volume.ID, a.ConnectionInfo["export_name"])

				v := ts.reloadVolume(t, volume.ID)
				assert.Equal(t, entity.VolumeStatusAttaching, v.Status)
				assert.Equal(t, entity.VolumeAttachStatusAttached, v.AttachStatus)
				ts.Driver.AssertNumberOfCalls(t, "InitializeConnection", 1)
			},
		},
		{
			name:   "readonly volume defaults to ro",
			mutate: []func(*model.Volume){readonly},
			setup: func(t *testing.T, ts *TestServices, volume *model.Volume) {
				ts.expectInitialize(nbdInfo(volume.ID))
			},
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, entity.Connector{"host": "h1"})
			},
			check: func(t *testing.T, _ *TestServices, _ *model.Volume, a *entity.VolumeAttachment) {
				assert.Equal(t, entity.AttachModeRO, a.AttachMode)
			},
		},
		{
			name:   "readonly volume rejects rw",
			mutate: []func(*model.Volume){readonly},
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				req := createRequest(volumeID, instanceA, nil)
				req.Attachment.Mode = entity.AttachModeRW
				return req
			},
			expectErr: apierror.ErrInvalidVolumeAttachMode,
		},
		{
			name: "volume not found",
			req: func(string) *entity.CreateAttachmentRequest {
				return createRequest("vol-missing", instanceA, nil)
			},
			expectErr: apierror.ErrVolumeNotFound,
		},
		{
			name:   "error volume",
			mutate: []func(*model.Volume){func(v *model.Volume) { v.Status = entity.VolumeStatusError }},
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, nil)
			},
			expectErr: apierror.ErrInvalidVolume,
		},
		{
			name: "single attach volume held by another consumer",
			setup: func(t *testing.T, ts *TestServices, volume *model.Volume) {
				_, err := ts.Attachments.Create(context.Background(), ownerActor, createRequest(volume.ID, instanceB, nil))
				require.NoError(t, err)
			},
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, nil)
			},
			expectErr: apierror.ErrConflictingReservation,
		},
		{
			name: "implicit legacy reservation blocks new consumers",
			setup: func(t *testing.T, ts *TestServices, volume *model.Volume) {
				require.NoError(t, ts.Attachments.Reserve(context.Background(), ownerActor, volume.ID))
			},
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, nil)
			},
			expectErr: apierror.ErrConflictingReservation,
		},
		{
			name: "driver failure removes the reservation",
			setup: func(t *testing.T, ts *TestServices, volume *model.Volume) {
				ts.Driver.On("InitializeConnection", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.New("export failed"))
			},
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, entity.Connector{"host": "h1"})
			},
			expectErr: apierror.ErrConnectorNegotiationFailed,
			check: func(t *testing.T, ts *TestServices, volume *model.Volume, _ *entity.VolumeAttachment) {
				assert.Empty(t, ts.liveAttachments(t, volume.ID))
				v := ts.reloadVolume(t, volume.ID)
				assert.Equal(t, entity.VolumeStatusAvailable, v.Status)
			},
		},
		{
			name:  "other project is not authorized",
			actor: &otherActor,
			req: func(volumeID string) *entity.CreateAttachmentRequest {
				return createRequest(volumeID, instanceA, nil)
			},
			expectErr: apierror.ErrPolicyNotAuthorized,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := setupTestServices(t)
			volume := ts.newVolume(t, tc.mutate...)
			if tc.setup != nil {
				tc.setup(t, ts, volume)
			}

			actor := ownerActor
			if tc.actor != nil {
				actor = *tc.actor
			}
			a, err := ts.Attachments.Create(context.Background(), actor, tc.req(volume.ID))
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectErr)
				assert.Nil(t, a)
			} else {
				require.NoError(t, err)
				require.NotNil(t, a)
			}
			if tc.check != nil {
				tc.check(t, ts, volume, a)
			}
		})
	}
}

func TestAttachmentService_DuplicateReservations(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)

	first, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
	require.NoError(t, err)
	second, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, ts.liveAttachments(t, volume.ID), 2)
	assert.Equal(t, entity.VolumeStatusAttaching, ts.reloadVolume(t, volume.ID).Status)

	for i := 2; i < DefaultMaxPendingPerConsumer; i++ {
		_, err = ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
		require.NoError(t, err)
	}
	_, err = ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)
	assert.Len(t, ts.liveAttachments(t, volume.ID), DefaultMaxPendingPerConsumer)
}

func TestAttachmentService_Lifecycle(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)
	info := nbdInfo(volume.ID)
	ts.expectInitialize(info).Once()
	ts.expectTerminate(nil).Once()

	a1, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
	require.NoError(t, err)
	assert.Equal(t, entity.AttachStatusReserved, a1.AttachStatus)
	assert.Equal(t, entity.VolumeStatusAttaching, ts.reloadVolume(t, volume.ID).Status)

	_, err = ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceB, nil))
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)

	updated, err := ts.Attachments.Update(ctx, ownerActor, a1.ID, entity.Connector{"host": "h1"})
	require.NoError(t, err)
	assert.Equal(t, entity.AttachStatusAttaching, updated.AttachStatus)
	assert.Equal(t, info, updated.ConnectionInfo)
	ts.Driver.AssertNumberOfCalls(t, "InitializeConnection", 1)

	require.NoError(t, ts.Attachments.Complete(ctx, ownerActor, a1.ID))
	v := ts.reloadVolume(t, volume.ID)
	assert.Equal(t, entity.VolumeStatusInUse, v.Status)
	assert.Equal(t, entity.VolumeAttachStatusAttached, v.AttachStatus)
	assert.Equal(t, entity.AttachModeRW, v.AdminMetadata[entity.AdminMetadataAttachedMode])

	completed, err := ts.Attachments.Get(ctx, ownerActor, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.AttachStatusAttached, completed.AttachStatus)
	assert.NotEmpty(t, completed.AttachTime)
	_, err = time.Parse(time.RFC3339, completed.AttachTime)
	assert.NoError(t, err)

	// 重复 Complete 不做修改
	require.NoError(t, ts.Attachments.Complete(ctx, ownerActor, a1.ID))
	assert.Equal(t, v.Version, ts.reloadVolume(t, volume.ID).Version)

	siblings, err := ts.Attachments.Delete(ctx, ownerActor, a1.ID)
	require.NoError(t, err)
	assert.Empty(t, siblings)
	ts.Driver.AssertNumberOfCalls(t, "TerminateConnection", 1)

	v = ts.reloadVolume(t, volume.ID)
	assert.Equal(t, entity.VolumeStatusAvailable, v.Status)
	assert.Equal(t, entity.VolumeAttachStatusDetached, v.AttachStatus)
	assert.NotContains(t, v.AdminMetadata, entity.AdminMetadataAttachedMode)

	audit, err := ts.Repo.Attachments().GetByIDWithDeleted(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.AttachStatusDetached, audit.AttachStatus)
	assert.NotNil(t, audit.DetachTime)

	_, err = ts.Attachments.Get(ctx, ownerActor, a1.ID)
	assert.ErrorIs(t, err, apierror.ErrVolumeAttachmentNotFound)
}

func TestAttachmentService_Update(t *testing.T) {
	t.Parallel()

	t.Run("readonly volume rejects rw connector", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		volume := ts.newVolume(t, readonly)
		a, err := ts.Attachments.Create(context.Background(), ownerActor, createRequest(volume.ID, instanceA, nil))
		require.NoError(t, err)

		_, err = ts.Attachments.Update(context.Background(), ownerActor, a.ID, entity.Connector{"host": "h1", "mode": "rw"})
		assert.ErrorIs(t, err, apierror.ErrInvalidVolumeAttachMode)
		ts.Driver.AssertNotCalled(t, "InitializeConnection", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("connector already used by another attachment", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t, multiattach)
		ts.expectInitialize(nbdInfo(volume.ID)).Once()

		_, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
		require.NoError(t, err)
		a2, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceB, nil))
		require.NoError(t, err)

		_, err = ts.Attachments.Update(ctx, ownerActor, a2.ID, entity.Connector{"host": "h1"})
		assert.ErrorIs(t, err, apierror.ErrInvalidVolume)
		ts.Driver.AssertNumberOfCalls(t, "InitializeConnection", 1)
	})

	t.Run("error volume", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t)
		a, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
		require.NoError(t, err)

		v := ts.reloadVolume(t, volume.ID)
		v.Status = entity.VolumeStatusError
		require.NoError(t, ts.Repo.Volumes().ConditionalUpdate(ctx, v, v.Version, "status"))

		_, err = ts.Attachments.Update(ctx, ownerActor, a.ID, entity.Connector{"host": "h1"})
		assert.ErrorIs(t, err, apierror.ErrInvalidVolume)
	})

	t.Run("missing attachment", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		_, err := ts.Attachments.Update(context.Background(), ownerActor, "att-missing", entity.Connector{"host": "h1"})
		assert.ErrorIs(t, err, apierror.ErrVolumeAttachmentNotFound)
	})

	t.Run("empty connector", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		_, err := ts.Attachments.Update(context.Background(), ownerActor, "att-any", entity.Connector{})
		assert.ErrorIs(t, err, apierror.ErrInvalidParameterValue)
	})

	t.Run("canceled negotiation leaves reservation untouched", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		volume := ts.newVolume(t)
		a, err := ts.Attachments.Create(context.Background(), ownerActor, createRequest(volume.ID, instanceA, nil))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		ts.Driver.On("InitializeConnection", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				cancel()
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.Canceled)

		_, err = ts.Attachments.Update(ctx, ownerActor, a.ID, entity.Connector{"host": "h1"})
		assert.ErrorIs(t, err, apierror.ErrConnectorNegotiationFailed)

		rows := ts.liveAttachments(t, volume.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, entity.AttachStatusReserved, rows[0].AttachStatus)
		assert.Empty(t, rows[0].ConnectionInfo)
		assert.Equal(t, 0, ts.Locks.size())
	})
}

func TestAttachmentService_Complete(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)

	a, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
	require.NoError(t, err)

	err = ts.Attachments.Complete(ctx, ownerActor, a.ID)
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)
	assert.Equal(t, entity.VolumeStatusAttaching, ts.reloadVolume(t, volume.ID).Status)

	err = ts.Attachments.Complete(ctx, otherActor, a.ID)
	assert.ErrorIs(t, err, apierror.ErrPolicyNotAuthorized)
}

func TestAttachmentService_Delete(t *testing.T) {
	t.Parallel()

	t.Run("reserved attachment makes no backend call", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t)
		a, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
		require.NoError(t, err)

		siblings, err := ts.Attachments.Delete(ctx, ownerActor, a.ID)
		require.NoError(t, err)
		assert.Empty(t, siblings)
		ts.Driver.AssertNotCalled(t, "TerminateConnection", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, entity.VolumeStatusAvailable, ts.reloadVolume(t, volume.ID).Status)
	})

	t.Run("remaining reservation keeps volume attaching", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t, multiattach)
		ts.expectInitialize(nbdInfo(volume.ID))
		ts.expectTerminate(nil)

		a1, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
		require.NoError(t, err)
		require.NoError(t, ts.Attachments.Complete(ctx, ownerActor, a1.ID))
		a2, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceB, nil))
		require.NoError(t, err)
		assert.Equal(t, entity.VolumeStatusInUse, ts.reloadVolume(t, volume.ID).Status)

		_, err = ts.Attachments.Delete(ctx, ownerActor, a1.ID)
		require.NoError(t, err)

		v, err := ts.Volumes.GetVolume(ctx, ownerActor, volume.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.VolumeStatusAttaching, v.Status)
		require.Len(t, v.Attachments, 1)
		assert.Equal(t, a2.ID, v.Attachments[0].ID)
	})

	t.Run("shared target returns siblings", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t, multiattach)
		ts.expectInitialize(nbdInfo(volume.ID))
		ts.expectTerminate(nil)

		a1, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
		require.NoError(t, err)
		a2, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceB, entity.Connector{"host": "h2"}))
		require.NoError(t, err)

		siblings, err := ts.Attachments.Delete(ctx, ownerActor, a1.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{a2.ID}, siblings)
	})

	t.Run("terminate failure restores previous status", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t)
		ts.expectInitialize(nbdInfo(volume.ID))
		ts.expectTerminate(errors.New("export busy")).Once()

		a, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
		require.NoError(t, err)
		require.NoError(t, ts.Attachments.Complete(ctx, ownerActor, a.ID))

		_, err = ts.Attachments.Delete(ctx, ownerActor, a.ID)
		assert.ErrorIs(t, err, apierror.ErrConnectorNegotiationFailed)

		rows := ts.liveAttachments(t, volume.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, entity.AttachStatusAttached, rows[0].AttachStatus)
		assert.Equal(t, entity.VolumeStatusInUse, ts.reloadVolume(t, volume.ID).Status)

		// 重试成功
		ts.expectTerminate(nil)
		_, err = ts.Attachments.Delete(ctx, ownerActor, a.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.VolumeStatusAvailable, ts.reloadVolume(t, volume.ID).Status)
	})
}

func TestAttachmentService_ConcurrentUpdateDuringDriverCall(t *testing.T) {
	t.Parallel()

	t.Run("create terminates connection and destroys reservation", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t)
		ts.expectInitialize(nbdInfo(volume.ID)).Run(func(mock.Arguments) {
			ts.touchVolume(t, volume.ID)
		}).Once()
		ts.expectTerminate(nil).Once()

		_, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
		assert.ErrorIs(t, err, apierror.ErrInvalidVolume)

		ts.Driver.AssertNumberOfCalls(t, "TerminateConnection", 1)
		assert.Empty(t, ts.liveAttachments(t, volume.ID))
		assert.Equal(t, entity.VolumeStatusAvailable, ts.reloadVolume(t, volume.ID).Status)
	})

	t.Run("delete revert uses latest version", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t)
		ts.expectInitialize(nbdInfo(volume.ID))
		ts.expectTerminate(errors.New("export busy")).Run(func(mock.Arguments) {
			ts.touchVolume(t, volume.ID)
		}).Once()

		a, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
		require.NoError(t, err)
		require.NoError(t, ts.Attachments.Complete(ctx, ownerActor, a.ID))

		_, err = ts.Attachments.Delete(ctx, ownerActor, a.ID)
		assert.ErrorIs(t, err, apierror.ErrConnectorNegotiationFailed)

		rows := ts.liveAttachments(t, volume.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, entity.AttachStatusAttached, rows[0].AttachStatus)
		assert.Equal(t, entity.VolumeStatusInUse, ts.reloadVolume(t, volume.ID).Status)
	})

	t.Run("delete after terminate retries destroy", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServices(t)
		ctx := context.Background()
		volume := ts.newVolume(t)
		ts.expectInitialize(nbdInfo(volume.ID))
		ts.expectTerminate(nil).Run(func(mock.Arguments) {
			ts.touchVolume(t, volume.ID)
		}).Once()

		a, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
		require.NoError(t, err)

		_, err = ts.Attachments.Delete(ctx, ownerActor, a.ID)
		require.NoError(t, err)
		assert.Empty(t, ts.liveAttachments(t, volume.ID))
		assert.Equal(t, entity.VolumeStatusAvailable, ts.reloadVolume(t, volume.ID).Status)
	})
}

func TestAttachmentService_CreateCollisionLeavesNoRecord(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t, multiattach)
	ts.expectInitialize(nbdInfo(volume.ID)).Once()

	_, err := ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, entity.Connector{"host": "h1"}))
	require.NoError(t, err)
	before := ts.reloadVolume(t, volume.ID).Version

	_, err = ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceB, entity.Connector{"host": "h1"}))
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)

	assert.Len(t, ts.allAttachments(t, volume.ID), 1)
	assert.Equal(t, before, ts.reloadVolume(t, volume.ID).Version)
	ts.Driver.AssertNumberOfCalls(t, "InitializeConnection", 1)
}

func TestAttachmentService_ConcurrentCreate(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	volume := ts.newVolume(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.Attachments.Create(context.Background(), ownerActor,
				createRequest(volume.ID, uuid.NewString(), nil))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apierror.ErrConflictingReservation):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, ts.liveAttachments(t, volume.ID), 1)
}

func TestAttachmentService_LockWaitCanceled(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	volume := ts.newVolume(t)

	unlock, err := ts.Locks.Lock(context.Background(), volume.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ts.Attachments.Create(ctx, ownerActor, createRequest(volume.ID, instanceA, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, ts.liveAttachments(t, volume.ID))
}

func TestAttachmentService_StaleVersion(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	volume := ts.newVolume(t)

	state, err := ts.Attachments.loadState(ctx, volume.ID)
	require.NoError(t, err)

	// 其他进程先修改了卷
	other := ts.reloadVolume(t, volume.ID)
	other.Status = entity.VolumeStatusMaintenance
	require.NoError(t, ts.Repo.Volumes().ConditionalUpdate(ctx, other, other.Version, "status"))

	err = ts.Attachments.commit(ctx, state.volume, nil)
	assert.ErrorIs(t, err, apierror.ErrInvalidVolume)
	assert.Equal(t, entity.VolumeStatusMaintenance, ts.reloadVolume(t, volume.ID).Status)
}

func TestAttachmentService_List(t *testing.T) {
	t.Parallel()

	ts := setupTestServices(t)
	ctx := context.Background()
	mine := ts.newVolume(t)
	theirs := ts.newVolume(t, func(v *model.Volume) { v.ProjectID = otherActor.ProjectID })

	_, err := ts.Attachments.Create(ctx, ownerActor, createRequest(mine.ID, instanceA, nil))
	require.NoError(t, err)
	_, err = ts.Attachments.Create(ctx, otherActor, createRequest(theirs.ID, instanceB, nil))
	require.NoError(t, err)

	resp, err := ts.Attachments.List(ctx, ownerActor, &entity.ListAttachmentsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Attachments, 1)
	assert.Equal(t, mine.ID, resp.Attachments[0].VolumeID)

	resp, err = ts.Attachments.List(ctx, adminActor, &entity.ListAttachmentsRequest{InstanceID: instanceB})
	require.NoError(t, err)
	require.Len(t, resp.Attachments, 1)
	assert.Equal(t, theirs.ID, resp.Attachments[0].VolumeID)

	resp, err = ts.Attachments.List(ctx, adminActor, &entity.ListAttachmentsRequest{Status: entity.AttachStatusAttached})
	require.NoError(t, err)
	assert.Empty(t, resp.Attachments)
}
