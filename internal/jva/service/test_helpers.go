package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jimyag/jva/internal/jva/driver"
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/internal/jva/repository"
	"github.com/jimyag/jva/internal/jva/repository/model"
	"github.com/jimyag/jva/pkg/idgen"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testBackend = "mock"

var (
	adminActor = policy.Actor{UserID: "admin", ProjectID: "admin-project", Roles: []string{policy.RoleAdmin}}
	ownerActor = policy.Actor{UserID: "user-1", ProjectID: "project-1", Roles: []string{"member"}}
	otherActor = policy.Actor{UserID: "user-2", ProjectID: "project-2", Roles: []string{"member"}}
)

// 测试用的使用方
const (
	instanceA = "6c1c4b2e-5b44-4c1c-9f5a-0a4e2a1d0001"
	instanceB = "6c1c4b2e-5b44-4c1c-9f5a-0a4e2a1d0002"
)

// TestServices 包含测试所需的所有服务和依赖
type TestServices struct {
	Repo        *repository.Repository
	Driver      *driver.MockDriver
	Metrics     *Metrics
	Locks       *VolumeLocks
	Attachments *AttachmentService
	Volumes     *VolumeService
}

// setupTestServices 为每个测试用例创建独立的测试环境
// 每个测试用例都会获得自己的数据库、mock 驱动和 service 实例
func setupTestServices(t *testing.T) *TestServices {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := repository.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})

	mockDriver := driver.NewMockDriver(testBackend)
	registry, err := driver.NewRegistry(mockDriver)
	require.NoError(t, err)

	enforcer, err := policy.NewEnforcer(policy.DefaultRules())
	require.NoError(t, err)

	metrics := NewMetrics()
	deps := Dependencies{
		Store:   repo,
		Bridge:  driver.NewBridge(registry, 5*time.Second, metrics),
		Policy:  enforcer,
		Locks:   NewVolumeLocks(),
		Metrics: metrics,
		IDGen:   idgen.New(),
	}

	return &TestServices{
		Repo:        repo,
		Driver:      mockDriver,
		Metrics:     metrics,
		Locks:       deps.Locks,
		Attachments: NewAttachmentService(deps, DefaultMaxPendingPerConsumer),
		Volumes:     NewVolumeService(deps, registry),
	}
}

// newVolume 直接在数据库中登记一个属于 ownerActor 项目的卷
func (ts *TestServices) newVolume(t *testing.T, mutate ...func(*model.Volume)) *model.Volume {
	t.Helper()

	id, err := idgen.GenerateVolumeID()
	require.NoError(t, err)
	volume := &model.Volume{
		ID:               id,
		ProjectID:        ownerActor.ProjectID,
		DisplayName:      "data",
		SizeGB:           10,
		Backend:          testBackend,
		ProviderLocation: "default/" + id,
		Status:           entity.VolumeStatusAvailable,
		AttachStatus:     entity.VolumeAttachStatusDetached,
		AdminMetadata:    map[string]string{entity.AdminMetadataReadonly: "false"},
	}
	for _, fn := range mutate {
		fn(volume)
	}
	require.NoError(t, ts.Repo.Volumes().Create(context.Background(), volume))
	return volume
}

// reloadVolume 从数据库读取卷的最新状态
func (ts *TestServices) reloadVolume(t *testing.T, volumeID string) *model.Volume {
	t.Helper()

	volume, err := ts.Repo.Volumes().GetByID(context.Background(), volumeID)
	require.NoError(t, err)
	return volume
}

// liveAttachments 返回卷上未销毁的挂载记录
func (ts *TestServices) liveAttachments(t *testing.T, volumeID string) []*model.VolumeAttachment {
	t.Helper()

	rows, err := ts.Repo.Attachments().ListByVolume(context.Background(), volumeID)
	require.NoError(t, err)
	return rows
}

// allAttachments 返回卷上包括已软删除在内的全部挂载记录
func (ts *TestServices) allAttachments(t *testing.T, volumeID string) []*model.VolumeAttachment {
	t.Helper()

	var rows []*model.VolumeAttachment
	require.NoError(t, ts.Repo.DB().Unscoped().Where("volume_id = ?", volumeID).Find(&rows).Error)
	return rows
}

// touchVolume 模拟其他进程修改卷，只推进版本号
func (ts *TestServices) touchVolume(t *testing.T, volumeID string) {
	t.Helper()

	volume := ts.reloadVolume(t, volumeID)
	require.NoError(t, ts.Repo.Volumes().ConditionalUpdate(context.Background(), volume, volume.Version))
}

// expectInitialize 设置驱动 InitializeConnection 的返回
func (ts *TestServices) expectInitialize(info entity.ConnectionInfo) *mock.Call {
	return ts.Driver.On("InitializeConnection", mock.Anything, mock.Anything, mock.Anything).Return(info, nil)
}

// expectTerminate 设置驱动 TerminateConnection 的返回
func (ts *TestServices) expectTerminate(err error) *mock.Call {
	return ts.Driver.On("TerminateConnection", mock.Anything, mock.Anything, mock.Anything).Return(err)
}

func multiattach(v *model.Volume) { v.Multiattach = true }

func readonly(v *model.Volume) { v.AdminMetadata[entity.AdminMetadataReadonly] = "True" }

func createRequest(volumeID, instanceUUID string, connector entity.Connector) *entity.CreateAttachmentRequest {
	req := &entity.CreateAttachmentRequest{}
	req.Attachment.VolumeUUID = volumeID
	req.Attachment.InstanceUUID = instanceUUID
	req.Attachment.Connector = connector
	return req
}

func nbdInfo(volumeID string) entity.ConnectionInfo {
	return entity.ConnectionInfo{
		"driver_volume_type": "nbd",
		"host":               "10.0.0.1",
		"port":               float64(10809),
		"export_name":        volumeID,
	}
}
