package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/stretchr/testify/mock"
)

// MockAttachmentService 是 AttachmentService 的 mock 实现
type MockAttachmentService struct {
	mock.Mock
}

func (m *MockAttachmentService) Create(ctx context.Context, actor policy.Actor, req *entity.CreateAttachmentRequest) (*entity.VolumeAttachment, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.VolumeAttachment), args.Error(1)
}

func (m *MockAttachmentService) Update(ctx context.Context, actor policy.Actor, attachmentID string, connector entity.Connector) (*entity.VolumeAttachment, error) {
	args := m.Called(ctx, actor, attachmentID, connector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.VolumeAttachment), args.Error(1)
}

func (m *MockAttachmentService) Complete(ctx context.Context, actor policy.Actor, attachmentID string) error {
	return m.Called(ctx, actor, attachmentID).Error(0)
}

func (m *MockAttachmentService) Delete(ctx context.Context, actor policy.Actor, attachmentID string) ([]string, error) {
	args := m.Called(ctx, actor, attachmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAttachmentService) Get(ctx context.Context, actor policy.Actor, attachmentID string) (*entity.VolumeAttachment, error) {
	args := m.Called(ctx, actor, attachmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.VolumeAttachment), args.Error(1)
}

func (m *MockAttachmentService) List(ctx context.Context, actor policy.Actor, req *entity.ListAttachmentsRequest) (*entity.ListAttachmentsResponse, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ListAttachmentsResponse), args.Error(1)
}

func (m *MockAttachmentService) Reserve(ctx context.Context, actor policy.Actor, volumeID string) error {
	return m.Called(ctx, actor, volumeID).Error(0)
}

func (m *MockAttachmentService) Unreserve(ctx context.Context, actor policy.Actor, volumeID string) error {
	return m.Called(ctx, actor, volumeID).Error(0)
}

func (m *MockAttachmentService) Attach(ctx context.Context, actor policy.Actor, volumeID string, params *entity.AttachAction) (*entity.VolumeAttachment, error) {
	args := m.Called(ctx, actor, volumeID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.VolumeAttachment), args.Error(1)
}

func (m *MockAttachmentService) Detach(ctx context.Context, actor policy.Actor, volumeID, attachmentID string) error {
	return m.Called(ctx, actor, volumeID, attachmentID).Error(0)
}

func (m *MockAttachmentService) BeginDetaching(ctx context.Context, actor policy.Actor, volumeID string) error {
	return m.Called(ctx, actor, volumeID).Error(0)
}

func (m *MockAttachmentService) RollDetaching(ctx context.Context, actor policy.Actor, volumeID string) error {
	return m.Called(ctx, actor, volumeID).Error(0)
}

func (m *MockAttachmentService) InitializeConnection(ctx context.Context, actor policy.Actor, volumeID string, connector entity.Connector) (entity.ConnectionInfo, error) {
	args := m.Called(ctx, actor, volumeID, connector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(entity.ConnectionInfo), args.Error(1)
}

func (m *MockAttachmentService) TerminateConnection(ctx context.Context, actor policy.Actor, volumeID string, connector entity.Connector) error {
	return m.Called(ctx, actor, volumeID, connector).Error(0)
}

// MockVolumeService 是 VolumeService 的 mock 实现
type MockVolumeService struct {
	mock.Mock
}

func (m *MockVolumeService) CreateVolume(ctx context.Context, actor policy.Actor, req *entity.CreateVolumeRequest) (*entity.Volume, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Volume), args.Error(1)
}

func (m *MockVolumeService) GetVolume(ctx context.Context, actor policy.Actor, volumeID string) (*entity.Volume, error) {
	args := m.Called(ctx, actor, volumeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Volume), args.Error(1)
}

func (m *MockVolumeService) ListVolumes(ctx context.Context, actor policy.Actor, req *entity.ListVolumesRequest) (*entity.ListVolumesResponse, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ListVolumesResponse), args.Error(1)
}

func (m *MockVolumeService) DeleteVolume(ctx context.Context, actor policy.Actor, volumeID string) error {
	return m.Called(ctx, actor, volumeID).Error(0)
}

func (m *MockVolumeService) UpdateReadonlyFlag(ctx context.Context, actor policy.Actor, volumeID string, readonly bool) error {
	return m.Called(ctx, actor, volumeID, readonly).Error(0)
}

// localAdmin NoAuth 在没有身份头时解析出的主体
var localAdmin = policy.Actor{UserID: "admin", ProjectID: "admin", Roles: []string{policy.RoleAdmin}}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.ContextWithFallback = true
	return engine
}

func doRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}
