package driver

import (
	"context"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/stretchr/testify/mock"
)

// MockDriver 是 Driver 的 mock 实现，用于测试编排层
type MockDriver struct {
	mock.Mock
	BackendName string
}

var _ Driver = (*MockDriver)(nil)

// NewMockDriver 创建指定 backend 名称的 mock 驱动
func NewMockDriver(name string) *MockDriver {
	return &MockDriver{BackendName: name}
}

func (m *MockDriver) Name() string {
	return m.BackendName
}

func (m *MockDriver) InitializeConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) (entity.ConnectionInfo, error) {
	args := m.Called(ctx, volume, connector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(entity.ConnectionInfo), args.Error(1)
}

func (m *MockDriver) TerminateConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) error {
	args := m.Called(ctx, volume, connector)
	return args.Error(0)
}
