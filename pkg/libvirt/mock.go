package libvirt

import (
	"github.com/stretchr/testify/mock"
)

// MockClient 是 LibvirtClient 的 mock 实现
// 用于测试，不需要真实的 libvirt 连接
type MockClient struct {
	mock.Mock
}

var _ LibvirtClient = (*MockClient)(nil)

func (m *MockClient) GetHostname() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockClient) GetLibvirtVersion() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockClient) GetStoragePool(poolName string) (*StoragePoolInfo, error) {
	args := m.Called(poolName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoragePoolInfo), args.Error(1)
}

func (m *MockClient) GetVolume(poolName, volumeName string) (*VolumeInfo, error) {
	args := m.Called(poolName, volumeName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VolumeInfo), args.Error(1)
}

func (m *MockClient) RefreshStoragePool(poolName string) error {
	args := m.Called(poolName)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}
