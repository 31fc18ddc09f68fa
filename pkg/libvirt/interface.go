package libvirt

// LibvirtClient 定义 libvirt 客户端接口
// 用于抽象 libvirt 操作，便于测试和 mock
type LibvirtClient interface {
	// 连接信息
	GetHostname() (string, error)
	GetLibvirtVersion() (string, error)

	// Storage 操作
	GetStoragePool(poolName string) (*StoragePoolInfo, error)
	GetVolume(poolName, volumeName string) (*VolumeInfo, error)
	RefreshStoragePool(poolName string) error

	Close() error
}
