package driver

import (
	"context"
	"fmt"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/pkg/libvirt"
	"github.com/rs/zerolog"
)

// LibvirtDriver 使用 libvirt 存储池中的卷，使用方直接以文件或块设备路径访问
// provider_location 格式为 pool/volume
type LibvirtDriver struct {
	name   string
	client libvirt.LibvirtClient
}

var _ Driver = (*LibvirtDriver)(nil)

// NewLibvirtDriver 创建 libvirt 驱动
func NewLibvirtDriver(name string, client libvirt.LibvirtClient) *LibvirtDriver {
	if name == "" {
		name = "libvirt"
	}
	return &LibvirtDriver{name: name, client: client}
}

// Name 实现 Driver
func (d *LibvirtDriver) Name() string {
	return d.name
}

// InitializeConnection 查找卷路径并返回文件类型的连接信息
func (d *LibvirtDriver) InitializeConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) (entity.ConnectionInfo, error) {
	info, err := d.lookup(ctx, volume)
	if err != nil {
		return nil, err
	}

	connInfo := entity.ConnectionInfo{
		"driver_volume_type": "file",
		"device_path":        info.Path,
		"format":             info.Format,
		"access_mode":        accessMode(volume, connector),
		"volume_id":          volume.ID,
	}

	var hostname string
	if err := runWithContext(ctx, func() error {
		var err error
		hostname, err = d.client.GetHostname()
		return err
	}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("volumeID", volume.ID).Msg("Failed to get libvirt hostname")
	} else {
		connInfo["host"] = hostname
	}
	return connInfo, nil
}

// TerminateConnection 文件类型的连接没有需要拆除的导出，只确认卷仍然存在
func (d *LibvirtDriver) TerminateConnection(ctx context.Context, volume *entity.Volume, _ entity.Connector) error {
	_, err := d.lookup(ctx, volume)
	if err != nil && libvirt.IsNotFound(err) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("volumeID", volume.ID).Msg("Volume already gone from storage pool")
		return nil
	}
	return err
}

// lookup 查找卷，找不到时刷新存储池后重试一次
func (d *LibvirtDriver) lookup(ctx context.Context, volume *entity.Volume) (*libvirt.VolumeInfo, error) {
	pool, name, err := splitLocation(volume.ProviderLocation)
	if err != nil {
		return nil, err
	}

	var info *libvirt.VolumeInfo
	get := func() error {
		var err error
		info, err = d.client.GetVolume(pool, name)
		return err
	}

	err = runWithContext(ctx, get)
	if err != nil && libvirt.IsNotFound(err) {
		if perr := d.checkPool(ctx, pool); perr != nil {
			return nil, perr
		}
		if rerr := runWithContext(ctx, func() error { return d.client.RefreshStoragePool(pool) }); rerr != nil {
			return nil, fmt.Errorf("refresh storage pool %s: %w", pool, rerr)
		}
		err = runWithContext(ctx, get)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup volume %s: %w", volume.ProviderLocation, err)
	}
	return info, nil
}

// checkPool 存储池必须处于 Active 状态才能刷新
func (d *LibvirtDriver) checkPool(ctx context.Context, pool string) error {
	var info *libvirt.StoragePoolInfo
	if err := runWithContext(ctx, func() error {
		var err error
		info, err = d.client.GetStoragePool(pool)
		return err
	}); err != nil {
		return fmt.Errorf("get storage pool %s: %w", pool, err)
	}
	if info.State != libvirt.StoragePoolStateActive {
		return fmt.Errorf("storage pool %s is %s", pool, info.State)
	}
	return nil
}

// Version 返回 libvirt 版本，启动时用于确认连接可用
func (d *LibvirtDriver) Version(ctx context.Context) (string, error) {
	var version string
	err := runWithContext(ctx, func() error {
		var err error
		version, err = d.client.GetLibvirtVersion()
		return err
	})
	return version, err
}
