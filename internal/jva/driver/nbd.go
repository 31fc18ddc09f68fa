package driver

import (
	"context"
	"fmt"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/pkg/nbdexport"
	"github.com/rs/zerolog"
)

// Exporter NBD 导出管理，*nbdexport.Exporter 实现了它
type Exporter interface {
	Add(ctx context.Context, nodeName, holder string, writable bool) (*nbdexport.Export, error)
	Remove(ctx context.Context, nodeName, holder string) (int, error)
	Restore(ctx context.Context, holdings []nbdexport.Holding) (int, error)
}

// NBDDriver 将 qemu-storage-daemon 的块设备节点导出为 NBD
// provider_location 为块设备节点名，多个使用方共享同一个导出
type NBDDriver struct {
	name     string
	exporter Exporter
}

var (
	_ Driver   = (*NBDDriver)(nil)
	_ Restorer = (*NBDDriver)(nil)
)

// NewNBDDriver 创建 NBD 驱动
func NewNBDDriver(name string, exporter Exporter) *NBDDriver {
	if name == "" {
		name = "nbd"
	}
	return &NBDDriver{name: name, exporter: exporter}
}

// Name 实现 Driver
func (d *NBDDriver) Name() string {
	return d.name
}

// InitializeConnection 确保导出存在并登记该使用方
func (d *NBDDriver) InitializeConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) (entity.ConnectionInfo, error) {
	if volume.ProviderLocation == "" {
		return nil, fmt.Errorf("volume %s has no block node", volume.ID)
	}
	mode := accessMode(volume, connector)

	export, err := d.exporter.Add(ctx, volume.ProviderLocation, holderOf(connector), mode == entity.AttachModeRW)
	if err != nil {
		return nil, err
	}

	// 共享导出已经是可写时只读使用方仍报告 ro
	if !export.Writable {
		mode = entity.AttachModeRO
	}
	return entity.ConnectionInfo{
		"driver_volume_type": "nbd",
		"host":               export.Host,
		"port":               export.Port,
		"export_name":        export.Name,
		"access_mode":        mode,
	}, nil
}

// TerminateConnection 注销使用方，最后一个使用方离开时删除导出
func (d *NBDDriver) TerminateConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) error {
	remaining, err := d.exporter.Remove(ctx, volume.ProviderLocation, holderOf(connector))
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().
		Str("volumeID", volume.ID).
		Str("export", volume.ProviderLocation).
		Int("remaining", remaining).
		Msg("Released nbd export")
	return nil
}

// Restore 把持久化的 nbd 连接交还给导出器，重建共享导出的引用
func (d *NBDDriver) Restore(ctx context.Context, connections []Connection) error {
	holdings := make([]nbdexport.Holding, 0, len(connections))
	for _, c := range connections {
		if c.Info["driver_volume_type"] != "nbd" || c.Volume.ProviderLocation == "" {
			continue
		}
		holdings = append(holdings, nbdexport.Holding{
			NodeName: c.Volume.ProviderLocation,
			Holder:   holderOf(c.Connector),
			Writable: c.Info["access_mode"] == entity.AttachModeRW,
		})
	}
	restored, err := d.exporter.Restore(ctx, holdings)
	if err != nil {
		return fmt.Errorf("restore nbd exports: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("backend", d.name).
		Int("connections", len(holdings)).
		Int("restored", restored).
		Msg("Restored nbd export holders")
	return nil
}
