package libvirt

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// StoragePoolInfo 存储池信息
type StoragePoolInfo struct {
	Name        string
	State       string
	CapacityB   uint64
	AllocationB uint64
	AvailableB  uint64
	Path        string
}

// VolumeInfo 存储卷信息
type VolumeInfo struct {
	Name        string
	Pool        string
	Path        string
	CapacityB   uint64
	AllocationB uint64
	Format      string
}

// poolXML 存储池 XML 中用到的字段
// Reference: https://libvirt.org/formatstorage.html
type poolXML struct {
	XMLName xml.Name `xml:"pool"`
	Name    string   `xml:"name"`
	Target  struct {
		Path string `xml:"path"`
	} `xml:"target"`
}

// volumeXML 存储卷 XML 中用到的字段
// Reference: https://libvirt.org/formatstorage.html#StorageVol
type volumeXML struct {
	XMLName xml.Name `xml:"volume"`
	Name    string   `xml:"name"`
	Target  struct {
		Path   string `xml:"path"`
		Format struct {
			Type string `xml:"type,attr"`
		} `xml:"format"`
	} `xml:"target"`
}

// StoragePoolStateActive 运行中的存储池状态
const StoragePoolStateActive = "Active"

// mapStoragePoolState 将 libvirt 的 pool 状态转换为字符串
func mapStoragePoolState(s uint8) string {
	switch libvirt.StoragePoolState(s) {
	case libvirt.StoragePoolInactive:
		return "Inactive"
	case libvirt.StoragePoolBuilding:
		return "Building"
	case libvirt.StoragePoolRunning:
		return StoragePoolStateActive
	case libvirt.StoragePoolDegraded:
		return "Degraded"
	case libvirt.StoragePoolInaccessible:
		return "Inaccessible"
	default:
		return "Unknown"
	}
}

// GetStoragePool 获取存储池信息
func (c *Client) GetStoragePool(poolName string) (*StoragePoolInfo, error) {
	pool, err := c.conn.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("lookup storage pool %s: %w", poolName, err)
	}

	state, capacity, allocation, available, err := c.conn.StoragePoolGetInfo(pool)
	if err != nil {
		return nil, fmt.Errorf("get pool info: %w", err)
	}

	desc, err := c.conn.StoragePoolGetXMLDesc(pool, 0)
	if err != nil {
		return nil, fmt.Errorf("get pool XML: %w", err)
	}
	var px poolXML
	if err := xml.Unmarshal([]byte(desc), &px); err != nil {
		return nil, fmt.Errorf("parse pool XML: %w", err)
	}

	return &StoragePoolInfo{
		Name:        poolName,
		State:       mapStoragePoolState(state),
		CapacityB:   capacity,
		AllocationB: allocation,
		AvailableB:  available,
		Path:        px.Target.Path,
	}, nil
}

// GetVolume 获取存储卷信息
func (c *Client) GetVolume(poolName, volumeName string) (*VolumeInfo, error) {
	pool, err := c.conn.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("lookup storage pool %s: %w", poolName, err)
	}

	vol, err := c.conn.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return nil, fmt.Errorf("lookup volume %s/%s: %w", poolName, volumeName, err)
	}

	path, err := c.conn.StorageVolGetPath(vol)
	if err != nil {
		return nil, fmt.Errorf("get volume path: %w", err)
	}

	_, capacity, allocation, err := c.conn.StorageVolGetInfo(vol)
	if err != nil {
		return nil, fmt.Errorf("get volume info: %w", err)
	}

	desc, err := c.conn.StorageVolGetXMLDesc(vol, 0)
	if err != nil {
		return nil, fmt.Errorf("get volume XML: %w", err)
	}
	format, err := parseVolumeFormat(desc)
	if err != nil {
		return nil, err
	}

	return &VolumeInfo{
		Name:        volumeName,
		Pool:        poolName,
		Path:        path,
		CapacityB:   capacity,
		AllocationB: allocation,
		Format:      format,
	}, nil
}

// RefreshStoragePool 刷新存储池，使外部创建的卷可见
func (c *Client) RefreshStoragePool(poolName string) error {
	pool, err := c.conn.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("lookup storage pool %s: %w", poolName, err)
	}

	if err := c.conn.StoragePoolRefresh(pool, 0); err != nil {
		return fmt.Errorf("refresh storage pool %s: %w", poolName, err)
	}
	return nil
}

// parseVolumeFormat 从 volume XML 中解析磁盘格式，没有 format 时返回 raw
func parseVolumeFormat(desc string) (string, error) {
	var vx volumeXML
	if err := xml.Unmarshal([]byte(desc), &vx); err != nil {
		return "", fmt.Errorf("parse volume XML: %w", err)
	}
	if vx.Target.Format.Type == "" {
		return "raw", nil
	}
	return vx.Target.Format.Type, nil
}
