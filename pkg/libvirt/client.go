// Package libvirt 封装 go-libvirt，提供卷挂载需要的存储池和存储卷查询
package libvirt

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/digitalocean/go-libvirt"
)

// DefaultURI 默认连接本机的 qemu:///system
const DefaultURI = string(libvirt.QEMUSystem)

// Client libvirt 客户端
type Client struct {
	conn *libvirt.Libvirt
}

var _ LibvirtClient = (*Client)(nil)

// New 连接到默认 URI
func New() (*Client, error) {
	return NewWithURI(DefaultURI)
}

// NewWithURI 连接到指定的 libvirt URI，例如 qemu+ssh://root@node1/system
func NewWithURI(rawURI string) (*Client, error) {
	if rawURI == "" {
		rawURI = DefaultURI
	}
	uri, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", rawURI, err)
	}

	l, err := libvirt.ConnectToURI(uri)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", rawURI, err)
	}
	return &Client{conn: l}, nil
}

// Close 断开连接
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Disconnect()
}

// GetHostname 获取 libvirt 所在节点的主机名
func (c *Client) GetHostname() (string, error) {
	hostname, err := c.conn.ConnectGetHostname()
	if err != nil {
		return "", fmt.Errorf("get hostname: %w", err)
	}
	return hostname, nil
}

// GetLibvirtVersion 获取 libvirt 版本，例如 8.3.0
func (c *Client) GetLibvirtVersion() (string, error) {
	v, err := c.conn.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("get libvirt version: %w", err)
	}
	return formatLibvirtVersion(v), nil
}

// formatLibvirtVersion libvirt 版本号编码为 major * 1000000 + minor * 1000 + micro
func formatLibvirtVersion(version uint64) string {
	major := version / 1000000
	minor := (version % 1000000) / 1000
	micro := version % 1000
	return fmt.Sprintf("%d.%d.%d", major, minor, micro)
}

// IsNotFound 判断错误是否为存储池或存储卷不存在
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var lerr libvirt.Error
	if !errors.As(err, &lerr) {
		return false
	}
	switch lerr.Code {
	case uint32(libvirt.ErrNoStoragePool), uint32(libvirt.ErrNoStorageVol):
		return true
	}
	return false
}

// ErrNotFound 资源不存在，mock 和上层可以直接返回该错误
var ErrNotFound = errors.New("libvirt resource not found")
