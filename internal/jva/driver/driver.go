// Package driver 定义存储后端驱动接口，以及编排层调用驱动的同步桥接
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jimyag/jva/internal/jva/entity"
)

// ErrUnknownBackend 卷的 backend 没有注册驱动
var ErrUnknownBackend = errors.New("unknown backend")

// Driver 存储后端驱动
// 驱动只负责建立和拆除连接，挂载记录和卷状态由编排层维护
type Driver interface {
	Name() string
	InitializeConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) (entity.ConnectionInfo, error)
	TerminateConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) error
}

// Connection 一条已持久化的连接，进程启动时交还给驱动
type Connection struct {
	Volume    *entity.Volume
	Connector entity.Connector
	Info      entity.ConnectionInfo
}

// Restorer 在内存中维护连接引用的驱动实现它，启动时按持久化的连接重建状态
type Restorer interface {
	Restore(ctx context.Context, connections []Connection) error
}

// Registry 按 backend 名称索引的驱动表
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry 创建驱动表
func NewRegistry(drivers ...Driver) (*Registry, error) {
	r := &Registry{drivers: make(map[string]Driver, len(drivers))}
	for _, d := range drivers {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册驱动，名称重复时返回错误
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[d.Name()]; ok {
		return fmt.Errorf("backend %q already registered", d.Name())
	}
	r.drivers[d.Name()] = d
	return nil
}

// Get 根据 backend 名称获取驱动
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return d, nil
}

// Names 返回已注册的 backend 名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// accessMode 计算连接的访问模式：connector 显式指定时使用指定值，否则按卷的只读属性
func accessMode(volume *entity.Volume, connector entity.Connector) string {
	if mode := connector.Mode(); mode != "" {
		return mode
	}
	if volume.IsReadonly() {
		return entity.AttachModeRO
	}
	return entity.AttachModeRW
}

// holderOf 返回 connector 标识的使用方路径
func holderOf(connector entity.Connector) string {
	for _, key := range []string{"host", "initiator", "nqn"} {
		if v, ok := connector[key].(string); ok && v != "" {
			return key + ":" + v
		}
	}
	return ""
}

// splitLocation 拆分 pool/volume 形式的 provider_location
func splitLocation(location string) (string, string, error) {
	pool, name, ok := strings.Cut(location, "/")
	if !ok || pool == "" || name == "" {
		return "", "", fmt.Errorf("invalid provider location %q, expect pool/volume", location)
	}
	return pool, name, nil
}

// runWithContext 在 goroutine 中执行不支持 context 的阻塞调用，ctx 结束时立即返回
func runWithContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
