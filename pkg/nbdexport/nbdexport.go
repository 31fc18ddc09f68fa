// Package nbdexport 通过 QMP 管理 qemu-storage-daemon 上的 NBD 导出
//
// 同一个块设备节点被多个使用方共享时只创建一个导出，
// 最后一个使用方释放后才删除导出。引用只保存在内存中，
// 进程重启后由调用方通过 Restore 按持久化的连接重建。
package nbdexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
)

// DefaultPort NBD 协议默认端口
const DefaultPort = 10809

// Monitor QMP 连接的最小接口，*qmp.SocketMonitor 实现了它
type Monitor interface {
	Connect() error
	Disconnect() error
	Run(command []byte) ([]byte, error)
}

// Config 导出器配置
type Config struct {
	// Network 和 Address 指定 QMP 监听地址，例如 unix:/run/qsd/qmp.sock
	Network string
	Address string
	Timeout time.Duration
	// ListenHost/ListenPort 为 nbd-server-start 的监听地址
	ListenHost string
	ListenPort int
	// AdvertiseHost 返回给使用方的地址，为空时使用 ListenHost
	AdvertiseHost string
}

// Export 一个 NBD 导出
type Export struct {
	Name     string
	NodeName string
	Host     string
	Port     int
	Writable bool
}

// ErrReadOnlyExport 只读导出上请求可写访问
var ErrReadOnlyExport = errors.New("nbd export is read-only")

// Holding 一个使用方对导出的持有，用于重启后恢复引用
type Holding struct {
	NodeName string
	Holder   string
	Writable bool
}

// Error QMP 返回的错误
type Error struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("qmp %s: %s", e.Class, e.Desc)
}

type response struct {
	Return json.RawMessage `json:"return"`
	Error  *Error          `json:"error"`
}

// Exporter NBD 导出管理器
type Exporter struct {
	mu            sync.Mutex
	monitor       Monitor
	cfg           Config
	serverStarted bool
	exports       map[string]*exportRef
}

type exportRef struct {
	export  Export
	holders map[string]struct{}
}

// blockExportInfo query-block-exports 返回的一项
type blockExportInfo struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	NodeName     string `json:"node-name"`
	ShuttingDown bool   `json:"shutting-down"`
}

// New 连接 QMP 并创建导出器
func New(cfg Config) (*Exporter, error) {
	if cfg.Network == "" {
		cfg.Network = "unix"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	m, err := qmp.NewSocketMonitor(cfg.Network, cfg.Address, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("create qmp monitor %s:%s: %w", cfg.Network, cfg.Address, err)
	}
	if err := m.Connect(); err != nil {
		return nil, fmt.Errorf("connect qmp monitor: %w", err)
	}
	return NewWithMonitor(m, cfg), nil
}

// NewWithMonitor 使用已连接的 Monitor 创建导出器
func NewWithMonitor(m Monitor, cfg Config) *Exporter {
	if cfg.ListenHost == "" {
		cfg.ListenHost = "0.0.0.0"
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = DefaultPort
	}
	if cfg.AdvertiseHost == "" {
		cfg.AdvertiseHost = cfg.ListenHost
	}
	return &Exporter{
		monitor: m,
		cfg:     cfg,
		exports: make(map[string]*exportRef),
	}
}

// Add 为块设备节点创建 NBD 导出并登记 holder，导出已存在时只登记 holder
// 同一个 holder 重复登记不会增加引用；只读导出上请求可写访问返回 ErrReadOnlyExport
func (e *Exporter) Add(ctx context.Context, nodeName, holder string, writable bool) (*Export, error) {
	if nodeName == "" {
		return nil, errors.New("node name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ref, ok := e.exports[nodeName]; ok {
		if writable && !ref.export.Writable {
			return nil, fmt.Errorf("add nbd export %s: %w", nodeName, ErrReadOnlyExport)
		}
		ref.holders[holder] = struct{}{}
		export := ref.export
		return &export, nil
	}

	if err := e.ensureServer(ctx); err != nil {
		return nil, err
	}

	if _, err := e.run(ctx, "block-export-add", map[string]any{
		"type":      "nbd",
		"id":        nodeName,
		"node-name": nodeName,
		"name":      nodeName,
		"writable":  writable,
	}); err != nil {
		// daemon 上已有同名导出但没有登记，说明它在本进程之外创建，直接接管
		if !isInUse(err) {
			return nil, fmt.Errorf("add nbd export %s: %w", nodeName, err)
		}
	}

	ref := e.track(nodeName, writable)
	ref.holders[holder] = struct{}{}
	export := ref.export
	return &export, nil
}

// Restore 按持久化的 holder 重建引用，只登记 daemon 上仍然存在的导出
// 返回恢复的 holder 数；导出的可写属性取所有 holder 的并集
func (e *Exporter) Restore(ctx context.Context, holdings []Holding) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.run(ctx, "query-block-exports", nil)
	if err != nil {
		return 0, fmt.Errorf("query nbd exports: %w", err)
	}
	var live []blockExportInfo
	if err := json.Unmarshal(raw, &live); err != nil {
		return 0, fmt.Errorf("decode query-block-exports: %w", err)
	}

	present := make(map[string]bool, len(live))
	for _, info := range live {
		if info.Type == "nbd" && !info.ShuttingDown {
			present[info.ID] = true
		}
	}
	// 有导出存在说明 NBD server 已经在运行
	if len(present) > 0 {
		e.serverStarted = true
	}

	restored := 0
	for _, h := range holdings {
		if !present[h.NodeName] {
			continue
		}
		ref := e.track(h.NodeName, h.Writable)
		if h.Writable {
			ref.export.Writable = true
		}
		ref.holders[h.Holder] = struct{}{}
		restored++
	}
	return restored, nil
}

// track 返回节点的引用记录，不存在时创建
func (e *Exporter) track(nodeName string, writable bool) *exportRef {
	if ref, ok := e.exports[nodeName]; ok {
		return ref
	}
	ref := &exportRef{
		export: Export{
			Name:     nodeName,
			NodeName: nodeName,
			Host:     e.cfg.AdvertiseHost,
			Port:     e.cfg.ListenPort,
			Writable: writable,
		},
		holders: make(map[string]struct{}),
	}
	e.exports[nodeName] = ref
	return ref
}

// Remove 注销 holder，返回剩余 holder 数；没有 holder 时删除导出
// 对未记录的导出直接发送删除命令，导出不存在视为成功
func (e *Exporter) Remove(ctx context.Context, nodeName, holder string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref, ok := e.exports[nodeName]
	if ok {
		delete(ref.holders, holder)
		if len(ref.holders) > 0 {
			return len(ref.holders), nil
		}
	}

	if _, err := e.run(ctx, "block-export-del", map[string]any{"id": nodeName}); err != nil {
		if ok || !isNotFound(err) {
			return 0, fmt.Errorf("delete nbd export %s: %w", nodeName, err)
		}
	}
	delete(e.exports, nodeName)
	return 0, nil
}

// Refs 返回导出的当前 holder 数
func (e *Exporter) Refs(nodeName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ref, ok := e.exports[nodeName]; ok {
		return len(ref.holders)
	}
	return 0
}

// Close 断开 QMP 连接，不删除已有导出
func (e *Exporter) Close() error {
	return e.monitor.Disconnect()
}

func (e *Exporter) ensureServer(ctx context.Context) error {
	if e.serverStarted {
		return nil
	}
	_, err := e.run(ctx, "nbd-server-start", map[string]any{
		"addr": map[string]any{
			"type": "inet",
			"data": map[string]any{
				"host": e.cfg.ListenHost,
				"port": fmt.Sprintf("%d", e.cfg.ListenPort),
			},
		},
	})
	// 进程外已经启动过 NBD server 时 QMP 返回 already running
	if err != nil && !strings.Contains(err.Error(), "already running") {
		return fmt.Errorf("start nbd server: %w", err)
	}
	e.serverStarted = true
	return nil
}

// run 执行一条 QMP 命令，ctx 取消时立即返回，命令本身仍会在后台完成
func (e *Exporter) run(ctx context.Context, execute string, args any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd, err := json.Marshal(qmp.Command{Execute: execute, Args: args})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", execute, err)
	}

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := e.monitor.Run(cmd)
		done <- result{raw: raw, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, res.err
	}

	var resp response
	if err := json.Unmarshal(res.raw, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", execute, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Return, nil
}

func isNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// isInUse 匹配 block-export-add 的 "Block export id '...' is already in use"
func isInUse(err error) bool {
	var qerr *Error
	return errors.As(err, &qerr) && strings.Contains(qerr.Desc, "already in use")
}
