package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimyag/jva/internal/jva/entity"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/rs/zerolog"
)

// 驱动调用名称，用于日志和指标
const (
	OpInitializeConnection = "initialize_connection"
	OpTerminateConnection  = "terminate_connection"
)

// Recorder 记录驱动调用的耗时和结果
type Recorder interface {
	ObserveDriverCall(backend, operation string, duration time.Duration, err error)
}

// Bridge 编排层到后端驱动的同步调用桥
// 负责查找驱动、施加超时、记录日志和指标，并把驱动错误映射为 ConnectorNegotiationFailed
// 失败不会重试，由调用方决定是否重新发起
type Bridge struct {
	registry *Registry
	timeout  time.Duration
	recorder Recorder
}

// NewBridge 创建驱动桥，timeout 为 0 表示只受调用方 ctx 约束
func NewBridge(registry *Registry, timeout time.Duration, recorder Recorder) *Bridge {
	return &Bridge{
		registry: registry,
		timeout:  timeout,
		recorder: recorder,
	}
}

// InitializeConnection 调用卷所属后端的 InitializeConnection
func (b *Bridge) InitializeConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) (entity.ConnectionInfo, error) {
	var info entity.ConnectionInfo
	err := b.call(ctx, volume, OpInitializeConnection, func(ctx context.Context, d Driver) error {
		var err error
		info, err = d.InitializeConnection(ctx, volume, connector)
		return err
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		info = entity.ConnectionInfo{}
	}
	return info, nil
}

// TerminateConnection 调用卷所属后端的 TerminateConnection
func (b *Bridge) TerminateConnection(ctx context.Context, volume *entity.Volume, connector entity.Connector) error {
	return b.call(ctx, volume, OpTerminateConnection, func(ctx context.Context, d Driver) error {
		return d.TerminateConnection(ctx, volume, connector)
	})
}

// Restore 按 backend 分组把持久化的连接交给实现了 Restorer 的驱动
// 没有注册驱动的 backend 只记录日志，其余 backend 的错误合并返回
func (b *Bridge) Restore(ctx context.Context, connections []Connection) error {
	logger := zerolog.Ctx(ctx)
	byBackend := make(map[string][]Connection)
	for _, c := range connections {
		byBackend[c.Volume.Backend] = append(byBackend[c.Volume.Backend], c)
	}

	var errs []error
	for backend, conns := range byBackend {
		d, err := b.registry.Get(backend)
		if err != nil {
			logger.Warn().Err(err).Str("backend", backend).Int("connections", len(conns)).
				Msg("Skipping connections of unregistered backend")
			continue
		}
		restorer, ok := d.(Restorer)
		if !ok {
			continue
		}
		if err := restorer.Restore(ctx, conns); err != nil {
			errs = append(errs, fmt.Errorf("backend %s: %w", backend, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) call(ctx context.Context, volume *entity.Volume, op string, fn func(context.Context, Driver) error) error {
	logger := zerolog.Ctx(ctx).With().
		Str("volumeID", volume.ID).
		Str("backend", volume.Backend).
		Str("operation", op).
		Logger()

	d, err := b.registry.Get(volume.Backend)
	if err != nil {
		logger.Error().Err(err).Msg("No driver for volume backend")
		return apierror.WrapError(apierror.ErrConnectorNegotiationFailed,
			fmt.Sprintf("no driver registered for backend %q", volume.Backend), err)
	}

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	err = fn(callCtx, d)
	duration := time.Since(start)
	if b.recorder != nil {
		b.recorder.ObserveDriverCall(d.Name(), op, duration, err)
	}

	if err != nil {
		msg := fmt.Sprintf("%s on backend %s failed", op, d.Name())
		switch {
		case errors.Is(err, context.Canceled):
			msg = fmt.Sprintf("%s on backend %s was canceled", op, d.Name())
		case errors.Is(err, context.DeadlineExceeded):
			msg = fmt.Sprintf("%s on backend %s timed out", op, d.Name())
		}
		logger.Error().Err(err).Dur("duration", duration).Msg("Driver call failed")
		return apierror.WrapError(apierror.ErrConnectorNegotiationFailed, msg, err)
	}

	logger.Debug().Dur("duration", duration).Msg("Driver call succeeded")
	return nil
}
