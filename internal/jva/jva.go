// Package jva 提供 JVA 服务器的主入口和初始化逻辑
package jva

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jimmicro/grace"
	"github.com/jimyag/jva/internal/jva/api"
	"github.com/jimyag/jva/internal/jva/config"
	"github.com/jimyag/jva/internal/jva/driver"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/internal/jva/repository"
	"github.com/jimyag/jva/internal/jva/service"
	"github.com/jimyag/jva/pkg/idgen"
	"github.com/jimyag/jva/pkg/libvirt"
	"github.com/jimyag/jva/pkg/nbdexport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg  *config.Config
	api  *api.API
	repo *repository.Repository
	// closers 后端连接，退出时关闭
	closers []io.Closer
}

func New(cfg *config.Config) (*Server, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	s := &Server{cfg: cfg}
	if err := s.init(); err != nil {
		if closeErr := s.close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("Failed to release resources")
		}
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	logger := zerolog.DefaultContextLogger

	// 1. 打开数据库
	repo, err := repository.New(s.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	s.repo = repo
	logger.Info().Str("path", s.cfg.DBPath).Msg("Repository opened")

	// 2. 连接存储后端
	drivers, err := s.newDrivers()
	if err != nil {
		return err
	}
	registry, err := driver.NewRegistry(drivers...)
	if err != nil {
		return fmt.Errorf("create driver registry: %w", err)
	}

	// 3. 指标
	metrics := service.NewMetrics()
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. 策略与认证
	enforcer, err := newEnforcer(s.cfg)
	if err != nil {
		return err
	}
	authenticator, err := newAuthenticator(s.cfg)
	if err != nil {
		return err
	}

	// 5. 服务，两个服务共享同一组卷锁
	bridge := driver.NewBridge(registry, s.cfg.DriverTimeout, metrics)
	deps := service.Dependencies{
		Store:   repo,
		Bridge:  bridge,
		Policy:  enforcer,
		Locks:   service.NewVolumeLocks(),
		Metrics: metrics,
		IDGen:   idgen.New(),
	}
	attachmentService := service.NewAttachmentService(deps, s.cfg.Attachment.MaxPendingPerConsumer)
	volumeService := service.NewVolumeService(deps, registry)

	// 6. 重启后按持久化的挂载恢复驱动内存中的共享连接引用
	restoreCtx := logger.WithContext(context.Background())
	if _, err := attachmentService.RestoreConnections(restoreCtx, bridge); err != nil {
		return fmt.Errorf("restore backend connections: %w", err)
	}

	// 7. API
	s.api, err = api.New(api.Options{
		Address:       s.cfg.Address,
		Authenticator: authenticator,
		Gatherer:      promRegistry,
	}, attachmentService, volumeService)
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}

	logger.Info().
		Str("address", s.cfg.Address).
		Strs("backends", registry.Names()).
		Str("auth", s.cfg.Auth.Strategy).
		Msg("Server initialized")
	return nil
}

// newDrivers 按配置创建后端驱动
func (s *Server) newDrivers() ([]driver.Driver, error) {
	drivers := make([]driver.Driver, 0, len(s.cfg.Backends))
	for _, b := range s.cfg.Backends {
		switch b.Type {
		case config.BackendLibvirt:
			client, err := libvirt.NewWithURI(b.URI)
			if err != nil {
				return nil, fmt.Errorf("backend %s: connect libvirt %s: %w", b.Name, b.URI, err)
			}
			s.closers = append(s.closers, client)
			d := driver.NewLibvirtDriver(b.Name, client)
			version, err := d.Version(context.Background())
			if err != nil {
				return nil, fmt.Errorf("backend %s: get libvirt version: %w", b.Name, err)
			}
			zerolog.DefaultContextLogger.Info().
				Str("backend", b.Name).
				Str("version", version).
				Msg("Libvirt version")
			drivers = append(drivers, d)
		case config.BackendNBD:
			exporter, err := nbdexport.New(nbdexport.Config{
				Network:       b.QMPNetwork,
				Address:       b.QMPSocket,
				Timeout:       s.cfg.DriverTimeout,
				ListenHost:    b.ListenHost,
				ListenPort:    b.ListenPort,
				AdvertiseHost: b.AdvertiseHost,
			})
			if err != nil {
				return nil, fmt.Errorf("backend %s: %w", b.Name, err)
			}
			s.closers = append(s.closers, exporter)
			drivers = append(drivers, driver.NewNBDDriver(b.Name, exporter))
		default:
			return nil, fmt.Errorf("backend %s: unsupported type %q", b.Name, b.Type)
		}
		zerolog.DefaultContextLogger.Info().
			Str("backend", b.Name).
			Str("type", b.Type).
			Msg("Backend connected")
	}
	return drivers, nil
}

// newEnforcer 配置了策略文件时从文件加载规则，否则使用默认规则
func newEnforcer(cfg *config.Config) (*policy.Enforcer, error) {
	if cfg.PolicyFile != "" {
		enforcer, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
		return enforcer, nil
	}
	return policy.NewEnforcer(policy.DefaultRules())
}

func newAuthenticator(cfg *config.Config) (policy.Authenticator, error) {
	switch cfg.Auth.Strategy {
	case config.AuthNoAuth:
		return policy.NoAuth{}, nil
	case config.AuthToken:
		auth, err := policy.NewTokenAuth(cfg.Auth.Tokens)
		if err != nil {
			return nil, fmt.Errorf("create token authenticator: %w", err)
		}
		return auth, nil
	}
	return nil, fmt.Errorf("unsupported auth strategy %q", cfg.Auth.Strategy)
}

func (s *Server) Run(ctx context.Context) error {
	// 使用 grace.Shepherd 管理服务生命周期
	services := []grace.Grace{
		s.api,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return s.close()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.api.Shutdown(ctx)
	return errors.Join(err, s.close())
}

// close 关闭数据库和后端连接
func (s *Server) close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, err)
		}
		s.repo = nil
	}
	return errors.Join(errs...)
}

// Name 实现 grace.Grace 接口
func (s *Server) Name() string {
	return "JVA Server"
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
