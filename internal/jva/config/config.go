// Package config 加载 JVA 配置
// 优先级：默认值 < YAML 配置文件（JVA_CONFIG）< 环境变量
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// 后端类型
const (
	BackendLibvirt = "libvirt"
	BackendNBD     = "nbd"
)

// 认证方式
const (
	AuthNoAuth = "noauth"
	AuthToken  = "token"
)

// DefaultMaxPendingPerConsumer 同一使用方在同一个卷上允许的未协商预留数
const DefaultMaxPendingPerConsumer = 4

type Config struct {
	// Address 是 API 监听地址，环境变量 JVA_ADDRESS
	Address string `yaml:"address"`

	// DataDir 是 JVA 数据目录，环境变量 JVA_DATA_DIR
	// 默认：~/.local/share/jva
	DataDir string `yaml:"data_dir"`

	// DBPath 是 SQLite 数据库路径，环境变量 JVA_DB_PATH
	// 默认：{DataDir}/jva.db
	DBPath string `yaml:"db_path"`

	// LogLevel 日志级别，环境变量 JVA_LOG_LEVEL
	LogLevel string `yaml:"log_level"`

	// DriverTimeout 单次后端驱动调用的超时时间
	DriverTimeout time.Duration `yaml:"driver_timeout"`

	Attachment AttachmentConfig `yaml:"attachment"`
	Backends   []BackendConfig  `yaml:"backends"`
	Auth       AuthConfig       `yaml:"auth"`

	// PolicyFile 授权规则文件，为空时使用内置规则，环境变量 JVA_POLICY_FILE
	PolicyFile string `yaml:"policy_file"`
}

// AttachmentConfig 挂载编排配置
type AttachmentConfig struct {
	// MaxPendingPerConsumer 同一使用方在同一个卷上的重复预留上限，0 表示不限制
	MaxPendingPerConsumer int `yaml:"max_pending_per_consumer"`
}

// BackendConfig 存储后端配置
type BackendConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// libvirt
	URI string `yaml:"uri"`

	// nbd：qemu-storage-daemon 的 QMP socket 和 NBD 监听地址
	QMPNetwork    string `yaml:"qmp_network"`
	QMPSocket     string `yaml:"qmp_socket"`
	ListenHost    string `yaml:"listen_host"`
	ListenPort    int    `yaml:"listen_port"`
	AdvertiseHost string `yaml:"advertise_host"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	Strategy string         `yaml:"strategy"`
	Tokens   []policy.Token `yaml:"tokens"`
}

// New 按默认值、JVA_CONFIG 指定的配置文件、环境变量的顺序加载配置
func New() (*Config, error) {
	return Load(os.Getenv("JVA_CONFIG"))
}

// Load 加载配置，path 为空时不读取配置文件
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Address:       "0.0.0.0:7788",
		DataDir:       getDataDir(),
		LogLevel:      zerolog.InfoLevel.String(),
		DriverTimeout: 60 * time.Second,
		Attachment: AttachmentConfig{
			MaxPendingPerConsumer: DefaultMaxPendingPerConsumer,
		},
		Backends: []BackendConfig{
			{Name: BackendLibvirt, Type: BackendLibvirt},
		},
		Auth: AuthConfig{Strategy: AuthNoAuth},
	}
}

// applyEnv 使用环境变量覆盖配置
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"JVA_ADDRESS":     &c.Address,
		"JVA_DATA_DIR":    &c.DataDir,
		"JVA_DB_PATH":     &c.DBPath,
		"JVA_LOG_LEVEL":   &c.LogLevel,
		"JVA_POLICY_FILE": &c.PolicyFile,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

// fillDerived 填充依赖其他字段的默认值
func (c *Config) fillDerived() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "jva.db")
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Type == BackendLibvirt && b.URI == "" {
			b.URI = getLibvirtURI()
		}
		if b.Type == BackendNBD && b.QMPNetwork == "" {
			b.QMPNetwork = "unix"
		}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if c.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.DriverTimeout < 0 {
		errs = append(errs, errors.New("driver_timeout must not be negative"))
	}
	if c.Attachment.MaxPendingPerConsumer < 0 {
		errs = append(errs, errors.New("attachment.max_pending_per_consumer must not be negative"))
	}

	if len(c.Backends) == 0 {
		errs = append(errs, errors.New("at least one backend is required"))
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("backends[%d]: name is required", i))
		}
		if seen[b.Name] {
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = true

		switch b.Type {
		case BackendLibvirt:
		case BackendNBD:
			if b.QMPSocket == "" {
				errs = append(errs, fmt.Errorf("backends[%d]: qmp_socket is required for nbd", i))
			}
		default:
			errs = append(errs, fmt.Errorf("backends[%d]: unknown type %q", i, b.Type))
		}
	}

	switch c.Auth.Strategy {
	case AuthNoAuth:
	case AuthToken:
		if len(c.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("auth.tokens is required for token strategy"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.strategy: unknown strategy %q", c.Auth.Strategy))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// getLibvirtURI 获取 libvirt URI，优先使用环境变量
func getLibvirtURI() string {
	// 1. 优先使用环境变量 LIBVIRT_URI
	if uri := os.Getenv("LIBVIRT_URI"); uri != "" {
		return uri
	}

	// 2. 尝试使用 JVA_LIBVIRT_URI
	if uri := os.Getenv("JVA_LIBVIRT_URI"); uri != "" {
		return uri
	}

	// 3. 默认使用本地系统连接
	return "qemu:///system"
}

// getDataDir 获取默认数据目录
func getDataDir() string {
	// 1. 使用用户主目录下的 .local/share/jva
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "jva")
	}

	// 2. 如果无法获取主目录，使用当前目录下的 data
	return filepath.Join(".", "data")
}
