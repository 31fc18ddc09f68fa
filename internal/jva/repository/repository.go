// Package repository 提供卷与挂载记录的持久化层实现
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimyag/jva/internal/jva/repository/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，不需要 CGO
)

// ErrConditionFailed 条件更新没有命中任何行（版本号已变化或记录已删除）
var ErrConditionFailed = errors.New("conditional update matched no rows")

// Store 挂载编排依赖的持久化接口
// Transaction 内的 fn 只能使用传入的 tx，保证读写在同一个事务里
type Store interface {
	Volumes() VolumeRepository
	Attachments() AttachmentRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// Repository 数据库仓库
type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

// New 创建新的 Repository 实例
func New(dbPath string) (*Repository, error) {
	// 确保数据库目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// 直接使用 database/sql + modernc.org/sqlite 创建连接，然后传递给 GORM
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite 只允许一个写者，单连接让事务之间串行执行
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dbPath,
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Volume{},
		&model.VolumeAttachment{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &Repository{db: db}, nil
}

// DB 返回 GORM 数据库实例
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Volumes 返回卷仓库
func (r *Repository) Volumes() VolumeRepository {
	return NewVolumeRepository(r.db)
}

// Attachments 返回挂载记录仓库
func (r *Repository) Attachments() AttachmentRepository {
	return NewAttachmentRepository(r.db)
}

// Transaction 在一个数据库事务中执行 fn，fn 返回错误时回滚
func (r *Repository) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// Close 关闭数据库连接
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// createIndexes 创建 AutoMigrate 不会创建的复合索引
func createIndexes(db *gorm.DB) error {
	// 校验使用方冲突时按 (volume_id, attach_status) 扫描未删除的挂载
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_attachments_volume_status
		ON volume_attachments(volume_id, attach_status)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return fmt.Errorf("create index on volume_attachments: %w", err)
	}
	return nil
}
