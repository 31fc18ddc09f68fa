package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// 资源 ID 前缀
const (
	VolumePrefix     = "vol"
	AttachmentPrefix = "att"
)

// Generator 递增 ID 生成器
// 使用 Sonyflake 算法生成全局唯一且递增的 ID
type Generator struct {
	sf *sonyflake.Sonyflake
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

// DefaultGenerator 返回默认的 ID 生成器
func DefaultGenerator() *Generator {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator = New()
	})
	return defaultGenerator
}

// New 创建新的 ID 生成器
func New() *Generator {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if sf == nil {
		// 无法获取私有 IP 作为机器 ID 时回退到固定机器 ID
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			MachineID: func() (uint16, error) { return 1, nil },
		})
	}

	return &Generator{
		sf: sf,
	}
}

func (g *Generator) generateIDWithPrefix(prefix string) (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("generate %s ID: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%d", prefix, id), nil
}

// GenerateVolumeID 生成 Volume ID（格式：vol-{递增 ID}）
func (g *Generator) GenerateVolumeID() (string, error) {
	return g.generateIDWithPrefix(VolumePrefix)
}

// GenerateAttachmentID 生成挂载记录 ID（格式：att-{递增 ID}）
func (g *Generator) GenerateAttachmentID() (string, error) {
	return g.generateIDWithPrefix(AttachmentPrefix)
}

// GenerateVolumeID 使用默认生成器生成 Volume ID
func GenerateVolumeID() (string, error) {
	return DefaultGenerator().GenerateVolumeID()
}

// GenerateAttachmentID 使用默认生成器生成挂载记录 ID
func GenerateAttachmentID() (string, error) {
	return DefaultGenerator().GenerateAttachmentID()
}
