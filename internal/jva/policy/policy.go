// Package policy 提供操作授权（PolicyGate）和请求认证
//
// 规则文件为 YAML，键为动作名，值为允许的规则列表，任意一条匹配即放行：
//
//	default: [admin, owner]
//	"attachment:create": [admin, owner]
//	"volume:create": [admin]
//	"volume:update_readonly_flag": ["role:volume_admin"]
//
// 支持的规则：admin（拥有 admin 角色）、owner（与资源同项目）、
// role:<name>（拥有指定角色）、@（任何人）、!（任何人都不允许）。
package policy

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jimyag/jva/pkg/apierror"
	"gopkg.in/yaml.v3"
)

// 动作名
const (
	ActionAttachmentCreate   = "attachment:create"
	ActionAttachmentUpdate   = "attachment:update"
	ActionAttachmentComplete = "attachment:complete"
	ActionAttachmentDelete   = "attachment:delete"
	ActionAttachmentGet      = "attachment:get"

	ActionVolumeCreate               = "volume:create"
	ActionVolumeDelete               = "volume:delete"
	ActionVolumeGet                  = "volume:get"
	ActionVolumeReserve              = "volume:reserve"
	ActionVolumeUnreserve            = "volume:unreserve"
	ActionVolumeAttach               = "volume:attach"
	ActionVolumeDetach               = "volume:detach"
	ActionVolumeBeginDetaching       = "volume:begin_detaching"
	ActionVolumeRollDetaching        = "volume:roll_detaching"
	ActionVolumeInitializeConnection = "volume:initialize_connection"
	ActionVolumeTerminateConnection  = "volume:terminate_connection"
	ActionVolumeUpdateReadonlyFlag   = "volume:update_readonly_flag"

	defaultRuleKey = "default"
)

// RoleAdmin 管理员角色
const RoleAdmin = "admin"

// Actor 发起请求的主体，由认证层解析后显式传入
type Actor struct {
	UserID    string
	ProjectID string
	Roles     []string
}

// HasRole 是否拥有指定角色
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// IsAdmin 是否为管理员
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// Target 被操作的资源
type Target struct {
	ProjectID string
}

// Rules 动作到规则列表的映射
type Rules map[string][]string

// DefaultRules 默认规则：管理员或同项目用户可以操作挂载，卷的登记、删除和只读标记只允许管理员
func DefaultRules() Rules {
	return Rules{
		defaultRuleKey:                 {"admin", "owner"},
		ActionVolumeCreate:             {"admin"},
		ActionVolumeDelete:             {"admin"},
		ActionVolumeUpdateReadonlyFlag: {"admin"},
	}
}

// Enforcer 根据规则判断 Actor 能否对 Target 执行动作
type Enforcer struct {
	rules Rules
}

// NewEnforcer 创建 Enforcer，rules 中没有 default 时使用 [admin, owner]
func NewEnforcer(rules Rules) (*Enforcer, error) {
	merged := Rules{defaultRuleKey: {"admin", "owner"}}
	for action, list := range rules {
		for _, rule := range list {
			if err := validateRule(rule); err != nil {
				return nil, fmt.Errorf("action %s: %w", action, err)
			}
		}
		merged[action] = list
	}
	return &Enforcer{rules: merged}, nil
}

// LoadFile 从 YAML 文件加载规则，文件中的规则覆盖默认规则
func LoadFile(path string) (*Enforcer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var fileRules Rules
	if err := yaml.Unmarshal(data, &fileRules); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	rules := DefaultRules()
	for action, list := range fileRules {
		rules[action] = list
	}
	return NewEnforcer(rules)
}

// Enforce 判断是否允许，不允许时返回 PolicyNotAuthorized
func (e *Enforcer) Enforce(actor Actor, action string, target Target) error {
	list, ok := e.rules[action]
	if !ok {
		list = e.rules[defaultRuleKey]
	}
	for _, rule := range list {
		if match(rule, actor, target) {
			return nil
		}
	}
	return apierror.Newf(apierror.ErrPolicyNotAuthorized, "Policy doesn't allow %s to be performed.", action)
}

func match(rule string, actor Actor, target Target) bool {
	switch {
	case rule == "@":
		return true
	case rule == "!":
		return false
	case rule == "admin":
		return actor.IsAdmin()
	case rule == "owner":
		return actor.ProjectID != "" && actor.ProjectID == target.ProjectID
	case strings.HasPrefix(rule, "role:"):
		return actor.HasRole(strings.TrimPrefix(rule, "role:"))
	}
	return false
}

func validateRule(rule string) error {
	switch {
	case rule == "@", rule == "!", rule == "admin", rule == "owner":
		return nil
	case strings.HasPrefix(rule, "role:") && len(rule) > len("role:"):
		return nil
	}
	return fmt.Errorf("unknown policy rule %q", rule)
}
