package policy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jimyag/jva/pkg/apierror"
	"golang.org/x/crypto/bcrypt"
)

// 认证相关请求头
const (
	HeaderAuthToken = "X-Auth-Token"
	HeaderUserID    = "X-User-Id"
	HeaderProjectID = "X-Project-Id"
	HeaderRoles     = "X-Roles"
)

// Authenticator 从请求中解析 Actor
type Authenticator interface {
	Authenticate(r *http.Request) (Actor, error)
}

// NoAuth 信任请求头中的身份，用于开发和测试环境
// 缺少 X-User-Id 时视为本地管理员
type NoAuth struct{}

// Authenticate 实现 Authenticator
func (NoAuth) Authenticate(r *http.Request) (Actor, error) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return Actor{UserID: "admin", ProjectID: "admin", Roles: []string{RoleAdmin}}, nil
	}
	return Actor{
		UserID:    userID,
		ProjectID: r.Header.Get(HeaderProjectID),
		Roles:     splitRoles(r.Header.Get(HeaderRoles)),
	}, nil
}

// Token 一个静态令牌，只保存 bcrypt 哈希
type Token struct {
	Hash      string   `yaml:"hash"`
	UserID    string   `yaml:"user_id"`
	ProjectID string   `yaml:"project_id"`
	Roles     []string `yaml:"roles"`
}

// TokenAuth 校验 X-Auth-Token 与配置的令牌哈希
type TokenAuth struct {
	tokens []Token
}

// NewTokenAuth 创建令牌认证器
func NewTokenAuth(tokens []Token) (*TokenAuth, error) {
	for i, t := range tokens {
		if _, err := bcrypt.Cost([]byte(t.Hash)); err != nil {
			return nil, fmt.Errorf("token %d (%s): invalid bcrypt hash: %w", i, t.UserID, err)
		}
	}
	return &TokenAuth{tokens: tokens}, nil
}

// Authenticate 实现 Authenticator
func (a *TokenAuth) Authenticate(r *http.Request) (Actor, error) {
	token := r.Header.Get(HeaderAuthToken)
	if token == "" {
		return Actor{}, apierror.Newf(apierror.ErrAuthFailure, "missing %s header", HeaderAuthToken)
	}
	for _, t := range a.tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(token)) == nil {
			return Actor{UserID: t.UserID, ProjectID: t.ProjectID, Roles: t.Roles}, nil
		}
	}
	return Actor{}, apierror.Newf(apierror.ErrAuthFailure, "invalid token")
}

// HashToken 生成令牌的 bcrypt 哈希，用于写入配置文件
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

func splitRoles(raw string) []string {
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
