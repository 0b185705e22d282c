package broker

import (
	"errors"
	"strings"
)

// ErrNoCredential 表示配置中既没有可用的 Cookie 也没有 Bearer Token。
var ErrNoCredential = errors.New("broker: no usable credential configured")

// CredentialKind 标记凭证类型。
type CredentialKind int

const (
	CredentialAbsent CredentialKind = iota
	CredentialCookie
	CredentialBearer
)

// Credential 是会话级鉴权凭证，同一会话只有一种处于激活状态。
type Credential struct {
	Kind  CredentialKind
	Value string
}

// ResolveCredential 从配置的 cookie 与 bearer token 中选出唯一激活凭证。
// Cookie 优先于 Bearer；两者都为空则返回 ErrNoCredential。
// 该函数不做任何网络校验，凭证过期只能通过下单响应的 401/403 发现。
func ResolveCredential(cookie, token string) (Credential, error) {
	if strings.TrimSpace(cookie) != "" {
		return Credential{Kind: CredentialCookie, Value: cookie}, nil
	}
	if strings.TrimSpace(token) != "" {
		return Credential{Kind: CredentialBearer, Value: token}, nil
	}
	return Credential{Kind: CredentialAbsent}, ErrNoCredential
}

// BearerValue 返回带 Bearer 前缀的头部取值，配置里已带前缀时原样返回。
func (c Credential) BearerValue() string {
	if strings.HasPrefix(c.Value, "Bearer ") {
		return c.Value
	}
	return "Bearer " + c.Value
}
