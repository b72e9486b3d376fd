package auth

import (
	"context"
	"errors"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
	ErrKeyRevoked = errors.New("api key is revoked")
)

// Store abstracts the credential catalogue mapping API keys to on-chain
// actor addresses. Implementations must be safe for concurrent use.
type Store interface {
	FindByKey(ctx context.Context, key string) (*Credential, error)
}

// Credential binds an API key to the actor address it speaks for. The
// policy and escrow engines only ever see the actor, never the key.
type Credential struct {
	Key      string
	Actor    string
	Label    string
	Disabled bool
}

// Mode 标识认证子系统的工作模式。
type Mode string

const (
	// ModeDisabled 关闭认证，请求方通过 X-Actor 头自报身份。
	// 仅用于本地开发。
	ModeDisabled Mode = "disabled"
	// ModeAPIKey 要求每个请求携带已登记的 API key。
	ModeAPIKey Mode = "api_key"
)
