package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
)

// Service 把请求头解析为调用方地址。引擎层的角色判定（owner、
// controller、recovery、arbiter）只认地址，认证层不做角色授权。
type Service struct {
	mode  Mode
	store Store
	audit *slog.Logger
}

// ServiceConfig 配置认证服务。
type ServiceConfig struct {
	Mode  Mode
	Store Store
	Audit *slog.Logger
}

// NewService 创建认证服务。未配置存储时服务退化为 disabled 模式。
func NewService(cfg ServiceConfig) *Service {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAPIKey
	}
	if cfg.Store == nil {
		mode = ModeDisabled
	}
	return &Service{
		mode:  mode,
		store: cfg.Store,
		audit: cfg.Audit,
	}
}

// Mode 返回当前工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Resolve 从 Authorization 或 X-API-Key 头解析出调用方地址。
func (s *Service) Resolve(ctx context.Context, authorization, apiKeyHeader string) (string, error) {
	key := strings.TrimSpace(apiKeyHeader)
	if key == "" {
		value := strings.TrimSpace(authorization)
		if strings.HasPrefix(strings.ToLower(value), "bearer ") {
			key = strings.TrimSpace(value[len("bearer "):])
		}
	}
	if key == "" {
		return "", ErrMissingKey
	}

	credential, err := s.store.FindByKey(ctx, key)
	if err != nil {
		return "", err
	}
	// 常数时间比较，避免通过时延探测 key。
	if subtle.ConstantTimeCompare([]byte(credential.Key), []byte(key)) != 1 {
		return "", ErrInvalidKey
	}
	if credential.Disabled {
		return "", ErrKeyRevoked
	}
	return credential.Actor, nil
}
