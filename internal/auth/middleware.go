package auth

import (
	"log/slog"
	"net/http"
	"time"

	loggerpkg "AgentVault-Core/pkg/logger"
)

// Middleware 返回一个 HTTP 中间件：解析调用方地址放入上下文，
// 并把每次请求写入审计日志。disabled 模式下接受 X-Actor 自报。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor string
			if s == nil || s.mode == ModeDisabled {
				actor = r.Header.Get("X-Actor")
			} else {
				resolved, err := s.Resolve(r.Context(), r.Header.Get("Authorization"), r.Header.Get("X-API-Key"))
				if err != nil {
					status := http.StatusUnauthorized
					if err == ErrKeyRevoked {
						status = http.StatusForbidden
					}
					http.Error(w, http.StatusText(status), status)
					s.auditLogger().Warn("access_denied",
						"path", r.URL.Path,
						"method", r.Method,
						"status", status,
						"error", err.Error(),
					)
					return
				}
				actor = resolved
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithActor(r.Context(), NormalizeAddress(actor))
			next.ServeHTTP(aw, r.WithContext(ctx))
			s.auditLogger().Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"actor", actor,
			)
		})
	}
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
