package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"qtable-tenant/internal/authn"
	"qtable-tenant/internal/domain"
)

// AuthMiddleware 认证中间件（Stage A 之后、Stage B 之前）
// 会话签发是外部认证服务的事，这里只用 bearer token 换出 Principal。
// 没带 token / token 无效 → 匿名继续，由各 handler 的权限检查决定拒绝与否
type AuthMiddleware struct {
	sessions authn.SessionStore
	logger   *zap.Logger
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(sessions authn.SessionStore, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, logger: logger}
}

// Middleware http.Handler 中间件
func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		p, err := m.sessions.Lookup(r.Context(), token)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				m.logger.Error("Session lookup failed", zap.Error(err))
			}
			// 无效会话当匿名处理，后续权限检查自然拒绝需要认证的操作
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
