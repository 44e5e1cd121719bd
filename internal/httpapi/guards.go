package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"qtable-tenant/internal/audit"
	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/repository"
)

// PostAuthGuard Stage B：认证之后、业务 handler 之前的守卫
// 执行顺序是硬约束：Stage A 先绑定 scope，认证基于绑定后的凭证建立主体，
// 这里再做交叉校验
type PostAuthGuard struct {
	tenants  repository.TenantsRepository
	recorder *audit.Recorder

	// defaultChannelToken 平台聚合 scope 的凭证（能看到全部租户数据）
	// 只有 SuperAdmin 允许使用；空值表示未配置，跳过该检查
	defaultChannelToken string
	logger              *zap.Logger
}

// NewPostAuthGuard 创建 post-auth 守卫
func NewPostAuthGuard(tenants repository.TenantsRepository, recorder *audit.Recorder, defaultChannelToken string, logger *zap.Logger) *PostAuthGuard {
	return &PostAuthGuard{
		tenants:             tenants,
		recorder:            recorder,
		defaultChannelToken: defaultChannelToken,
		logger:              logger,
	}
}

// isMutating 判断是否为写操作（暂停租户只封写不封读）
func isMutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// Middleware http.Handler 中间件
func (g *PostAuthGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, hasPrincipal := PrincipalFromContext(r.Context())

		// 守卫一：default scope 只允许 SuperAdmin 使用
		// 未认证的公开操作不在此列（没有 scope 可言）
		if hasPrincipal && g.defaultChannelToken != "" && p.ChannelToken == g.defaultChannelToken {
			if !p.IsSuperAdmin() {
				g.audit(r, domain.AuditDefaultScopeBlocked, domain.SeverityCritical, p.UserID, "", map[string]string{
					"role": p.Role,
				})
				writeJSON(w, http.StatusForbidden, Fail("forbidden"))
				return
			}
			// SuperAdmin 使用聚合 scope 逐次留痕，放行
			g.audit(r, domain.AuditSuperAdminDefaultScope, domain.SeverityInfo, p.UserID, "", nil)
		}

		tc, bound := TenantFromContext(r.Context())
		if !bound {
			// bypass host：没有租户元数据。认证主体带租户 scope 时仍然反查一次，
			// 让暂停租户的封写对平台域名上的会话同样生效
			if hasPrincipal && p.ChannelToken != "" && p.ChannelToken != g.defaultChannelToken {
				if t, err := g.tenants.GetTenantByChannelToken(r.Context(), p.ChannelToken); err == nil {
					tc = &TenantContext{
						TenantID:     t.TenantID,
						TenantSlug:   t.Slug,
						TenantStatus: t.Status,
						ChannelToken: t.ChannelToken,
					}
				} else if !errors.Is(err, domain.ErrNotFound) {
					g.logger.Error("Failed to resolve principal scope", zap.Error(err))
				}
			}
			if tc == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		// 守卫二：主体 scope 必须与解析出的租户 scope 一致
		// 不一致说明内部状态错乱或有人在绕网关，硬拒绝（SuperAdmin 跨租户运维除外，但要留痕）
		if bound && hasPrincipal && p.ChannelToken != "" && p.ChannelToken != tc.ChannelToken {
			if !p.IsSuperAdmin() {
				g.audit(r, domain.AuditCrossTenantBlocked, domain.SeverityWarn, p.UserID, tc.TenantID, map[string]string{
					"tenant_slug":     tc.TenantSlug,
					"principal_token": p.ChannelToken,
					"resolved_token":  tc.ChannelToken,
				})
				writeJSON(w, http.StatusForbidden, Fail("forbidden"))
				return
			}
			g.audit(r, domain.AuditSuperAdminCrossTenant, domain.SeverityInfo, p.UserID, tc.TenantID, map[string]string{
				"tenant_slug": tc.TenantSlug,
			})
		}

		// 守卫三：暂停租户封写不封读
		if tc.TenantStatus == domain.StatusSuspended && isMutating(r) &&
			!(hasPrincipal && p.IsSuperAdmin()) {
			actor := ""
			if hasPrincipal {
				actor = p.UserID
			}
			g.audit(r, domain.AuditSuspendedMutationBlocked, domain.SeverityWarn, actor, tc.TenantID, map[string]string{
				"tenant_slug": tc.TenantSlug,
				"operation":   r.Method + " " + r.URL.Path,
			})
			writeJSON(w, http.StatusForbidden, Fail("store unavailable for changes"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *PostAuthGuard) audit(r *http.Request, action string, severity domain.AuditSeverity, actorUserID, tenantID string, extra map[string]string) {
	if extra == nil {
		extra = map[string]string{}
	}
	if _, ok := extra["operation"]; !ok {
		extra["operation"] = r.Method + " " + r.URL.Path
	}
	metadata, _ := json.Marshal(extra)
	g.recorder.Record(r.Context(), &domain.AuditLogEntry{
		Action:      action,
		Severity:    severity,
		ActorUserID: actorUserID,
		TenantID:    tenantID,
		Metadata:    metadata,
		IPAddress:   clientIP(r),
	})
}

// CallerScope 取调用方的有效数据 scope
// 优先用认证主体的 scope，匿名时退回 Stage A 绑定的租户 scope
func CallerScope(ctx context.Context) (token string, isSuperAdmin bool) {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.ChannelToken, p.IsSuperAdmin()
	}
	if tc, ok := TenantFromContext(ctx); ok {
		return tc.ChannelToken, false
	}
	return "", false
}
