package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"qtable-tenant/internal/audit"
	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/resolver"
)

// TenantGate Stage A：租户绑定中间件（必须在认证之前执行，
// 认证才会基于正确的 scope 建立会话主体）
type TenantGate struct {
	resolver   *resolver.Resolver
	recorder   *audit.Recorder
	bypass     map[string]struct{}
	failClosed bool
	logger     *zap.Logger
}

// NewTenantGate 创建租户绑定中间件
// bypassHosts：本地开发域名集合，命中则完全跳过租户绑定
// failClosed：目录故障时 503 拒绝（默认 false：不绑定继续走，
// 后续认证仍然要求有效凭证，绝不会落到 default scope）
func NewTenantGate(res *resolver.Resolver, recorder *audit.Recorder, bypassHosts []string, failClosed bool, logger *zap.Logger) *TenantGate {
	bypass := make(map[string]struct{}, len(bypassHosts))
	for _, h := range bypassHosts {
		bypass[resolver.NormalizeHost(h)] = struct{}{}
	}
	return &TenantGate{
		resolver:   res,
		recorder:   recorder,
		bypass:     bypass,
		failClosed: failClosed,
		logger:     logger,
	}
}

// Middleware http.Handler 中间件
func (g *TenantGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 探活不依赖租户目录
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		host := resolver.NormalizeHost(r.Host)

		if _, ok := g.bypass[host]; ok {
			next.ServeHTTP(w, r)
			return
		}

		res, err := g.resolver.Resolve(r.Context(), host)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// 未知域名绝不能落到平台级默认 scope，直接 404（不泄露任何租户信息）
				writeJSON(w, http.StatusNotFound, Fail("not found"))
				return
			}
			// ResolutionError：基础设施故障
			g.logger.Error("Tenant resolution failed",
				zap.String("host", host),
				zap.Error(err),
			)
			if g.failClosed {
				writeJSON(w, http.StatusServiceUnavailable, Fail("service unavailable"))
				return
			}
			// fail-open 到"无绑定"路径：后续认证仍要求有效凭证
			next.ServeHTTP(w, r)
			return
		}

		// 客户端自带的凭证一律不信：域名解析出租户之后，信任客户端凭证
		// 等于允许"用 A 的域名 + B 的凭证"伪装。差异不是静默丢弃，而是记审计
		clientToken := r.Header.Get(HeaderChannelToken)
		if clientToken != "" && clientToken != res.ChannelToken {
			metadata, _ := json.Marshal(map[string]string{
				"host":           host,
				"client_token":   clientToken,
				"resolved_token": res.ChannelToken,
				"operation":      r.Method + " " + r.URL.Path,
			})
			g.recorder.Record(r.Context(), &domain.AuditLogEntry{
				Action:       domain.AuditTokenMismatch,
				Severity:     domain.SeverityWarn,
				TenantID:     res.TenantID,
				ChannelToken: clientToken,
				Metadata:     metadata,
				IPAddress:    clientIP(r),
			})
		}
		r.Header.Set(HeaderChannelToken, res.ChannelToken)

		ctx := WithTenant(r.Context(), &TenantContext{
			TenantID:     res.TenantID,
			TenantSlug:   res.TenantSlug,
			TenantStatus: res.TenantStatus,
			ChannelToken: res.ChannelToken,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
