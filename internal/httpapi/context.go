package httpapi

import (
	"context"

	"qtable-tenant/internal/authn"
	"qtable-tenant/internal/domain"
)

// HeaderChannelToken 隔离凭证请求头
// 客户端可以带，但一旦域名解析到租户就会被网关无条件覆盖（见 TenantGate）
const HeaderChannelToken = "channel-token"

type tenantCtxKey struct{}
type principalCtxKey struct{}

// TenantContext Stage A 绑定到请求上的租户元数据
type TenantContext struct {
	TenantID     string
	TenantSlug   string
	TenantStatus domain.TenantStatus
	ChannelToken string
}

// WithTenant 把租户元数据挂到请求 context
func WithTenant(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tc)
}

// TenantFromContext 取出租户元数据（bypass host 的请求没有）
func TenantFromContext(ctx context.Context) (*TenantContext, bool) {
	tc, ok := ctx.Value(tenantCtxKey{}).(*TenantContext)
	return tc, ok
}

// WithPrincipal 把已认证主体挂到请求 context
func WithPrincipal(ctx context.Context, p *authn.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext 取出已认证主体（匿名请求没有）
func PrincipalFromContext(ctx context.Context) (*authn.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*authn.Principal)
	return p, ok
}
