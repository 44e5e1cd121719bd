package resolver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/repository"
)

const (
	// DefaultTTL 正向缓存 TTL：状态变化最迟 60s 后对解析可见
	// （Lifecycle Manager 会主动 Invalidate，TTL 只是兜底上限）
	DefaultTTL = 60 * time.Second

	// DefaultNegativeTTL 负缓存要短：新绑定的域名不能被旧的 NotFound 挡住太久
	DefaultNegativeTTL = 10 * time.Second
)

// Resolver 域名 → 租户隔离凭证解析器
type Resolver struct {
	tenants     repository.TenantsRepository
	cache       Cache
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *zap.Logger
}

// NewResolver 创建解析器
func NewResolver(tenants repository.TenantsRepository, cache Cache, ttl, negativeTTL time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = DefaultNegativeTTL
	}
	return &Resolver{
		tenants:     tenants,
		cache:       cache,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		logger:      logger,
	}
}

// NormalizeHost 规范化主机名：去端口、转小写
func NormalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}

// Resolve 解析域名
// 返回值：
//   - (*TenantResolution, nil)       解析成功（仅 trial/active 租户）
//   - (nil, domain.ErrNotFound)      域名未注册，或租户不可运营（对外不区分，防止状态泄露）
//   - (nil, *domain.ResolutionError) 目录读取故障（调用方据此选择 fail-safe，绝不能落到 default scope）
func (r *Resolver) Resolve(ctx context.Context, hostname string) (*domain.TenantResolution, error) {
	host := NormalizeHost(hostname)
	if host == "" {
		return nil, domain.ErrNotFound
	}

	if entry, ok := r.cache.Get(ctx, host); ok {
		if entry.NotFound {
			return nil, domain.ErrNotFound
		}
		return entry.Resolution, nil
	}

	tenant, err := r.tenants.ResolveByDomain(ctx, host)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// 负缓存用短 TTL：避免掩盖刚绑定的域名
			r.cache.Set(ctx, host, &cachedResolution{NotFound: true}, r.negativeTTL)
			return nil, domain.ErrNotFound
		}
		// 基础设施故障不缓存，交给网关做 fail-safe 决策
		r.logger.Error("tenant directory lookup failed",
			zap.String("host", host),
			zap.Error(err),
		)
		return nil, &domain.ResolutionError{Err: err}
	}

	if !tenant.Status.IsOperational() {
		// suspended/deleted 租户对解析层等同于不存在（不泄露状态）
		r.cache.Set(ctx, host, &cachedResolution{NotFound: true}, r.negativeTTL)
		return nil, domain.ErrNotFound
	}

	res := &domain.TenantResolution{
		ChannelToken: tenant.ChannelToken,
		TenantID:     tenant.TenantID,
		TenantSlug:   tenant.Slug,
		TenantStatus: tenant.Status,
		ExpiresAt:    time.Now().Add(r.ttl),
	}
	r.cache.Set(ctx, host, &cachedResolution{Resolution: res}, r.ttl)
	return res, nil
}

// Invalidate 失效单个域名的缓存（幂等）
// Lifecycle Manager 在状态/域名变更后调用，让 TTL 只是最坏情况的上限
func (r *Resolver) Invalidate(ctx context.Context, hostname string) {
	r.cache.Delete(ctx, NormalizeHost(hostname))
}

// InvalidateAll 清空全部解析缓存
func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.cache.Flush(ctx)
}
