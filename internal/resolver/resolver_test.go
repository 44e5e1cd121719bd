package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/repository"
)

// failingTenantsRepo 在 ResolveByDomain 上模拟目录故障
type failingTenantsRepo struct {
	repository.TenantsRepository
}

func (r *failingTenantsRepo) ResolveByDomain(_ context.Context, _ string) (*domain.Tenant, error) {
	return nil, fmt.Errorf("connection refused")
}

func seedResolvable(t *testing.T, status domain.TenantStatus, slug, host string) (*repository.MemoryTenantsRepository, *domain.Tenant) {
	t.Helper()
	domains := repository.NewMemoryDomainsRepository()
	tenants := repository.NewMemoryTenantsRepository(domains)

	tenant := &domain.Tenant{
		TenantName:   "Tenant " + slug,
		Slug:         slug,
		Status:       status,
		ChannelToken: "ct_" + slug,
	}
	id, err := tenants.CreateTenant(context.Background(), tenant)
	require.NoError(t, err)
	tenant.TenantID = id

	_, err = domains.CreateDomain(context.Background(), &domain.TenantDomain{
		TenantID: id,
		Domain:   host,
	})
	require.NoError(t, err)
	return tenants, tenant
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "acme.example.com", NormalizeHost("Acme.Example.COM"))
	assert.Equal(t, "acme.example.com", NormalizeHost("acme.example.com:8443"))
	assert.Equal(t, "localhost", NormalizeHost("localhost:3000"))
	assert.Equal(t, "", NormalizeHost(""))
}

func TestResolve_ActiveTenant(t *testing.T) {
	tenants, tenant := seedResolvable(t, domain.StatusActive, "acme", "acme.example.com")
	r := NewResolver(tenants, NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())

	res, err := r.Resolve(context.Background(), "ACME.example.com:443")
	require.NoError(t, err)
	assert.Equal(t, tenant.TenantID, res.TenantID)
	assert.Equal(t, "ct_acme", res.ChannelToken)
	assert.Equal(t, domain.StatusActive, res.TenantStatus)
}

func TestResolve_UnknownHost(t *testing.T) {
	tenants, _ := seedResolvable(t, domain.StatusActive, "acme", "acme.example.com")
	r := NewResolver(tenants, NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())

	_, err := r.Resolve(context.Background(), "unknown.example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolve_NonOperationalStatusMasksAsNotFound(t *testing.T) {
	// suspended/deleted 租户对解析层必须与不存在不可区分
	for _, status := range []domain.TenantStatus{
		domain.StatusRequested,
		domain.StatusProvisioning,
		domain.StatusSuspended,
		domain.StatusPendingDeletion,
		domain.StatusDeleted,
		domain.StatusPurged,
	} {
		tenants, _ := seedResolvable(t, status, "acme", "acme.example.com")
		r := NewResolver(tenants, NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())

		_, err := r.Resolve(context.Background(), "acme.example.com")
		assert.ErrorIs(t, err, domain.ErrNotFound, "status %s must resolve as not found", status)
	}
}

func TestResolve_CachesPositiveResult(t *testing.T) {
	tenants, tenant := seedResolvable(t, domain.StatusActive, "acme", "acme.example.com")
	r := NewResolver(tenants, NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := r.Resolve(ctx, "acme.example.com")
	require.NoError(t, err)

	// 目录中删掉租户后仍然命中缓存
	require.NoError(t, tenants.DeleteTenant(ctx, tenant.TenantID))
	res, err := r.Resolve(ctx, "acme.example.com")
	require.NoError(t, err)
	assert.Equal(t, tenant.TenantID, res.TenantID)

	// 失效后回源，看到目录的真实状态
	r.Invalidate(ctx, "acme.example.com")
	_, err = r.Resolve(ctx, "acme.example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolve_NegativeCache(t *testing.T) {
	domains := repository.NewMemoryDomainsRepository()
	tenants := repository.NewMemoryTenantsRepository(domains)
	r := NewResolver(tenants, NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := r.Resolve(ctx, "late.example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// 域名绑定后，负缓存还没过期：仍然 NotFound
	tenant := &domain.Tenant{TenantName: "Late", Slug: "late", Status: domain.StatusActive, ChannelToken: "ct_late"}
	id, err := tenants.CreateTenant(ctx, tenant)
	require.NoError(t, err)
	_, err = domains.CreateDomain(ctx, &domain.TenantDomain{TenantID: id, Domain: "late.example.com"})
	require.NoError(t, err)

	_, err = r.Resolve(ctx, "late.example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 绑定路径会主动 Invalidate，之后立即可解析
	r.Invalidate(ctx, "late.example.com")
	res, err := r.Resolve(ctx, "late.example.com")
	require.NoError(t, err)
	assert.Equal(t, id, res.TenantID)
}

func TestResolve_InfraErrorIsNotNotFound(t *testing.T) {
	cache := NewMemoryCache()
	r := NewResolver(&failingTenantsRepo{}, cache, time.Minute, 10*time.Second, zap.NewNop())

	_, err := r.Resolve(context.Background(), "acme.example.com")
	require.Error(t, err)
	assert.True(t, domain.IsResolution(err))
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	// 故障不缓存
	_, ok := cache.Get(context.Background(), "acme.example.com")
	assert.False(t, ok)
}

func TestInvalidate_Idempotent(t *testing.T) {
	tenants, _ := seedResolvable(t, domain.StatusActive, "acme", "acme.example.com")
	r := NewResolver(tenants, NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())
	ctx := context.Background()

	r.Invalidate(ctx, "acme.example.com")
	r.Invalidate(ctx, "acme.example.com")
	r.Invalidate(ctx, "never-cached.example.com")

	res, err := r.Resolve(ctx, "acme.example.com")
	require.NoError(t, err)
	assert.Equal(t, "ct_acme", res.ChannelToken)
}

func TestInvalidateAll(t *testing.T) {
	tenants, tenant := seedResolvable(t, domain.StatusActive, "acme", "acme.example.com")
	r := NewResolver(tenants, NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := r.Resolve(ctx, "acme.example.com")
	require.NoError(t, err)

	require.NoError(t, tenants.DeleteTenant(ctx, tenant.TenantID))
	r.InvalidateAll(ctx)

	_, err = r.Resolve(ctx, "acme.example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryCache_ExpiresEntries(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	cache.Set(ctx, "acme.example.com", &cachedResolution{NotFound: true}, 10*time.Millisecond)
	_, ok := cache.Get(ctx, "acme.example.com")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get(ctx, "acme.example.com")
	assert.False(t, ok)
}
