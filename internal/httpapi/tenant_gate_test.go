package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"qtable-tenant/internal/audit"
	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/repository"
	"qtable-tenant/internal/resolver"
)

type gateFixture struct {
	tenants   *repository.MemoryTenantsRepository
	domains   *repository.MemoryDomainsRepository
	auditRepo *repository.MemoryAuditRepository
	recorder  *audit.Recorder
	resolver  *resolver.Resolver
}

func setupGate(t *testing.T) *gateFixture {
	t.Helper()
	fx := &gateFixture{
		domains:   repository.NewMemoryDomainsRepository(),
		auditRepo: repository.NewMemoryAuditRepository(),
	}
	fx.tenants = repository.NewMemoryTenantsRepository(fx.domains)
	fx.recorder = audit.NewRecorder(fx.auditRepo, zap.NewNop())
	fx.resolver = resolver.NewResolver(fx.tenants, resolver.NewMemoryCache(), time.Minute, 10*time.Second, zap.NewNop())
	return fx
}

func (fx *gateFixture) seedTenant(t *testing.T, status domain.TenantStatus, slug, host string) *domain.Tenant {
	t.Helper()
	tenant := &domain.Tenant{
		TenantName:   "Tenant " + slug,
		Slug:         slug,
		Status:       status,
		ChannelID:    "channel-" + slug,
		ChannelToken: "ct_" + slug,
	}
	id, err := fx.tenants.CreateTenant(context.Background(), tenant)
	require.NoError(t, err)
	tenant.TenantID = id
	_, err = fx.domains.CreateDomain(context.Background(), &domain.TenantDomain{
		TenantID: id, Domain: host, IsPrimary: true,
	})
	require.NoError(t, err)
	return tenant
}

// captureNext 记录透传到 handler 的请求
type captureNext struct {
	called bool
	tc     *TenantContext
	bound  bool
	header string
}

func (c *captureNext) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.tc, c.bound = TenantFromContext(r.Context())
		c.header = r.Header.Get(HeaderChannelToken)
		w.WriteHeader(http.StatusOK)
	})
}

func TestTenantGate_BindsResolvedTenant(t *testing.T) {
	fx := setupGate(t)
	tenant := fx.seedTenant(t, domain.StatusActive, "acme", "acme.example.com")
	gate := NewTenantGate(fx.resolver, fx.recorder, nil, false, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://acme.example.com/shop/api/v1/tenant/current", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, next.bound)
	assert.Equal(t, tenant.TenantID, next.tc.TenantID)
	assert.Equal(t, "ct_acme", next.tc.ChannelToken)
	assert.Equal(t, "ct_acme", next.header, "gateway must stamp the resolved credential")
}

func TestTenantGate_UnknownHost404(t *testing.T) {
	fx := setupGate(t)
	gate := NewTenantGate(fx.resolver, fx.recorder, nil, false, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://stranger.example.com/", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, next.called)
}

func TestTenantGate_ClientTokenSubstitutionOverriddenAndAudited(t *testing.T) {
	fx := setupGate(t)
	fx.seedTenant(t, domain.StatusActive, "acme", "acme.example.com")
	fx.seedTenant(t, domain.StatusActive, "globex", "globex.example.com")
	gate := NewTenantGate(fx.resolver, fx.recorder, nil, false, zap.NewNop())

	// 用 acme 的域名带 globex 的凭证
	next := &captureNext{}
	req := httptest.NewRequest(http.MethodPost, "http://acme.example.com/shop/api/v1/orders", nil)
	req.Header.Set(HeaderChannelToken, "ct_globex")
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	// 请求继续，但凭证被解析结果覆盖
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ct_acme", next.header)

	entries, _, err := fx.auditRepo.Query(context.Background(), domain.AuditFilters{Action: domain.AuditTokenMismatch}, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SeverityWarn, entries[0].Severity)
	assert.Contains(t, string(entries[0].Metadata), "ct_globex")
	assert.Contains(t, string(entries[0].Metadata), "ct_acme")
}

func TestTenantGate_MatchingClientTokenNotAudited(t *testing.T) {
	fx := setupGate(t)
	fx.seedTenant(t, domain.StatusActive, "acme", "acme.example.com")
	gate := NewTenantGate(fx.resolver, fx.recorder, nil, false, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://acme.example.com/", nil)
	req.Header.Set(HeaderChannelToken, "ct_acme")
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, total, err := fx.auditRepo.Query(context.Background(), domain.AuditFilters{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTenantGate_SuspendedTenant404(t *testing.T) {
	fx := setupGate(t)
	fx.seedTenant(t, domain.StatusSuspended, "acme", "acme.example.com")
	gate := NewTenantGate(fx.resolver, fx.recorder, nil, false, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://acme.example.com/", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	// 店面域名对暂停租户直接不可见
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, next.called)
}

func TestTenantGate_BypassHostSkipsBinding(t *testing.T) {
	fx := setupGate(t)
	gate := NewTenantGate(fx.resolver, fx.recorder, []string{"localhost", "admin.platform.internal"}, false, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/platform/api/v1/tenants", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, next.called)
	assert.False(t, next.bound)
}

func TestTenantGate_HealthzSkipsBinding(t *testing.T) {
	fx := setupGate(t)
	gate := NewTenantGate(fx.resolver, fx.recorder, nil, false, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://whatever.example.com/healthz", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, next.called)
}

// failingResolverRepo 模拟目录故障
type failingResolverRepo struct {
	repository.TenantsRepository
}

func (r *failingResolverRepo) ResolveByDomain(_ context.Context, _ string) (*domain.Tenant, error) {
	return nil, fmt.Errorf("connection refused")
}

func TestTenantGate_ResolutionFailureFailOpen(t *testing.T) {
	fx := setupGate(t)
	res := resolver.NewResolver(&failingResolverRepo{}, resolver.NewMemoryCache(), time.Minute, time.Second, zap.NewNop())
	gate := NewTenantGate(res, fx.recorder, nil, false, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://acme.example.com/", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	// fail-open：继续但不绑定任何 scope
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, next.called)
	assert.False(t, next.bound)
}

func TestTenantGate_ResolutionFailureFailClosed(t *testing.T) {
	fx := setupGate(t)
	res := resolver.NewResolver(&failingResolverRepo{}, resolver.NewMemoryCache(), time.Minute, time.Second, zap.NewNop())
	gate := NewTenantGate(res, fx.recorder, nil, true, zap.NewNop())

	next := &captureNext{}
	req := httptest.NewRequest(http.MethodGet, "http://acme.example.com/", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(next.handler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, next.called)
}
