package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qtable-tenant/internal/domain"
)

// MemoryTenantsRepository supports local dev without a DB, and is the test
// substrate for lifecycle/gate tests. Same semantics as the Postgres impl
// (CAS on TransitionStatus, unique slug).
type MemoryTenantsRepository struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant // tenantID -> Tenant

	// domains repo shares the lock-free view through ResolveByDomain
	domains *MemoryDomainsRepository
}

// NewMemoryTenantsRepository 创建内存租户 Repository
// domains 可为 nil（此时 ResolveByDomain 永远 NotFound）
func NewMemoryTenantsRepository(domains *MemoryDomainsRepository) *MemoryTenantsRepository {
	return &MemoryTenantsRepository{
		tenants: map[string]*domain.Tenant{},
		domains: domains,
	}
}

var _ TenantsRepository = (*MemoryTenantsRepository)(nil)

func cloneTenant(t *domain.Tenant) *domain.Tenant {
	cp := *t
	if t.SuspendedAt != nil {
		v := *t.SuspendedAt
		cp.SuspendedAt = &v
	}
	if t.DeletedAt != nil {
		v := *t.DeletedAt
		cp.DeletedAt = &v
	}
	return &cp
}

func (r *MemoryTenantsRepository) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTenant(t), nil
}

func (r *MemoryTenantsRepository) GetTenantBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if t.Slug == slug {
			return cloneTenant(t), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryTenantsRepository) ResolveByDomain(ctx context.Context, domainName string) (*domain.Tenant, error) {
	if r.domains == nil {
		return nil, domain.ErrNotFound
	}
	tenantID, err := r.domains.tenantIDByDomain(domainName)
	if err != nil {
		return nil, err
	}
	return r.GetTenant(ctx, tenantID)
}

func (r *MemoryTenantsRepository) GetTenantByChannelToken(_ context.Context, channelToken string) (*domain.Tenant, error) {
	if channelToken == "" {
		return nil, domain.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if t.ChannelToken == channelToken {
			return cloneTenant(t), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryTenantsRepository) ListTenants(_ context.Context, filter TenantFilters, page, size int) ([]*domain.Tenant, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.TenantName), strings.ToLower(filter.Search)) {
			continue
		}
		all = append(all, cloneTenant(t))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryTenantsRepository) ListByStatusOlderThan(_ context.Context, status domain.TenantStatus, cutoff time.Time) ([]*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.Tenant{}
	for _, t := range r.tenants {
		if t.Status == status && t.DeletedAt != nil && t.DeletedAt.Before(cutoff) {
			out = append(out, cloneTenant(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeletedAt.Before(*out[j].DeletedAt)
	})
	return out, nil
}

func (r *MemoryTenantsRepository) ListChannelIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := []string{}
	for _, t := range r.tenants {
		if t.ChannelID != "" {
			ids = append(ids, t.ChannelID)
		}
	}
	return ids, nil
}

// createLocked 插入租户行，调用方必须已持有 r.mu
func (r *MemoryTenantsRepository) createLocked(tenant *domain.Tenant) string {
	cp := cloneTenant(tenant)
	if cp.TenantID == "" {
		cp.TenantID = uuid.New().String()
	}
	if cp.Status == "" {
		cp.Status = domain.StatusRequested
	}
	if cp.Plan == "" {
		cp.Plan = "trial"
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.tenants[cp.TenantID] = cp
	return cp.TenantID
}

func (r *MemoryTenantsRepository) slugTakenLocked(slug string) bool {
	for _, t := range r.tenants {
		if t.Slug == slug {
			return true
		}
	}
	return false
}

func (r *MemoryTenantsRepository) CreateTenant(_ context.Context, tenant *domain.Tenant) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slugTakenLocked(tenant.Slug) {
		return "", domain.NewValidationError("tenant slug %q is already taken", tenant.Slug)
	}
	return r.createLocked(tenant), nil
}

// CreateTenantWithDomain 与 Postgres 实现同语义：两行一起成功或一起失败
func (r *MemoryTenantsRepository) CreateTenantWithDomain(_ context.Context, tenant *domain.Tenant, primary *domain.TenantDomain) (string, string, error) {
	if r.domains == nil {
		return "", "", fmt.Errorf("domains repository is required")
	}
	if primary == nil || primary.Domain == "" {
		return "", "", domain.NewValidationError("primary domain is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains.mu.Lock()
	defer r.domains.mu.Unlock()

	// 先做全部唯一性检查，再写入：任一冲突都不落任何一行
	if r.slugTakenLocked(tenant.Slug) {
		return "", "", domain.NewValidationError("tenant slug %q is already taken", tenant.Slug)
	}
	if _, exists := r.domains.domains[primary.Domain]; exists {
		return "", "", domain.NewValidationError("domain %q is already bound to a tenant", primary.Domain)
	}

	tenantID := r.createLocked(tenant)
	primary.TenantID = tenantID
	domainID := r.domains.createLocked(primary)
	return tenantID, domainID, nil
}

func (r *MemoryTenantsRepository) TransitionStatus(_ context.Context, tenantID string, from, to domain.TenantStatus, ts StatusTimestamps) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok || t.Status != from {
		return domain.NewValidationError("tenant %s is no longer in status %q", tenantID, from)
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	if ts.SuspendedAt != nil {
		v := *ts.SuspendedAt
		t.SuspendedAt = &v
	} else if ts.ClearSuspendedAt {
		t.SuspendedAt = nil
	}
	if ts.DeletedAt != nil {
		v := *ts.DeletedAt
		t.DeletedAt = &v
	} else if ts.ClearDeletedAt {
		t.DeletedAt = nil
	}
	return nil
}

func (r *MemoryTenantsRepository) UpdateTenant(_ context.Context, tenantID string, upd TenantUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.TenantName != "" {
		t.TenantName = upd.TenantName
	}
	if upd.Plan != "" {
		t.Plan = upd.Plan
	}
	if len(upd.Config) > 0 {
		t.Config = append([]byte(nil), upd.Config...)
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryTenantsRepository) DeleteTenant(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[tenantID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.tenants, tenantID)
	return nil
}
