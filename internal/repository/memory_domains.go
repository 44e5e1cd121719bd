package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"qtable-tenant/internal/domain"
)

// MemoryDomainsRepository in-memory DomainsRepository (dev/test)
type MemoryDomainsRepository struct {
	mu      sync.RWMutex
	domains map[string]*domain.TenantDomain // domain name -> record
}

// NewMemoryDomainsRepository 创建内存域名 Repository
func NewMemoryDomainsRepository() *MemoryDomainsRepository {
	return &MemoryDomainsRepository{
		domains: map[string]*domain.TenantDomain{},
	}
}

var _ DomainsRepository = (*MemoryDomainsRepository)(nil)

func cloneDomain(d *domain.TenantDomain) *domain.TenantDomain {
	cp := *d
	if d.VerifiedAt != nil {
		v := *d.VerifiedAt
		cp.VerifiedAt = &v
	}
	return &cp
}

func (r *MemoryDomainsRepository) tenantIDByDomain(domainName string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[domainName]
	if !ok {
		return "", domain.ErrNotFound
	}
	return d.TenantID, nil
}

func (r *MemoryDomainsRepository) ListDomainsByTenant(_ context.Context, tenantID string) ([]*domain.TenantDomain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.TenantDomain{}
	for _, d := range r.domains {
		if d.TenantID == tenantID {
			out = append(out, cloneDomain(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// createLocked 插入域名行，调用方必须已持有 r.mu
func (r *MemoryDomainsRepository) createLocked(d *domain.TenantDomain) string {
	cp := cloneDomain(d)
	if cp.DomainID == "" {
		cp.DomainID = uuid.New().String()
	}
	if cp.SSLStatus == "" {
		cp.SSLStatus = "pending"
	}
	cp.CreatedAt = time.Now()
	r.domains[cp.Domain] = cp
	return cp.DomainID
}

func (r *MemoryDomainsRepository) CreateDomain(_ context.Context, d *domain.TenantDomain) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.domains[d.Domain]; exists {
		return "", domain.NewValidationError("domain %q is already bound to a tenant", d.Domain)
	}
	return r.createLocked(d), nil
}

func (r *MemoryDomainsRepository) DeleteDomain(_ context.Context, tenantID, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.domains[domainName]
	if !ok || d.TenantID != tenantID {
		return domain.ErrNotFound
	}
	delete(r.domains, domainName)
	return nil
}

func (r *MemoryDomainsRepository) DeleteDomainsByTenant(_ context.Context, tenantID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := []string{}
	for name, d := range r.domains {
		if d.TenantID == tenantID {
			deleted = append(deleted, name)
			delete(r.domains, name)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (r *MemoryDomainsRepository) SetPrimary(_ context.Context, tenantID, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.domains[domainName]
	if !ok || target.TenantID != tenantID {
		return domain.ErrNotFound
	}
	for _, d := range r.domains {
		if d.TenantID == tenantID {
			d.IsPrimary = false
		}
	}
	target.IsPrimary = true
	return nil
}
