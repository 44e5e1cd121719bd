package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"qtable-tenant/internal/domain"
)

// MemoryAuditRepository in-memory AuditRepository (dev/test)
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLogEntry
}

// NewMemoryAuditRepository 创建内存审计 Repository
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

var _ AuditRepository = (*MemoryAuditRepository)(nil)

func (r *MemoryAuditRepository) Insert(_ context.Context, entry *domain.AuditLogEntry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *entry
	if cp.AuditID == "" {
		cp.AuditID = uuid.New().String()
	}
	if cp.Severity == "" {
		cp.Severity = domain.SeverityInfo
	}
	cp.CreatedAt = time.Now()
	r.entries = append(r.entries, &cp)
	return cp.AuditID, nil
}

func (r *MemoryAuditRepository) Query(_ context.Context, filter domain.AuditFilters, page, size int) ([]*domain.AuditLogEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []*domain.AuditLogEntry{}
	for _, e := range r.entries {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !e.CreatedAt.Before(*filter.To) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
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
	return matched[start:end], total, nil
}
