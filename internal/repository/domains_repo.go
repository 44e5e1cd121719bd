package repository

import (
	"context"

	"qtable-tenant/internal/domain"
)

// DomainsRepository 租户域名 Repository 接口
type DomainsRepository interface {
	// ListDomainsByTenant 查询租户的全部域名（primary 在前）
	ListDomainsByTenant(ctx context.Context, tenantID string) ([]*domain.TenantDomain, error)

	// CreateDomain 绑定新域名
	// 注意：domain 全局唯一约束由数据库保证，冲突返回 ValidationError
	CreateDomain(ctx context.Context, d *domain.TenantDomain) (string, error)

	// DeleteDomain 解绑域名（按 tenant_id + domain，防止跨租户误删）
	DeleteDomain(ctx context.Context, tenantID, domainName string) error

	// DeleteDomainsByTenant 删除租户全部域名（purge 级联用），返回被删除的域名列表
	// 返回值用于逐个失效 resolver 缓存
	DeleteDomainsByTenant(ctx context.Context, tenantID string) ([]string, error)

	// SetPrimary 切换主域名（软不变量：每个租户同一时刻只有一个 primary）
	SetPrimary(ctx context.Context, tenantID, domainName string) error
}
