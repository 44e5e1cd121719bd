package repository

import (
	"context"
	"time"

	"qtable-tenant/internal/domain"
)

// TenantsRepository 租户目录 Repository 接口
// 使用强类型领域模型；Repository 层只负责数据访问，状态机规则在 lifecycle 层
type TenantsRepository interface {
	// ========== 查询（单个）==========
	// GetTenant 根据 tenant_id 获取租户
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)

	// GetTenantBySlug 根据 slug 获取租户（开通流程做唯一性检查用）
	GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error)

	// ResolveByDomain 根据域名获取租户（JOIN tenant_domains，域名路由用）
	// 注意：domain 有唯一索引，最多命中一个租户
	ResolveByDomain(ctx context.Context, domainName string) (*domain.Tenant, error)

	// GetTenantByChannelToken 根据隔离凭证获取租户（post-auth guard 用：
	// 会话只带 channel_token，据此反查租户状态）
	GetTenantByChannelToken(ctx context.Context, channelToken string) (*domain.Tenant, error)

	// ========== 查询（列表）==========
	// ListTenants 查询租户列表（支持分页、过滤、搜索）
	ListTenants(ctx context.Context, filter TenantFilters, page, size int) ([]*domain.Tenant, int, error)

	// ListByStatusOlderThan 查询指定状态且 deleted_at 早于 cutoff 的租户（purge 调度器用）
	ListByStatusOlderThan(ctx context.Context, status domain.TenantStatus, cutoff time.Time) ([]*domain.Tenant, error)

	// ListChannelIDs 列出目录中所有已分配的 Channel ID（孤儿 Channel 对账用）
	ListChannelIDs(ctx context.Context) ([]string, error)

	// ========== 创建 ==========
	// CreateTenant 创建新租户（status 由调用方给定，开通流程从 requested 开始）
	// 注意：slug / channel_token 唯一性约束由数据库保证
	CreateTenant(ctx context.Context, tenant *domain.Tenant) (string, error)

	// CreateTenantWithDomain 单个事务内写入租户行和主域名行（开通流程用）
	// 任一唯一约束冲突（slug/domain/channel_token）整体回滚：
	// 域名被占不会留下没有域名的 requested 租户，slug 也不会被占用
	CreateTenantWithDomain(ctx context.Context, tenant *domain.Tenant, primary *domain.TenantDomain) (tenantID, domainID string, err error)

	// ========== 更新 ==========
	// TransitionStatus 状态转换（compare-and-set）
	// UPDATE ... WHERE tenant_id = $1 AND status = from：并发转换只有一个能成功，
	// 失败（0 行受影响）返回 ValidationError，调用方可重读重试
	TransitionStatus(ctx context.Context, tenantID string, from, to domain.TenantStatus, ts StatusTimestamps) error

	// UpdateTenant 更新租户基本信息（name/plan/config，不含 status）
	UpdateTenant(ctx context.Context, tenantID string, upd TenantUpdate) error

	// ========== 删除 ==========
	// DeleteTenant 物理删除租户记录（仅 purge 终态后允许，由 lifecycle 层保证）
	DeleteTenant(ctx context.Context, tenantID string) error
}

// TenantFilters 租户查询过滤器
type TenantFilters struct {
	Status domain.TenantStatus // 可选，按 status 过滤
	Search string              // 可选，按 tenant_name 搜索（模糊匹配）
}

// StatusTimestamps 状态转换时的时间戳变更
// nil 表示不动该字段；Clear 为 true 时置 NULL（reactivation 清空时间戳）
type StatusTimestamps struct {
	SuspendedAt      *time.Time
	DeletedAt        *time.Time
	ClearSuspendedAt bool
	ClearDeletedAt   bool
}

// TenantUpdate 租户基本信息更新（零值字段不更新）
type TenantUpdate struct {
	TenantName string
	Plan       string
	Config     []byte
}
