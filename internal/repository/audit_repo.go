package repository

import (
	"context"

	"qtable-tenant/internal/domain"
)

// AuditRepository 审计日志 Repository 接口
// 只有 Insert 和 Query：审计条目创建后不可变，接口上就不提供更新/删除
type AuditRepository interface {
	// Insert 追加一条审计记录
	Insert(ctx context.Context, entry *domain.AuditLogEntry) (string, error)

	// Query 分页查询（按 action/severity/tenant/时间范围过滤，created_at 倒序）
	Query(ctx context.Context, filter domain.AuditFilters, page, size int) ([]*domain.AuditLogEntry, int, error)
}
