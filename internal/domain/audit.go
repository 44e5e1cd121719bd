package domain

import (
	"encoding/json"
	"time"
)

// AuditSeverity 审计事件级别
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarn     AuditSeverity = "warn"
	SeverityCritical AuditSeverity = "critical"
)

// 审计 action 标识（安全相关事件）
const (
	AuditTenantCreated            = "TENANT_CREATED"
	AuditTenantStatusChanged      = "TENANT_STATUS_CHANGED"
	AuditTenantSuspended          = "TENANT_SUSPENDED"
	AuditTenantDeleted            = "TENANT_DELETED"
	AuditTenantAutoDeleted        = "TENANT_AUTO_DELETED"
	AuditTenantPurged             = "TENANT_PURGED"
	AuditTokenMismatch            = "TOKEN_SUBSTITUTION_ATTEMPT"
	AuditCrossTenantBlocked       = "CROSS_TENANT_ATTEMPT_BLOCKED"
	AuditDefaultScopeBlocked      = "DEFAULT_SCOPE_ACCESS_BLOCKED"
	AuditSuspendedMutationBlocked = "SUSPENDED_TENANT_MUTATION_BLOCKED"
	AuditOrphanChannelDetected    = "ORPHAN_CHANNEL_DETECTED"

	// SuperAdmin 的豁免不是隐形旁路：每次使用都留痕
	AuditSuperAdminDefaultScope = "SUPERADMIN_DEFAULT_SCOPE_ACCESS"
	AuditSuperAdminCrossTenant  = "SUPERADMIN_CROSS_TENANT_ACCESS"
)

// AuditLogEntry 审计日志条目（对应 audit_log 表）
// 只增不改：创建后永不更新/删除（保留策略是运维层面的事情）
type AuditLogEntry struct {
	AuditID  string        `db:"audit_id"` // UUID, PRIMARY KEY
	Action   string        `db:"action"`   // VARCHAR(100), NOT NULL
	Severity AuditSeverity `db:"severity"` // VARCHAR(20), NOT NULL

	// 上下文（均可为空：系统触发的事件没有 actor）
	ActorUserID  string `db:"actor_user_id"` // nullable
	ChannelToken string `db:"channel_token"` // nullable
	TenantID     string `db:"tenant_id"`     // nullable（不加 FK：租户 purge 后审计仍须保留）

	// 事件详情
	Metadata  json.RawMessage `db:"metadata"`   // JSONB, nullable
	IPAddress string          `db:"ip_address"` // nullable
	CreatedAt time.Time       `db:"created_at"` // 写入时设置，不可变
}

// AuditFilters 审计日志查询过滤器
type AuditFilters struct {
	Action   string        // 可选，按 action 精确匹配
	Severity AuditSeverity // 可选
	TenantID string        // 可选
	From     *time.Time    // 可选，created_at >= From
	To       *time.Time    // 可选，created_at < To
}
