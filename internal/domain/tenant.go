package domain

import (
	"encoding/json"
	"time"
)

// TenantStatus 租户生命周期状态
// 状态只能通过 lifecycle.Manager 的转换表变化，其他代码不得直接写 status
type TenantStatus string

const (
	StatusRequested       TenantStatus = "requested"
	StatusProvisioning    TenantStatus = "provisioning"
	StatusTrial           TenantStatus = "trial"
	StatusActive          TenantStatus = "active"
	StatusSuspended       TenantStatus = "suspended"
	StatusPendingDeletion TenantStatus = "pending_deletion"
	StatusDeleted         TenantStatus = "deleted"
	StatusPurged          TenantStatus = "purged" // 终态，不可再转换
)

// IsOperational 租户是否可被域名解析（只有 trial/active 对外可见）
func (s TenantStatus) IsOperational() bool {
	return s == StatusTrial || s == StatusActive
}

// Tenant 租户领域模型（对应 tenants 表）
// 一个租户独占一个 Channel（数据隔离边界），channel_token 是请求层的隔离凭证
type Tenant struct {
	// 主键
	TenantID string `db:"tenant_id"` // UUID, PRIMARY KEY

	// 基本信息
	TenantName string `db:"tenant_name"` // VARCHAR(255), NOT NULL
	Slug       string `db:"slug"`        // VARCHAR(100), UNIQUE, URL-safe 子域名 key

	// 状态
	Status TenantStatus `db:"status"` // VARCHAR(50), DEFAULT 'requested'

	// 数据隔离（provisioning 结束时设置一次，之后不再变更）
	ChannelID    string `db:"channel_id"`    // 商务引擎 Channel ID
	ChannelToken string `db:"channel_token"` // VARCHAR(64), UNIQUE, 隔离凭证

	// 订阅计划
	Plan string `db:"plan"` // VARCHAR(50), DEFAULT 'trial'

	// 扩展配置（feature flags/配额/品牌等，本层不解释其内容）
	Config json.RawMessage `db:"config"` // JSONB, nullable

	// 生命周期时间戳
	SuspendedAt *time.Time `db:"suspended_at"` // 进入 suspended 时设置，恢复时清空
	DeletedAt   *time.Time `db:"deleted_at"`   // 进入 pending_deletion 时设置（宽限期锚点）
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// TenantDomain 租户域名（对应 tenant_domains 表）
// 多个域名 → 一个租户；domain 全局唯一
type TenantDomain struct {
	DomainID  string `db:"domain_id"` // UUID, PRIMARY KEY
	TenantID  string `db:"tenant_id"` // UUID, NOT NULL, FK to tenants
	Domain    string `db:"domain"`    // VARCHAR(255), UNIQUE, NOT NULL
	IsPrimary bool   `db:"is_primary"`

	// 证书状态（信息性字段，本核心不强制）
	SSLStatus string `db:"ssl_status"` // VARCHAR(50), DEFAULT 'pending'

	// 自定义域名的所有权验证时间
	VerifiedAt *time.Time `db:"verified_at"` // nullable
	CreatedAt  time.Time  `db:"created_at"`
}

// TenantResolution 域名解析结果（仅缓存，不落库）
type TenantResolution struct {
	ChannelToken string       `json:"channel_token"`
	TenantID     string       `json:"tenant_id"`
	TenantSlug   string       `json:"tenant_slug"`
	TenantStatus TenantStatus `json:"tenant_status"`
	ExpiresAt    time.Time    `json:"expires_at"`
}
