package authn

// 认证本身是外部协作者（会话签发不在本服务内）。
// 这里只消费一个已经签发的会话 token，换出请求主体（Principal）。

// 角色能力级别
const (
	// RoleSuperAdmin 平台最高权限：唯一允许使用 default scope 的级别
	// 刻意做成显式角色检查而不是权限机制里的隐式 bypass，所有使用都会被审计
	RoleSuperAdmin = "SuperAdmin"

	// RoleTenantAdmin 租户管理员（业务权限，scope 限定在自己的 Channel）
	RoleTenantAdmin = "TenantAdmin"

	// RoleStaff 租户普通成员
	RoleStaff = "Staff"
)

// Principal 已认证的请求主体
type Principal struct {
	UserID string `json:"user_id"`

	// ChannelToken 会话绑定的数据 scope（隔离凭证）
	// SuperAdmin 的会话可以绑定 default channel token
	ChannelToken string `json:"channel_token"`

	Role string `json:"role"`
}

// IsSuperAdmin 是否为平台最高权限
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == RoleSuperAdmin
}
