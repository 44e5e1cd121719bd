package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qtable-tenant/internal/commerce"
	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/events"
)

// ProvisionInput 开通请求
type ProvisionInput struct {
	Name          string          `json:"tenant_name"`
	Slug          string          `json:"slug"`
	PrimaryDomain string          `json:"primary_domain"`
	Plan          string          `json:"plan"`
	Config        json.RawMessage `json:"config"`

	// 初始管理员
	AdminEmail     string `json:"admin_email"`
	AdminFirstName string `json:"admin_first_name"`
	AdminLastName  string `json:"admin_last_name"`
	AdminPassword  string `json:"admin_password"` // 为空则生成临时密码

	// Channel 默认参数
	Language       string `json:"language"`
	Currency       string `json:"currency"`
	TaxZoneID      string `json:"tax_zone_id"`
	ShippingZoneID string `json:"shipping_zone_id"`

	ActorUserID string `json:"-"`
}

// ProvisionResult 开通结果
type ProvisionResult struct {
	Tenant        *domain.Tenant       `json:"tenant"`
	PrimaryDomain *domain.TenantDomain `json:"primary_domain"`
	AdminEmail    string               `json:"admin_email"`
	TempPassword  string               `json:"temp_password,omitempty"` // 仅当密码是生成的才返回
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// generateChannelToken 生成隔离凭证（不透明随机串）
func generateChannelToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return "ct_" + base64.RawURLEncoding.EncodeToString(b)
}

// genTempPassword 初始管理员临时密码
func genTempPassword() string {
	b := make([]byte, 9)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// Provision 多步开通流程。步骤顺序是正确性约束：
//
//	1. slug 唯一性校验
//	2. 创建 Seller（业务主体）
//	3. 创建 Channel（数据隔离边界 + 隔离凭证）
//	4. 把 SuperAdmin 角色授到新 Channel —— 必须在 5/6 之前：
//	   角色/管理员创建要对目标 Channel 做权限校验，跳过这一步会在 5 直接报权限错误
//	5. 创建租户管理员角色（只有业务权限，不含平台级权限）
//	6. 创建初始管理员账号
//	7. 单个事务写入 Tenant 记录（status=requested）+ 主域名：
//	   域名冲突整体回滚，不会烧掉 slug、也不会留下没有域名的半个租户
//	8. requested → provisioning → trial（两次受校验的转换）
//	9. 发布 TenantCreated
//
// 步骤 7 之前失败会留下商务引擎侧的孤儿资源（Seller/Channel），不会留下半个
// Tenant 记录；孤儿 Channel 由调度器的对账通道检出并审计（见 Scheduler.reconcileChannels）。
// 同 slug 重试：7 成功过则在 1 处冲突报错，否则从头干净重跑。
func (m *Manager) Provision(ctx context.Context, in ProvisionInput) (*ProvisionResult, error) {
	if in.Name == "" || in.Slug == "" || in.PrimaryDomain == "" || in.AdminEmail == "" {
		return nil, domain.NewValidationError("tenant_name, slug, primary_domain and admin_email are required")
	}
	if !slugPattern.MatchString(in.Slug) {
		return nil, domain.NewValidationError("slug %q must be lowercase alphanumeric with hyphens", in.Slug)
	}
	if in.Language == "" {
		in.Language = "en"
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}

	// 1. slug 唯一性
	if _, err := m.tenants.GetTenantBySlug(ctx, in.Slug); err == nil {
		return nil, domain.NewValidationError("tenant slug %q is already taken", in.Slug)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.ProvisioningError{Step: "check-slug", Err: err}
	}

	// 2. Seller
	sellerID, err := m.commerce.CreateSeller(ctx, in.Name)
	if err != nil {
		return nil, &domain.ProvisioningError{Step: "create-seller", Err: err}
	}

	// 3. Channel + 隔离凭证
	channel, err := m.commerce.CreateChannel(ctx, commerce.CreateChannelRequest{
		Code:            in.Slug,
		Token:           generateChannelToken(),
		SellerID:        sellerID,
		DefaultLanguage: in.Language,
		Currency:        in.Currency,
		TaxZoneID:       in.TaxZoneID,
		ShippingZoneID:  in.ShippingZoneID,
	})
	if err != nil {
		return nil, &domain.ProvisioningError{Step: "create-channel", Err: err}
	}

	// 4. SuperAdmin 角色授权到新 Channel（必须先于 5/6）
	superAdminRoleID, err := m.commerce.GetSuperAdminRole(ctx)
	if err != nil {
		return nil, &domain.ProvisioningError{Step: "lookup-superadmin-role", Err: err}
	}
	if err := m.commerce.AssignRoleToChannel(ctx, superAdminRoleID, channel.ID); err != nil {
		return nil, &domain.ProvisioningError{Step: "grant-superadmin-channel", Err: err}
	}

	// 5. 租户管理员角色（固定业务权限清单，不含平台级权限）
	roleID, err := m.commerce.CreateRole(ctx, commerce.CreateRoleRequest{
		Code:        in.Slug + "-admin",
		Description: fmt.Sprintf("Administrator of tenant %s", in.Name),
		ChannelIDs:  []string{channel.ID},
		Permissions: commerce.TenantAdminPermissions,
	})
	if err != nil {
		return nil, &domain.ProvisioningError{Step: "create-tenant-role", Err: err}
	}

	// 6. 初始管理员
	adminPassword := in.AdminPassword
	tempPassword := ""
	if adminPassword == "" {
		adminPassword = genTempPassword()
		tempPassword = adminPassword
	}
	if _, err := m.commerce.CreateAdministrator(ctx, commerce.CreateAdministratorRequest{
		FirstName: in.AdminFirstName,
		LastName:  in.AdminLastName,
		Email:     in.AdminEmail,
		Password:  adminPassword,
		RoleIDs:   []string{roleID},
	}); err != nil {
		return nil, &domain.ProvisioningError{Step: "create-admin", Err: err}
	}

	// 7. Tenant 记录 + 主域名，单个事务落库（channel_token 在此设置一次，之后不再变更）
	primary := &domain.TenantDomain{
		Domain:    in.PrimaryDomain,
		IsPrimary: true,
	}
	tenantID, domainID, err := m.tenants.CreateTenantWithDomain(ctx, &domain.Tenant{
		TenantName:   in.Name,
		Slug:         in.Slug,
		Status:       domain.StatusRequested,
		ChannelID:    channel.ID,
		ChannelToken: channel.Token,
		Plan:         in.Plan,
		Config:       in.Config,
	}, primary)
	if err != nil {
		if domain.IsValidation(err) {
			return nil, err
		}
		return nil, &domain.ProvisioningError{Step: "create-tenant", Err: err}
	}
	primary.TenantID = tenantID
	primary.DomainID = domainID
	m.cache.Invalidate(ctx, in.PrimaryDomain)

	// 8. requested → provisioning → trial
	if _, err := m.Transition(ctx, tenantID, domain.StatusProvisioning, in.ActorUserID); err != nil {
		return nil, &domain.ProvisioningError{Step: "transition-provisioning", Err: err}
	}
	tenant, err := m.Transition(ctx, tenantID, domain.StatusTrial, in.ActorUserID)
	if err != nil {
		return nil, &domain.ProvisioningError{Step: "transition-trial", Err: err}
	}

	// 9. TenantCreated
	if err := m.bus.Publish(ctx, events.LifecycleEvent{
		EventID:     uuid.New().String(),
		Type:        events.EventTenantCreated,
		TenantID:    tenantID,
		TenantSlug:  in.Slug,
		ToStatus:    domain.StatusTrial,
		ActorUserID: in.ActorUserID,
		OccurredAt:  m.now(),
	}); err != nil {
		m.logger.Error("Failed to publish TenantCreated event",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}

	m.logger.Info("Tenant provisioned",
		zap.String("tenant_id", tenantID),
		zap.String("slug", in.Slug),
		zap.String("primary_domain", in.PrimaryDomain),
	)

	return &ProvisionResult{
		Tenant:        tenant,
		PrimaryDomain: primary,
		AdminEmail:    in.AdminEmail,
		TempPassword:  tempPassword,
	}, nil
}
