package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qtable-tenant/internal/commerce"
	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/events"
	"qtable-tenant/internal/repository"
)

// CacheInvalidator resolver 缓存失效接口（由 resolver.Resolver 实现）
// 状态/域名变更后立即失效，让 TTL 只是最坏情况的兜底
type CacheInvalidator interface {
	Invalidate(ctx context.Context, hostname string)
	InvalidateAll(ctx context.Context)
}

// Manager 租户生命周期管理器
// status 的所有写入都必须经过这里：读当前状态→查转换表→CAS 写入，
// 并发转换只有一个能成功（repository.TransitionStatus 带 WHERE status = from）
type Manager struct {
	tenants  repository.TenantsRepository
	domains  repository.DomainsRepository
	commerce commerce.Client
	cache    CacheInvalidator
	bus      events.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager 创建生命周期管理器
func NewManager(
	tenants repository.TenantsRepository,
	domains repository.DomainsRepository,
	commerceClient commerce.Client,
	cache CacheInvalidator,
	bus events.Bus,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		tenants:  tenants,
		domains:  domains,
		commerce: commerceClient,
		cache:    cache,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Transition 执行一次状态转换（含转换绑定的副作用）
func (m *Manager) Transition(ctx context.Context, tenantID string, to domain.TenantStatus, actorUserID string) (*domain.Tenant, error) {
	tenant, err := m.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	from := tenant.Status

	if err := ValidateTransition(from, to); err != nil {
		return nil, err
	}

	ts := repository.StatusTimestamps{}
	now := m.now()
	switch to {
	case domain.StatusSuspended:
		ts.SuspendedAt = &now
	case domain.StatusPendingDeletion:
		// deleted_at 是宽限期的锚点
		ts.DeletedAt = &now
	case domain.StatusActive, domain.StatusTrial:
		// reactivation：从暂停或删除宽限期回来的租户干净起步
		ts.ClearSuspendedAt = true
		ts.ClearDeletedAt = true
	}

	if err := m.tenants.TransitionStatus(ctx, tenantID, from, to, ts); err != nil {
		return nil, err
	}

	m.invalidateTenantDomains(ctx, tenantID)
	m.publishTransition(ctx, tenant, from, to, actorUserID)

	m.logger.Info("Tenant status transitioned",
		zap.String("tenant_id", tenantID),
		zap.String("tenant_slug", tenant.Slug),
		zap.String("transition", transitionLabel(from, to)),
	)

	return m.tenants.GetTenant(ctx, tenantID)
}

// PurgeTenant 不可逆销毁：级联删除全部域名和商务引擎侧的整个 Channel
// 前提：租户处于 deleted 状态。Channel 删除失败则不推进状态，等下一轮重试
func (m *Manager) PurgeTenant(ctx context.Context, tenantID, actorUserID string) error {
	tenant, err := m.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := ValidateTransition(tenant.Status, domain.StatusPurged); err != nil {
		return err
	}

	removed, err := m.domains.DeleteDomainsByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, d := range removed {
		m.cache.Invalidate(ctx, d)
	}

	if tenant.ChannelID != "" {
		if err := m.commerce.DeleteChannel(ctx, tenant.ChannelID); err != nil {
			return err
		}
	}

	if _, err := m.Transition(ctx, tenantID, domain.StatusPurged, actorUserID); err != nil {
		return err
	}
	return nil
}

// AddDomain 绑定额外域名
// 进入删除链路（pending_deletion 之后）的租户不再接受新域名
func (m *Manager) AddDomain(ctx context.Context, tenantID string, d *domain.TenantDomain) (*domain.TenantDomain, error) {
	tenant, err := m.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	switch tenant.Status {
	case domain.StatusPendingDeletion, domain.StatusDeleted, domain.StatusPurged:
		return nil, domain.NewValidationError("cannot bind domain to tenant %s in status %q", tenant.Slug, tenant.Status)
	}
	d.TenantID = tenantID
	id, err := m.domains.CreateDomain(ctx, d)
	if err != nil {
		return nil, err
	}
	d.DomainID = id
	// 新域名可能被负缓存挡着，立即清掉
	m.cache.Invalidate(ctx, d.Domain)
	return d, nil
}

// RemoveDomain 解绑域名
func (m *Manager) RemoveDomain(ctx context.Context, tenantID, domainName string) error {
	if err := m.domains.DeleteDomain(ctx, tenantID, domainName); err != nil {
		return err
	}
	m.cache.Invalidate(ctx, domainName)
	return nil
}

// invalidateTenantDomains 失效租户全部域名的解析缓存
// 拿不到域名列表时退化为全量失效（宁可多清，不可漏清）
func (m *Manager) invalidateTenantDomains(ctx context.Context, tenantID string) {
	list, err := m.domains.ListDomainsByTenant(ctx, tenantID)
	if err != nil {
		m.logger.Warn("Failed to list tenant domains for cache invalidation, flushing all",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		m.cache.InvalidateAll(ctx)
		return
	}
	for _, d := range list {
		m.cache.Invalidate(ctx, d.Domain)
	}
}

// publishTransition 发布生命周期事件（失败 log-and-continue，不阻断转换）
func (m *Manager) publishTransition(ctx context.Context, tenant *domain.Tenant, from, to domain.TenantStatus, actorUserID string) {
	base := events.LifecycleEvent{
		TenantID:    tenant.TenantID,
		TenantSlug:  tenant.Slug,
		FromStatus:  from,
		ToStatus:    to,
		ActorUserID: actorUserID,
		OccurredAt:  m.now(),
	}

	evs := []events.LifecycleEvent{}
	statusChanged := base
	statusChanged.EventID = uuid.New().String()
	statusChanged.Type = events.EventTenantStatusChanged
	evs = append(evs, statusChanged)

	var extra string
	switch to {
	case domain.StatusSuspended:
		extra = events.EventTenantSuspended
	case domain.StatusDeleted:
		extra = events.EventTenantDeleted
	case domain.StatusPurged:
		extra = events.EventTenantPurged
	}
	if extra != "" {
		ev := base
		ev.EventID = uuid.New().String()
		ev.Type = extra
		evs = append(evs, ev)
	}

	for _, ev := range evs {
		if err := m.bus.Publish(ctx, ev); err != nil {
			m.logger.Error("Failed to publish lifecycle event",
				zap.String("event_type", ev.Type),
				zap.String("tenant_id", ev.TenantID),
				zap.Error(err),
			)
		}
	}
}
