package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"qtable-tenant/internal/audit"
	"qtable-tenant/internal/commerce"
	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/repository"
)

const (
	// DefaultGracePeriod pending_deletion → deleted 的宽限期
	DefaultGracePeriod = 30 * 24 * time.Hour

	// DefaultPurgeWindow deleted → purged 的保留窗口
	DefaultPurgeWindow = 90 * 24 * time.Hour

	// DefaultInterval 调度间隔
	DefaultInterval = 24 * time.Hour
)

// Scheduler 删除/销毁调度器
// 单个后台循环驱动（与自身串行，不会有重叠运行）；
// 每个租户单独处理，单个失败只打日志不中断整批
type Scheduler struct {
	manager  *Manager
	tenants  repository.TenantsRepository
	commerce commerce.Client
	recorder *audit.Recorder
	logger   *zap.Logger

	gracePeriod time.Duration
	purgeWindow time.Duration
	interval    time.Duration
	now         func() time.Time
}

// NewScheduler 创建调度器
func NewScheduler(
	manager *Manager,
	tenants repository.TenantsRepository,
	commerceClient commerce.Client,
	recorder *audit.Recorder,
	gracePeriod, purgeWindow, interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if purgeWindow <= 0 {
		purgeWindow = DefaultPurgeWindow
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		manager:     manager,
		tenants:     tenants,
		commerce:    commerceClient,
		recorder:    recorder,
		logger:      logger,
		gracePeriod: gracePeriod,
		purgeWindow: purgeWindow,
		interval:    interval,
		now:         time.Now,
	}
}

// Start 启动调度循环（阻塞直到 ctx 取消）
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Purge scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("grace_period", s.gracePeriod),
		zap.Duration("purge_window", s.purgeWindow),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// 立即执行一次
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Purge scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce 跑一轮全部阶段
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.advanceExpiredGracePeriods(ctx)
	s.purgeExpiredDeleted(ctx)
	s.reconcileChannels(ctx)
}

// advanceExpiredGracePeriods Phase 1：宽限期已过的 pending_deletion 租户 → deleted
func (s *Scheduler) advanceExpiredGracePeriods(ctx context.Context) {
	cutoff := s.now().Add(-s.gracePeriod)
	tenants, err := s.tenants.ListByStatusOlderThan(ctx, domain.StatusPendingDeletion, cutoff)
	if err != nil {
		s.logger.Error("Failed to list tenants past grace period", zap.Error(err))
		return
	}

	for _, t := range tenants {
		if _, err := s.manager.Transition(ctx, t.TenantID, domain.StatusDeleted, ""); err != nil {
			// 单个失败不影响整批
			s.logger.Error("Failed to auto-delete tenant",
				zap.String("tenant_id", t.TenantID),
				zap.String("slug", t.Slug),
				zap.Error(err),
			)
			continue
		}

		metadata, _ := json.Marshal(map[string]string{
			"tenant_slug": t.Slug,
			"deleted_at":  t.DeletedAt.Format(time.RFC3339),
		})
		s.recorder.Record(ctx, &domain.AuditLogEntry{
			Action:   domain.AuditTenantAutoDeleted,
			Severity: domain.SeverityWarn,
			TenantID: t.TenantID,
			Metadata: metadata,
		})
	}
}

// purgeExpiredDeleted Phase 2：保留窗口已过的 deleted 租户 → purged（不可逆）
func (s *Scheduler) purgeExpiredDeleted(ctx context.Context) {
	cutoff := s.now().Add(-s.purgeWindow)
	tenants, err := s.tenants.ListByStatusOlderThan(ctx, domain.StatusDeleted, cutoff)
	if err != nil {
		s.logger.Error("Failed to list tenants past purge window", zap.Error(err))
		return
	}

	for _, t := range tenants {
		if err := s.manager.PurgeTenant(ctx, t.TenantID, ""); err != nil {
			s.logger.Error("Failed to purge tenant",
				zap.String("tenant_id", t.TenantID),
				zap.String("slug", t.Slug),
				zap.Error(err),
			)
			continue
		}
		s.logger.Warn("Tenant purged",
			zap.String("tenant_id", t.TenantID),
			zap.String("slug", t.Slug),
		)
	}
}

// reconcileChannels 孤儿 Channel 对账
// 开通流程在写 Tenant 记录之前失败会留下没有归属的 Channel；
// 这里只检出并审计（WARN），销毁决策留给平台运维 —— 自动删误报的代价不可接受
func (s *Scheduler) reconcileChannels(ctx context.Context) {
	channels, err := s.commerce.ListChannels(ctx)
	if err != nil {
		s.logger.Error("Failed to list channels for reconciliation", zap.Error(err))
		return
	}
	owned, err := s.tenants.ListChannelIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list directory channel ids", zap.Error(err))
		return
	}

	defaultChannel, err := s.commerce.GetDefaultChannel(ctx)
	if err != nil {
		s.logger.Error("Failed to get default channel for reconciliation", zap.Error(err))
		return
	}

	ownedSet := make(map[string]struct{}, len(owned))
	for _, id := range owned {
		ownedSet[id] = struct{}{}
	}

	for _, ch := range channels {
		if ch.ID == defaultChannel.ID {
			continue
		}
		if _, ok := ownedSet[ch.ID]; ok {
			continue
		}
		metadata, _ := json.Marshal(map[string]string{
			"channel_id":   ch.ID,
			"channel_code": ch.Code,
		})
		s.recorder.Record(ctx, &domain.AuditLogEntry{
			Action:   domain.AuditOrphanChannelDetected,
			Severity: domain.SeverityWarn,
			Metadata: metadata,
		})
		s.logger.Warn("Orphan channel detected",
			zap.String("channel_id", ch.ID),
			zap.String("channel_code", ch.Code),
		)
	}
}
