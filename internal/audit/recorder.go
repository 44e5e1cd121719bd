package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"qtable-tenant/internal/domain"
	"qtable-tenant/internal/events"
	"qtable-tenant/internal/repository"
)

// Recorder 审计记录器
// Record 失败只打日志不回传错误：审计写入失败不应阻断触发它的业务操作
// （当前没有任何流程要求"审计落盘后才能继续"）
type Recorder struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

// NewRecorder 创建审计记录器
func NewRecorder(repo repository.AuditRepository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record 同步追加一条审计记录（log-and-continue）
func (r *Recorder) Record(ctx context.Context, entry *domain.AuditLogEntry) {
	if _, err := r.repo.Insert(ctx, entry); err != nil {
		r.logger.Error("Failed to write audit entry",
			zap.String("action", entry.Action),
			zap.String("tenant_id", entry.TenantID),
			zap.Error(err),
		)
	}
}

// Query 分页查询审计日志（平台权限校验在 HTTP 层）
func (r *Recorder) Query(ctx context.Context, filter domain.AuditFilters, page, size int) ([]*domain.AuditLogEntry, int, error) {
	return r.repo.Query(ctx, filter, page, size)
}

// SubscribeLifecycle 订阅生命周期事件流并自动写审计
// 发事件的组件不需要知道审计的存在
func (r *Recorder) SubscribeLifecycle(bus events.Bus) {
	bus.Subscribe(func(ctx context.Context, ev events.LifecycleEvent) {
		entry := lifecycleEntry(ev)
		if entry == nil {
			return
		}
		r.Record(ctx, entry)
	})
}

// lifecycleEntry 事件 → 审计条目映射
func lifecycleEntry(ev events.LifecycleEvent) *domain.AuditLogEntry {
	var action string
	severity := domain.SeverityInfo

	switch ev.Type {
	case events.EventTenantCreated:
		action = domain.AuditTenantCreated
	case events.EventTenantStatusChanged:
		action = domain.AuditTenantStatusChanged
	case events.EventTenantSuspended:
		action = domain.AuditTenantSuspended
		severity = domain.SeverityWarn
	case events.EventTenantDeleted:
		action = domain.AuditTenantDeleted
		severity = domain.SeverityWarn
	case events.EventTenantPurged:
		action = domain.AuditTenantPurged
		severity = domain.SeverityCritical
	default:
		return nil
	}

	metadata, _ := json.Marshal(map[string]string{
		"tenant_slug": ev.TenantSlug,
		"from_status": string(ev.FromStatus),
		"to_status":   string(ev.ToStatus),
		"event_id":    ev.EventID,
		"occurred_at": ev.OccurredAt.Format(time.RFC3339),
	})

	return &domain.AuditLogEntry{
		Action:      action,
		Severity:    severity,
		ActorUserID: ev.ActorUserID,
		TenantID:    ev.TenantID,
		Metadata:    metadata,
	}
}
