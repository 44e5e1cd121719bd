package events

import (
	"context"
	"sync"
	"time"

	"qtable-tenant/internal/domain"
)

// 租户生命周期事件流。
// Lifecycle Manager 只负责发事件，审计订阅者自己决定记什么 —
// "发生了什么" 和 "必须被记录" 解耦。

// 事件类型
const (
	EventTenantCreated       = "TenantCreated"
	EventTenantStatusChanged = "TenantStatusChanged"
	EventTenantSuspended     = "TenantSuspended"
	EventTenantDeleted       = "TenantDeleted"
	EventTenantPurged        = "TenantPurged"
)

// LifecycleEvent 租户生命周期事件
type LifecycleEvent struct {
	EventID     string              `json:"event_id"`
	Type        string              `json:"type"`
	TenantID    string              `json:"tenant_id"`
	TenantSlug  string              `json:"tenant_slug"`
	FromStatus  domain.TenantStatus `json:"from_status,omitempty"`
	ToStatus    domain.TenantStatus `json:"to_status,omitempty"`
	ActorUserID string              `json:"actor_user_id,omitempty"` // 系统触发（purge 调度器）为空
	OccurredAt  time.Time           `json:"occurred_at"`
}

// Handler 事件处理函数
type Handler func(ctx context.Context, ev LifecycleEvent)

// Bus 事件总线接口
type Bus interface {
	// Publish 发布事件（发布失败不应阻断触发它的业务操作，调用方 log-and-continue）
	Publish(ctx context.Context, ev LifecycleEvent) error

	// Subscribe 注册订阅（RedisBus 需另行调用 Run 启动消费循环）
	Subscribe(h Handler)
}

// MemoryBus 进程内事件总线（dev/test；单进程部署也够用）
// Publish 同步分发给全部订阅者
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewMemoryBus 创建进程内事件总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(ctx context.Context, ev LifecycleEvent) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}
