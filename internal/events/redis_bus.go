package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// DefaultStream 生命周期事件流名
	DefaultStream = "tenant-lifecycle"

	// DefaultGroup 审计订阅者消费组
	DefaultGroup = "audit"
)

// RedisBus Redis Streams 事件总线（多实例部署：事件只被消费组内一个实例处理）
type RedisBus struct {
	client *redis.Client
	stream string
	group  string
	logger *zap.Logger

	mu       sync.RWMutex
	handlers []Handler
}

// NewRedisBus 创建 Redis Streams 事件总线
func NewRedisBus(client *redis.Client, stream, group string, logger *zap.Logger) *RedisBus {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}
	return &RedisBus{
		client: client,
		stream: stream,
		group:  group,
		logger: logger,
	}
}

var _ Bus = (*RedisBus)(nil)

// Publish 发布事件（XADD，JSON 负载）
func (b *RedisBus) Publish(ctx context.Context, ev LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}
	return nil
}

// Subscribe 注册订阅（消费循环由 Run 驱动）
func (b *RedisBus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// ensureGroup 创建消费组（已存在则忽略）
func (b *RedisBus) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run 启动消费循环（阻塞直到 ctx 取消）
func (b *RedisBus) Run(ctx context.Context, consumer string) error {
	if err := b.ensureGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.logger.Info("Lifecycle event consumer started",
		zap.String("stream", b.stream),
		zap.String("group", b.group),
		zap.String("consumer", consumer),
	)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Lifecycle event consumer stopped")
			return nil
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    32,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Error("Failed to read lifecycle events", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.dispatch(ctx, msg)
				_ = b.client.XAck(ctx, b.stream, b.group, msg.ID).Err()
			}
		}
	}
}

func (b *RedisBus) dispatch(ctx context.Context, msg redis.XMessage) {
	raw, _ := msg.Values["data"].(string)
	if raw == "" {
		return
	}
	var ev LifecycleEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		b.logger.Warn("Failed to decode lifecycle event",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
