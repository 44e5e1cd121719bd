package resolver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"qtable-tenant/internal/domain"
)

// cachedResolution 缓存条目
// NotFound 标记负缓存（域名不存在 / 租户不可运营，对外不区分）
type cachedResolution struct {
	NotFound   bool                     `json:"not_found"`
	Resolution *domain.TenantResolution `json:"resolution,omitempty"`
	ExpiresAt  time.Time                `json:"expires_at"`
}

// Cache 解析结果缓存接口
// 本地默认用 MemoryCache；多实例部署换 RedisCache，调用方无需改动
type Cache interface {
	Get(ctx context.Context, host string) (*cachedResolution, bool)
	Set(ctx context.Context, host string, entry *cachedResolution, ttl time.Duration)
	Delete(ctx context.Context, host string)
	Flush(ctx context.Context)
}

// MemoryCache 进程内缓存（mutex-guarded map）
// 过期条目在 Get 时惰性剔除，不做后台清理（条目数 = 活跃域名数，量级很小）
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedResolution
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]*cachedResolution{}}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(_ context.Context, host string) (*cachedResolution, bool) {
	c.mu.RLock()
	entry, ok := c.entries[host]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// 重查一遍：期间可能已被并发 Set 覆盖成新条目
		if cur, ok2 := c.entries[host]; ok2 && time.Now().After(cur.ExpiresAt) {
			delete(c.entries, host)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry, true
}

func (c *MemoryCache) Set(_ context.Context, host string, entry *cachedResolution, ttl time.Duration) {
	entry.ExpiresAt = time.Now().Add(ttl)
	c.mu.Lock()
	c.entries[host] = entry
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()
}

func (c *MemoryCache) Flush(_ context.Context) {
	c.mu.Lock()
	c.entries = map[string]*cachedResolution{}
	c.mu.Unlock()
}

// RedisCache Redis 缓存（多实例部署共享解析结果）
// key: resolve:<host>，TTL 由 Redis 管理
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

var _ Cache = (*RedisCache)(nil)

func redisKey(host string) string { return "resolve:" + host }

func (c *RedisCache) Get(ctx context.Context, host string) (*cachedResolution, bool) {
	val, err := c.client.Get(ctx, redisKey(host)).Result()
	if err != nil {
		// redis.Nil 或连接错误都当 miss 处理：缓存只是优化，目录才是事实
		return nil, false
	}
	var entry cachedResolution
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Set(ctx context.Context, host string, entry *cachedResolution, ttl time.Duration) {
	entry.ExpiresAt = time.Now().Add(ttl)
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, redisKey(host), string(data), ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, host string) {
	_ = c.client.Del(ctx, redisKey(host)).Err()
}

func (c *RedisCache) Flush(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "resolve:*", 200).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			_ = c.client.Del(ctx, keys...).Err()
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
