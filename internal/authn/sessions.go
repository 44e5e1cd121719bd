package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"qtable-tenant/internal/domain"
)

// SessionStore 会话查询接口
// Lookup 失败分两类：不存在 → domain.ErrNotFound；基础设施错误原样上抛
type SessionStore interface {
	Lookup(ctx context.Context, token string) (*Principal, error)

	// Put 写入会话（dev bootstrap / 外部认证服务回写用）
	Put(ctx context.Context, token string, p *Principal, ttl time.Duration) error
}

// RedisSessionStore Redis 会话存储（与认证服务共享）
// key: session:<token>，值为 Principal JSON
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore 创建 Redis 会话存储
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

var _ SessionStore = (*RedisSessionStore)(nil)

func sessionKey(token string) string { return "session:" + token }

func (s *RedisSessionStore) Lookup(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, domain.ErrNotFound
	}
	val, err := s.client.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lookup session: %w", err)
	}
	var p Principal
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &p, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, token string, p *Principal, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(token), string(data), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// MemorySessionStore 进程内会话存储（dev/test）
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Principal
}

// NewMemorySessionStore 创建内存会话存储
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]*Principal{}}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (s *MemorySessionStore) Lookup(_ context.Context, token string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.sessions[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemorySessionStore) Put(_ context.Context, token string, p *Principal, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.sessions[token] = &cp
	return nil
}
