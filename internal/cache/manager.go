// Package cache wraps the Redis client shared by the run store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/config"
)

// =============================================================================
// 💾 Redis 管理器
// =============================================================================

var (
	// ErrCacheMiss 键不存在
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Manager 持有 Redis 客户端，提供 JSON 读写与有序集合索引
type Manager struct {
	redis  *redis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewManager 连接 Redis 并验证连通性
func NewManager(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return &Manager{
		redis:  client,
		logger: logger.With(zap.String("component", "cache")),
	}, nil
}

func (m *Manager) client() (*redis.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.redis, nil
}

// GetJSON 读取并反序列化 key，不存在返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// MGetJSON 批量读取；decode 对每个存在的值调用一次，缺失的键被跳过并返回
func (m *Manager) MGetJSON(ctx context.Context, keys []string, decode func(i int, data []byte) error) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	c, err := m.client()
	if err != nil {
		return nil, err
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache mget failed: %w", err)
	}
	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		if err := decode(i, []byte(s)); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// SetJSON 序列化并写入；ttl 为 0 表示不过期
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	c, err := m.client()
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, data, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete 删除键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	c, err := m.client()
	if err != nil {
		return err
	}
	if err := c.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// =============================================================================
// 📇 有序集合索引
// =============================================================================

// IndexAdd 以 score 写入索引成员
func (m *Manager) IndexAdd(ctx context.Context, index, member string, score float64) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	return c.ZAdd(ctx, index, redis.Z{Score: score, Member: member}).Err()
}

// IndexNewest 按 score 从高到低返回最多 limit 个成员
func (m *Manager) IndexNewest(ctx context.Context, index string, limit int) ([]string, error) {
	c, err := m.client()
	if err != nil {
		return nil, err
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	return c.ZRevRange(ctx, index, 0, stop).Result()
}

// IndexRemove 删除索引成员
func (m *Manager) IndexRemove(ctx context.Context, index string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	c, err := m.client()
	if err != nil {
		return err
	}
	args := make([]any, len(members))
	for i, s := range members {
		args[i] = s
	}
	return c.ZRem(ctx, index, args...).Err()
}

// IndexTrimBefore 删除 score 小于 floor 的成员，返回删除数量
func (m *Manager) IndexTrimBefore(ctx context.Context, index string, floor float64) (int64, error) {
	c, err := m.client()
	if err != nil {
		return 0, err
	}
	return c.ZRemRangeByScore(ctx, index, "-inf", fmt.Sprintf("(%f", floor)).Result()
}

// Ping 检查连接
func (m *Manager) Ping(ctx context.Context) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	return c.Ping(ctx).Err()
}

// Close 关闭客户端，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("closing redis client")
	return m.redis.Close()
}
