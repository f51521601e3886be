package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/cache"
	"github.com/BaSui01/scenegen/workflow"
)

// RedisStore keeps each report as a JSON value under KeyPrefix+id, plus a
// sorted-set index scored by start time for listing.
type RedisStore struct {
	cache  *cache.Manager
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a store on an open cache manager. The store owns m.
func NewRedisStore(m *cache.Manager, cfg config.StoreConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = config.DefaultStoreConfig().KeyPrefix
	}
	return &RedisStore{
		cache:  m,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) index() string { return s.prefix + "index" }

func score(rep *workflow.Report) float64 {
	if rep.StartedAt.IsZero() {
		return float64(time.Now().UnixNano())
	}
	return float64(rep.StartedAt.UnixNano())
}

func (s *RedisStore) Save(ctx context.Context, rep *workflow.Report) error {
	// 运行中的快照不过期，完成后才开始计算 TTL
	var ttl time.Duration
	if rep.Terminal() {
		ttl = s.ttl
	}
	if err := s.cache.SetJSON(ctx, s.key(rep.ID), rep, ttl); err != nil {
		return fmt.Errorf("save run %s: %w", rep.ID, err)
	}
	if err := s.cache.IndexAdd(ctx, s.index(), rep.ID, score(rep)); err != nil {
		return fmt.Errorf("index run %s: %w", rep.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*workflow.Report, error) {
	var rep workflow.Report
	if err := s.cache.GetJSON(ctx, s.key(id), &rep); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, notFound(id)
		}
		return nil, err
	}
	return &rep, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*workflow.Report, error) {
	ids, err := s.cache.IndexNewest(ctx, s.index(), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	out := make([]*workflow.Report, 0, len(ids))
	missing, err := s.cache.MGetJSON(ctx, keys, func(_ int, data []byte) error {
		var rep workflow.Report
		if err := json.Unmarshal(data, &rep); err != nil {
			return err
		}
		out = append(out, &rep)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 值已过期的索引项顺带清理
	if len(missing) > 0 {
		stale := make([]string, len(missing))
		for i, k := range missing {
			stale[i] = k[len(s.prefix):]
		}
		if err := s.cache.IndexRemove(ctx, s.index(), stale...); err != nil {
			s.logger.Warn("index cleanup failed", zap.Error(err))
		}
	}
	sortNewest(out)
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.cache.Ping(ctx) }

func (s *RedisStore) Close() error { return s.cache.Close() }
