package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/cache"
	"github.com/BaSui01/scenegen/internal/database"
	"github.com/BaSui01/scenegen/types"
	"github.com/BaSui01/scenegen/workflow"
)

// ErrNotFound is wrapped by every NOT_FOUND error a store returns.
var ErrNotFound = errors.New("run not found")

// Store persists workflow reports and owns its backing connection.
type Store interface {
	workflow.Store
	Ping(ctx context.Context) error
	Close() error
}

// Purger is implemented by stores whose expired reports must be deleted
// explicitly.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

func notFound(id string) error {
	return types.Errorf(types.ErrNotFound, "run %s not found", id).WithCause(ErrNotFound)
}

// expired 报告完成时间早于 TTL 窗口即视为过期；未完成的报告从不过期
func expired(rep *workflow.Report, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 || rep.FinishedAt == nil {
		return false
	}
	return now.Sub(*rep.FinishedAt) > ttl
}

// New opens the store selected by cfg.Store.Driver.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := cfg.Store
	switch sc.Driver {
	case "", "memory":
		return NewMemoryStore(sc), nil
	case "redis":
		m, err := cache.NewManager(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(m, sc, logger), nil
	case "database":
		pm, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		// sqlite 单机部署直接建表，其余方言由 scenegen migrate 管理
		s, err := NewSQLStore(pm, SQLOptions{TTL: sc.TTL, AutoMigrate: cfg.Database.Driver == "sqlite"}, logger)
		if err != nil {
			_ = pm.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}
