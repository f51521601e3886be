package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/scenegen/internal/database"
	"github.com/BaSui01/scenegen/workflow"
)

// runRecord 对应 workflow_runs 表，schema 由 internal/migration 管理
type runRecord struct {
	ID          string     `gorm:"primaryKey;size:64"`
	Description string     `gorm:"type:text"`
	Method      string     `gorm:"size:32"`
	Preset      string     `gorm:"size:64"`
	Outcome     string     `gorm:"size:16;index"`
	ErrorCode   string     `gorm:"size:64"`
	StartedAt   time.Time  `gorm:"index"`
	FinishedAt  *time.Time `gorm:"index"`
	Report      string     `gorm:"type:text"`
	UpdatedAt   time.Time
}

func (runRecord) TableName() string { return "workflow_runs" }

func recordOf(rep *workflow.Report) (runRecord, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return runRecord{}, fmt.Errorf("marshal report: %w", err)
	}
	rec := runRecord{
		ID:          rep.ID,
		Description: rep.Description,
		Method:      string(rep.Method),
		Preset:      rep.Preset,
		Outcome:     string(rep.Outcome),
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		Report:      string(data),
	}
	if rep.Error != nil {
		rec.ErrorCode = string(rep.Error.Code)
	}
	return rec, nil
}

func (r runRecord) report() (*workflow.Report, error) {
	var rep workflow.Report
	if err := json.Unmarshal([]byte(r.Report), &rep); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", r.ID, err)
	}
	return &rep, nil
}

// SQLOptions configures a SQLStore.
type SQLOptions struct {
	// TTL 完成时间早于该窗口的报告不再可见，并在 Purge 时删除
	TTL time.Duration
	// AutoMigrate 用 GORM 建表，供测试与 sqlite 单机部署使用
	AutoMigrate bool
}

// SQLStore persists reports in the workflow_runs table through gorm.
type SQLStore struct {
	pool   *database.PoolManager
	opts   SQLOptions
	now    func() time.Time
	logger *zap.Logger
}

// NewSQLStore creates a store on an open pool. The store owns pool.
func NewSQLStore(pool *database.PoolManager, opts SQLOptions, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AutoMigrate {
		if err := pool.DB().AutoMigrate(&runRecord{}); err != nil {
			return nil, fmt.Errorf("migrate workflow_runs: %w", err)
		}
	}
	return &SQLStore{
		pool:   pool,
		opts:   opts,
		now:    time.Now,
		logger: logger.With(zap.String("component", "sql_store")),
	}, nil
}

// visible 过滤 TTL 之外的已完成运行
func (s *SQLStore) visible(db *gorm.DB) *gorm.DB {
	if s.opts.TTL <= 0 {
		return db
	}
	return db.Where("finished_at IS NULL OR finished_at >= ?", s.now().Add(-s.opts.TTL))
}

func (s *SQLStore) Save(ctx context.Context, rep *workflow.Report) error {
	rec, err := recordOf(rep)
	if err != nil {
		return err
	}
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rec).Error
	})
}

func (s *SQLStore) Get(ctx context.Context, id string) (*workflow.Report, error) {
	var rec runRecord
	err := s.visible(s.pool.DB().WithContext(ctx)).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec.report()
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]*workflow.Report, error) {
	q := s.visible(s.pool.DB().WithContext(ctx)).Order("started_at DESC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []runRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*workflow.Report, 0, len(recs))
	for _, rec := range recs {
		rep, err := rec.report()
		if err != nil {
			s.logger.Warn("skipping undecodable run", zap.String("run_id", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, rep)
	}
	return out, nil
}

// Purge deletes finished runs older than the TTL and returns how many went.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	if s.opts.TTL <= 0 {
		return 0, nil
	}
	res := s.pool.DB().WithContext(ctx).
		Where("finished_at IS NOT NULL AND finished_at < ?", s.now().Add(-s.opts.TTL)).
		Delete(&runRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge runs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("purged expired runs", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *SQLStore) Close() error { return s.pool.Close() }
