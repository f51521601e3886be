package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/database"
)

// NewMigratorFromConfig creates a migrator for the run store database.
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig 复用 internal/database 的连接方式，连接随 migrator 关闭
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	dbCfg.Driver = string(dbType)
	logger.Info("migration target", zap.String("url", TargetURL(dbCfg)))

	pm, err := database.Open(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := pm.DB().DB()
	if err != nil {
		_ = pm.Close()
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	m, err := NewMigratorWithDB(Config{DatabaseType: dbType, Logger: logger}, sqlDB, pm.Close)
	if err != nil {
		_ = pm.Close()
		return nil, err
	}
	return m, nil
}

// NewMigratorFromURL creates a migrator from a driver name and URL.
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		Logger:       logger,
	})
}

// TargetURL 返回 dbCfg 对应的迁移地址，密码以 *** 代替。驱动无效时返回空串
func TargetURL(dbCfg config.DatabaseConfig) string {
	dt, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return ""
	}
	password := dbCfg.Password
	if password != "" {
		password = "***"
	}
	return BuildDatabaseURL(dt, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, password, dbCfg.SSLMode)
}
