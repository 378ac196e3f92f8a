package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/ragcore/config"
)

// Dialector 按驱动名构造 GORM 方言：sqlite（纯 Go）、postgres、mysql
func Dialector(driver string, dc config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := dc.DSN(driver)
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", driver)
	}
}

// Open 打开数据库并配置连接池
func Open(driver string, dc config.DatabaseConfig, zl *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	dialector, err := Dialector(driver, dc)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	poolCfg := PoolConfigFromDatabase(dc)
	if driver == "sqlite" {
		// sqlite 单写者
		poolCfg.MaxOpenConns = 1
		poolCfg.MaxIdleConns = 1
	}

	pm, err := NewPoolManager(db, poolCfg, zl, opts...)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	zl.Info("database connected", zap.String("driver", driver))
	return pm, nil
}
