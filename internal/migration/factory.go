package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
)

// NewMigratorFromStorageConfig 根据 storage.backend 与 storage.database 创建迁移器
func NewMigratorFromStorageConfig(cfg config.StorageConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	if dbType == DatabaseTypeSQLite {
		return nil, ErrSQLiteUnsupported
	}

	db := cfg.Database
	sslMode := db.SSLMode
	if dbType == DatabaseTypeMySQL {
		sslMode = ""
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, sslMode),
		TableName:    "schema_migrations",
	}, logger)
}

// NewMigratorFromURL 由连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	}, logger)
}
