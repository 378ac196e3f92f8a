// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
包 migration 基于 golang-migrate 管理 SQL 向量存储（rag_chunks 表）
在 PostgreSQL 与 MySQL 上的版本化 Schema。SQLite 的表结构由
rag.SQLVectorStore 通过 GORM AutoMigrate 创建，不经过本包。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/Steps/Force/Version/Status/Info/Close，
    ctx 取消时通过 GracefulStop 在当前迁移完成后停止。
  - CLI：`ragcore migrate <command>` 的格式化输出。
  - AvailableMigrations：列出内嵌的迁移文件。
*/
package migration
