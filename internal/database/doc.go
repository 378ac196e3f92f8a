// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
包 database 为 SQL 向量存储提供基于 GORM 的连接管理。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB/Ping/Stats/Close，
    后台健康检查把连接数上报给 StatsReporter。
  - PoolConfig：最大连接数、空闲连接数、生命周期与健康检查间隔。
  - TransactionFunc：事务回调。

# 主要能力

  - Open/Dialector：按驱动名选择 glebarez/sqlite、postgres 或 mysql 方言。
  - WithTransactionRetry：死锁、序列化失败与断连时经 llm/retry 退避重试。
*/
package database
