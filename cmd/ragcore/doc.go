// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
Package main 提供 ragcore 命令行入口。

# 概述

cmd/ragcore 从 YAML 配置与 RAGCORE_* 环境变量组装 RAG 编排器，
提供文档入库、问答、数据库迁移和版本查询等子命令。

# 主要能力

  - 子命令：ingest（入库）、query（问答，支持流式输出）、migrate、version
  - 结构化日志（zap），格式与级别来自 log.* 配置
  - Prometheus 指标与 OpenTelemetry 追踪按配置启用
  - Redis 仅在 embedding.cache_backend=redis 或 context.store=redis 时连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
