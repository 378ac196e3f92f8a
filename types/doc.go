// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
Package types 提供 ragcore 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rag、llm、memory
等上层模块提供统一的错误契约，以避免循环依赖。

# 错误体系

  - CONFIGURATION_ERROR：配置非法（chunk_size/overlap、未知策略），快速失败，不重试
  - PROVIDER_UNAVAILABLE：Embedding / 生成后端不可用或超时，可重试，触发降级
  - DIMENSION_MISMATCH：向量维度与存储不一致，写入被拒绝
  - NOT_FOUND：引用了未知 ID，读取时作为可恢复的未命中

所有谓词（IsConfigurationError 等）通过 errors.As 穿透 %w 包装。
*/
package types
