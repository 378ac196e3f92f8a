// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
包 cache 封装 go-redis 客户端，为嵌入向量缓存与 Redis 会话存储
提供共享连接。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/Exists 与
    GetJSON/SetJSON，所有键自动加 KeyPrefix 前缀。
  - Config：地址、密码、连接池、默认 TTL 与健康检查间隔，
    可由 ConfigFromRedis 从全局配置生成。
  - Stats：键数量、命中/未命中次数、内存与连接数。

# 错误语义

  - ErrCacheMiss：键不存在。
  - ErrClosed：Manager 已关闭。
*/
package cache
