// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

// 包 tlsutil 集中维护出站连接的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件），
// 供生成后端 HTTP 客户端与 Redis 缓存连接使用。
package tlsutil
