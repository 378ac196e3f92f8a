// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

// 包 circuitbreaker 提供按连续失败计数的熔断器，用于保护生成后端。
// 熔断打开时调用直接返回 PROVIDER_UNAVAILABLE，由调用方走降级路径。
package circuitbreaker
