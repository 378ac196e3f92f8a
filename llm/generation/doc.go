// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
包 generation 定义外部文本生成能力。

[Generator] 为最小接口，[StreamGenerator] 额外提供 SSE 流式输出。
内置 [OpenAIGenerator]（OpenAI 兼容的 chat completions）。provider 为 none
时 [NewGeneratorFromConfig] 返回 nil，调用方应走抽取式回退。

所有后端错误都映射为 PROVIDER_UNAVAILABLE，429 与 5xx 标记为可重试。
generation.breaker_threshold 大于 0 时工厂用 [WithCircuitBreaker] 包装生成器，
连续失败后直接快速失败，直到 breaker_reset_timeout 后放行试探请求。
*/
package generation
