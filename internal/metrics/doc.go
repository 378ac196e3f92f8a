// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖摄取、查询、
生成、嵌入缓存与向量存储五个维度。

# 核心类型

  - Collector：按 namespace 注册 Counter、Histogram、Gauge 向量指标，
    同时实现 embedding.Recorder 与 rag.MetricsRecorder。

# 指标

  - ingest_chunks_total{status}、ingest_duration_seconds
  - queries_total{strategy,state}、query_duration_seconds{strategy}
  - retrieval_cache_requests_total{result}
  - generation_requests_total{provider,model,status}
  - embedding_cache_requests_total{backend,result}、embedding_degraded_total{provider}
  - db_connections_open / db_connections_idle / db_query_duration_seconds
*/
package metrics
