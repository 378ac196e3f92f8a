// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
# 概述

Package rag 实现检索增强生成（Retrieval-Augmented Generation）管线：
文档分块、向量存储、语义/关键词/混合检索、重排序、Prompt 组装，
以及串联全部阶段的编排器 Orchestrator。

# 核心接口/类型

  - Orchestrator：入库（AddKnowledge）与问答（Query / QueryStream）编排
  - DocumentChunker：recursive / sentence / paragraph / fixed 四种分块策略，偏移量按字符（rune）计
  - VectorStore：向量存储统一接口：InMemory、SQL（sqlite / postgres / mysql，经 GORM）、MongoDB
  - Retriever：语义、关键词、加权混合检索，带重试与结果缓存
  - Reranker：exact_match / length_normalized / metadata_boost / ensemble
  - PromptBuilder：按 token 预算装入排名靠前的块与会话历史
  - Tokenizer：分块与预算使用的 token 计数接口（tiktoken 或估算器）

# 查询状态机

每次查询按固定路径推进，Trace 记录全部转换：

	Idle → Retrieving → Reranking → ContextBuilding → Generating → Attributing → Done
	                                                  ↘ Fallback ↗
	Idle / Retrieving → Failed

生成未配置、出错或返回空文本时进入 Fallback，回答由排名最高的块抽取而成。

# 工厂函数

NewOrchestratorFromConfig 从 config.Config 组装完整管线，
NewVectorStoreFromConfig、NewChunkerFromConfig、NewRerankerFromConfig
等可单独使用。
*/
package rag
