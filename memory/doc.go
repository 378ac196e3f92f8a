// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
包 memory 提供对话记忆的加权评分与筛选。

# 评分

	S_total = w_n*S_newness + w_r*S_relevance + w_i*S_importance

  - S_newness：按最近访问时间的指数衰减，半衰期可配置
  - S_relevance：查询向量与记忆向量的余弦相似度，截断到 [0,1]
  - S_importance：importance/10，默认 importance 为 1

权重不要求和为 1，但必须非负，否则 [NewScorer] 返回 ConfigurationError。
非负权重保证任一子分数增大时总分不减。

# 筛选

[Scorer.TopN] 按总分降序返回前 N 条，同分时最近访问者优先。
*/
package memory
