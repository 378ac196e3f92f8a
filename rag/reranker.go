package rag

import (
	"context"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/types"
)

// Reranker 重排序器。只对前 N 个候选重新打分，输出不超过 topK，
// 且不会引入输入之外的候选。
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RetrievedCandidate, topK int) ([]RetrievedCandidate, error)
}

// RerankerType 重排序器类型
type RerankerType string

const (
	RerankerExactMatch       RerankerType = "exact_match"
	RerankerLengthNormalized RerankerType = "length_normalized"
	RerankerMetadataBoost    RerankerType = "metadata_boost"
	RerankerEnsemble         RerankerType = "ensemble"
)

const (
	defaultRerankTopN    = 20
	defaultExactBoost    = 0.2
	defaultLengthPenalty = 0.1
	minLengthFactor      = 0.5
)

// MetadataBoost 元数据加权规则。Value 为 nil 时只要求键存在。
type MetadataBoost struct {
	Key    string  `json:"key" yaml:"key"`
	Value  any     `json:"value,omitempty" yaml:"value,omitempty"`
	Factor float64 `json:"factor" yaml:"factor"`
}

// RerankerOptions 重排序器参数，零值使用默认值
type RerankerOptions struct {
	TopN          int
	BoostFactor   float64
	LengthPenalty float64
	Boosts        []MetadataBoost
	// Weights 集成重排序的成员权重，默认 exact 0.4 / length 0.3 / metadata 0.3
	Weights map[RerankerType]float64
	Logger  *zap.Logger
}

// scoreFunc 返回每个候选的新分数（与输入等长）
type scoreFunc func(query string, cands []RetrievedCandidate) []float64

// ScoringReranker 基于打分函数的重排序器
type ScoringReranker struct {
	kind   RerankerType
	topN   int
	score  scoreFunc
	logger *zap.Logger
}

// NewReranker 创建重排序器
func NewReranker(kind RerankerType, opts RerankerOptions) (*ScoringReranker, error) {
	if opts.TopN < 0 {
		return nil, types.NewConfigurationError("rerank top_n must not be negative, got %d", opts.TopN)
	}
	if opts.TopN == 0 {
		opts.TopN = defaultRerankTopN
	}
	if opts.BoostFactor == 0 {
		opts.BoostFactor = defaultExactBoost
	}
	if opts.LengthPenalty == 0 {
		opts.LengthPenalty = defaultLengthPenalty
	}
	for _, b := range opts.Boosts {
		if b.Key == "" || b.Factor < 0 {
			return nil, types.NewConfigurationError("metadata boost requires a key and a non-negative factor")
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fn, err := scorerFor(kind, opts)
	if err != nil {
		return nil, err
	}
	return &ScoringReranker{
		kind:   kind,
		topN:   opts.TopN,
		score:  fn,
		logger: logger.With(zap.String("component", "reranker"), zap.String("reranker", string(kind))),
	}, nil
}

func scorerFor(kind RerankerType, opts RerankerOptions) (scoreFunc, error) {
	switch kind {
	case RerankerExactMatch:
		return exactMatchScores(opts.BoostFactor), nil
	case RerankerLengthNormalized:
		return lengthNormalizedScores(opts.LengthPenalty), nil
	case RerankerMetadataBoost:
		return metadataBoostScores(opts.Boosts), nil
	case RerankerEnsemble:
		weights := opts.Weights
		if len(weights) == 0 {
			weights = map[RerankerType]float64{
				RerankerExactMatch:       0.4,
				RerankerLengthNormalized: 0.3,
				RerankerMetadataBoost:    0.3,
			}
		}
		members := make([]scoreFunc, 0, len(weights))
		ws := make([]float64, 0, len(weights))
		// 固定成员顺序，保证浮点求和结果确定
		for _, k := range []RerankerType{RerankerExactMatch, RerankerLengthNormalized, RerankerMetadataBoost} {
			w, ok := weights[k]
			if !ok {
				continue
			}
			if w < 0 {
				return nil, types.NewConfigurationError("ensemble weight for %s must not be negative", k)
			}
			fn, _ := scorerFor(k, opts)
			members = append(members, fn)
			ws = append(ws, w)
		}
		for k := range weights {
			if k == RerankerEnsemble || !slices.Contains([]RerankerType{RerankerExactMatch, RerankerLengthNormalized, RerankerMetadataBoost}, k) {
				return nil, types.NewConfigurationError("unsupported ensemble member %q", k)
			}
		}
		return ensembleScores(members, ws), nil
	default:
		return nil, types.NewConfigurationError("unsupported reranker %q", kind)
	}
}

// Type 返回重排序器类型
func (r *ScoringReranker) Type() RerankerType { return r.kind }

// Rerank 对前 topN 个候选重新打分并排序，其余候选保持原顺序接在后面，
// 分数不超过最后一个重新打分的候选
func (r *ScoringReranker) Rerank(ctx context.Context, query string, candidates []RetrievedCandidate, topK int) ([]RetrievedCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 || topK <= 0 {
		return []RetrievedCandidate{}, nil
	}

	n := min(r.topN, len(candidates))
	head := slices.Clone(candidates[:n])
	scores := r.score(query, head)
	for i := range head {
		head[i].RerankScore = scores[i]
		head[i].Score = scores[i]
	}
	slices.SortStableFunc(head, func(a, b RetrievedCandidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	out := make([]RetrievedCandidate, 0, min(topK, len(candidates)))
	out = append(out, head...)
	// 未重新打分的候选分数压到不高于前一个，输出分数保持非递增
	floor := math.Inf(1)
	if n > 0 {
		floor = head[n-1].Score
	}
	for _, c := range candidates[n:] {
		if len(out) >= topK {
			break
		}
		c.Score = min(c.Score, floor)
		floor = c.Score
		out = append(out, c)
	}
	if len(out) > topK {
		out = out[:topK]
	}
	assignRanks(out)

	r.logger.Debug("reranking completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("rescored", n),
		zap.Int("results", len(out)))
	return out, nil
}

// exactMatchScores 按查询词命中比例加分，上限 1.0；单词查询不调整
func exactMatchScores(boost float64) scoreFunc {
	return func(query string, cands []RetrievedCandidate) []float64 {
		terms := keywordTokens(query)
		out := make([]float64, len(cands))
		for i, c := range cands {
			out[i] = c.Score
			if len(terms) <= 1 {
				continue
			}
			text := strings.ToLower(c.Chunk.Text)
			hits := 0
			for t := range terms {
				if strings.Contains(text, t) {
					hits++
				}
			}
			out[i] = min(c.Score+boost*float64(hits)/float64(len(terms)), 1.0)
		}
		return out
	}
}

// lengthNormalizedScores 以候选平均长度为基准：短块小幅加分，长块扣分（因子下限 0.5）
func lengthNormalizedScores(penalty float64) scoreFunc {
	return func(_ string, cands []RetrievedCandidate) []float64 {
		out := make([]float64, len(cands))
		total := 0
		for _, c := range cands {
			total += utf8.RuneCountInString(c.Chunk.Text)
		}
		if total == 0 {
			for i, c := range cands {
				out[i] = c.Score
			}
			return out
		}
		avg := float64(total) / float64(len(cands))
		for i, c := range cands {
			ratio := float64(utf8.RuneCountInString(c.Chunk.Text)) / avg
			factor := 1.0
			if ratio < 1 {
				factor = 1 + penalty*(1-ratio)
			} else {
				factor = max(1-penalty*(ratio-1), minLengthFactor)
			}
			out[i] = c.Score * factor
		}
		return out
	}
}

// metadataBoostScores 命中的规则依次相乘，结果上限 1.0
func metadataBoostScores(boosts []MetadataBoost) scoreFunc {
	return func(_ string, cands []RetrievedCandidate) []float64 {
		out := make([]float64, len(cands))
		for i, c := range cands {
			s := c.Score
			for _, b := range boosts {
				v, ok := c.Chunk.Metadata[b.Key]
				if !ok {
					continue
				}
				if b.Value != nil {
					want, ok := normalizeMetaValue(b.Value)
					if !ok || !metaEqual(v, want) {
						continue
					}
				}
				s *= b.Factor
			}
			if len(boosts) > 0 {
				s = min(s, 1.0)
			}
			out[i] = s
		}
		return out
	}
}

// ensembleScores 成员分数的加权平均；权重和为 0 时保留原分数
func ensembleScores(members []scoreFunc, weights []float64) scoreFunc {
	return func(query string, cands []RetrievedCandidate) []float64 {
		out := make([]float64, len(cands))
		total := 0.0
		for _, w := range weights {
			total += w
		}
		if total == 0 {
			for i, c := range cands {
				out[i] = c.Score
			}
			return out
		}
		for m, fn := range members {
			scores := fn(query, cands)
			for i := range out {
				out[i] += weights[m] * scores[i]
			}
		}
		for i := range out {
			out[i] /= total
		}
		return out
	}
}
