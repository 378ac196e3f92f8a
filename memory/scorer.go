package memory

import (
	"math"
	"slices"
	"time"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/vecmath"
	"github.com/BaSui01/ragcore/types"
)

// DefaultImportance 未指定重要度时的默认值（0-10 量表）
const DefaultImportance = 1.0

// MaxImportance 重要度量表上限
const MaxImportance = 10.0

// MemoryItem 可参与评分的记忆条目
type MemoryItem struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Importance   float64   `json:"importance"`
	Embedding    []float64 `json:"embedding,omitempty"`
}

// NewMemoryItem 创建记忆条目，重要度取默认值
func NewMemoryItem(id, content string, embedding []float64, now time.Time) *MemoryItem {
	return &MemoryItem{
		ID:           id,
		Content:      content,
		CreatedAt:    now,
		LastAccessed: now,
		Importance:   DefaultImportance,
		Embedding:    embedding,
	}
}

// lastTouched 最近访问时间，未访问过时回退到创建时间
func (m *MemoryItem) lastTouched() time.Time {
	if m.LastAccessed.IsZero() {
		return m.CreatedAt
	}
	return m.LastAccessed
}

// Weights 三个子分数的权重，无需归一化，但必须非负
type Weights struct {
	Newness    float64 `json:"newness"`
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
}

// Validate 校验权重
func (w Weights) Validate() error {
	if w.Newness < 0 || w.Relevance < 0 || w.Importance < 0 {
		return types.NewConfigurationError("memory weights must not be negative: %+v", w)
	}
	return nil
}

// Breakdown 分项得分
type Breakdown struct {
	Newness    float64 `json:"newness"`
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
	Total      float64 `json:"total"`
}

// Scorer 记忆评分器：S = w_n*S_newness + w_r*S_relevance + w_i*S_importance
type Scorer struct {
	weights  Weights
	halfLife time.Duration
	now      func() time.Time
}

// ScorerOption 评分器选项
type ScorerOption func(*Scorer)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// NewScorer 创建评分器。权重为负或半衰期非正时返回 ConfigurationError。
func NewScorer(weights Weights, halfLife time.Duration, opts ...ScorerOption) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if halfLife <= 0 {
		return nil, types.NewConfigurationError("memory half_life must be positive, got %s", halfLife)
	}
	s := &Scorer{weights: weights, halfLife: halfLife, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewScorerFromConfig 从 memory.* 配置创建评分器
func NewScorerFromConfig(cfg config.MemoryConfig, opts ...ScorerOption) (*Scorer, error) {
	return NewScorer(Weights{
		Newness:    cfg.NewnessWeight,
		Relevance:  cfg.RelevanceWeight,
		Importance: cfg.ImportanceWeight,
	}, cfg.HalfLife, opts...)
}

// Weights 返回权重
func (s *Scorer) Weights() Weights { return s.weights }

// Score 计算总分
func (s *Scorer) Score(item *MemoryItem, query []float64) float64 {
	return s.Explain(item, query).Total
}

// ScoreWithWeights 用本次调用给定的权重计算总分，评分器自身的权重不变
func (s *Scorer) ScoreWithWeights(item *MemoryItem, query []float64, w Weights) (float64, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	return s.explain(item, query, w).Total, nil
}

// Explain 计算分项得分
func (s *Scorer) Explain(item *MemoryItem, query []float64) Breakdown {
	return s.explain(item, query, s.weights)
}

func (s *Scorer) explain(item *MemoryItem, query []float64, w Weights) Breakdown {
	b := Breakdown{
		Newness:    s.newness(item),
		Relevance:  relevance(item, query),
		Importance: importance(item),
	}
	b.Total = w.Newness*b.Newness + w.Relevance*b.Relevance + w.Importance*b.Importance
	return b
}

// newness exp(-ln2 * age / half_life)，未来时间按 age=0 处理
func (s *Scorer) newness(item *MemoryItem) float64 {
	age := s.now().Sub(item.lastTouched())
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age.Seconds() / s.halfLife.Seconds())
}

// relevance 余弦相似度截断到 [0,1]
func relevance(item *MemoryItem, query []float64) float64 {
	if len(query) == 0 || len(item.Embedding) == 0 {
		return 0
	}
	return max(vecmath.Cosine(query, item.Embedding), 0)
}

func importance(item *MemoryItem) float64 {
	return min(max(item.Importance/MaxImportance, 0), 1)
}

// Touch 更新最近访问时间
func (s *Scorer) Touch(item *MemoryItem) {
	item.LastAccessed = s.now()
}

// TopN 按总分降序返回至多 n 条；同分时最近访问者优先，再按输入顺序
func (s *Scorer) TopN(items []*MemoryItem, query []float64, n int) []*MemoryItem {
	if n <= 0 || len(items) == 0 {
		return []*MemoryItem{}
	}
	type scored struct {
		item  *MemoryItem
		score float64
	}
	all := make([]scored, len(items))
	for i, it := range items {
		all[i] = scored{item: it, score: s.Score(it, query)}
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return b.item.lastTouched().Compare(a.item.lastTouched())
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]*MemoryItem, len(all))
	for i, sc := range all {
		out[i] = sc.item
	}
	return out
}
