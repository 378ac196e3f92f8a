package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/BaSui01/ragcore/internal/vecmath"
)

// HashingProvider 确定性、无外部依赖的哈希特征向量（feature hashing）。
// 词与字符三元组经 SHA-256 映射到 dimension 个桶并带符号累加，最后 L2 归一化。
// 相同输入始终得到相同向量；排序质量明显弱于模型向量，仅用于降级。
type HashingProvider struct {
	dimensions int
}

// NewHashingProvider 创建哈希向量提供者.
func NewHashingProvider(dimensions int) *HashingProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingProvider{dimensions: dimensions}
}

func (p *HashingProvider) Name() string      { return string(ProviderHash) }
func (p *HashingProvider) Dimensions() int   { return p.dimensions }
func (p *HashingProvider) MaxBatchSize() int { return math.MaxInt32 }

// Embed 对空文本返回零向量.
func (p *HashingProvider) Embed(_ context.Context, text string) ([]float64, error) {
	return p.vector(text), nil
}

func (p *HashingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashingProvider) vector(text string) []float64 {
	vec := make([]float64, p.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, w := range words {
		p.addFeature(vec, "w:"+w, 1.0)
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			p.addFeature(vec, "g:"+string(runes[i:i+3]), 0.5)
		}
	}

	return vecmath.Normalize(vec)
}

func (p *HashingProvider) addFeature(vec []float64, feature string, weight float64) {
	sum := sha256.Sum256([]byte(feature))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(p.dimensions)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
