package rag

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/types"
)

// ChunkingStrategy 分块策略
type ChunkingStrategy string

const (
	ChunkingRecursive ChunkingStrategy = "recursive" // 递归分块（默认）
	ChunkingSentence  ChunkingStrategy = "sentence"  // 按句子打包
	ChunkingParagraph ChunkingStrategy = "paragraph" // 按段落打包
	ChunkingFixed     ChunkingStrategy = "fixed"     // 固定长度
)

// ChunkingConfig 分块配置，长度单位为字符（rune）
type ChunkingConfig struct {
	Strategy     ChunkingStrategy `json:"strategy"`
	ChunkSize    int              `json:"chunk_size"`
	ChunkOverlap int              `json:"chunk_overlap"`
	MinChunkSize int              `json:"min_chunk_size"` // 尾部碎片合并阈值，0 表示不合并
}

// DefaultChunkingConfig 默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfigFrom(config.DefaultChunkingConfig())
}

// ChunkingConfigFrom 从全局配置转换
func ChunkingConfigFrom(c config.ChunkingConfig) ChunkingConfig {
	return ChunkingConfig{
		Strategy:     ChunkingStrategy(c.Strategy),
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
		MinChunkSize: c.MinChunkSize,
	}
}

// Validate 校验分块配置，失败返回 CONFIGURATION_ERROR
func (c ChunkingConfig) Validate() error {
	switch c.Strategy {
	case ChunkingRecursive, ChunkingSentence, ChunkingParagraph, ChunkingFixed:
	default:
		return types.NewConfigurationError("unknown chunking strategy %q", c.Strategy)
	}
	if c.ChunkSize <= 0 {
		return types.NewConfigurationError("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return types.NewConfigurationError("chunk_overlap must satisfy 0 <= overlap < chunk_size, got overlap=%d size=%d",
			c.ChunkOverlap, c.ChunkSize)
	}
	if c.MinChunkSize < 0 {
		return types.NewConfigurationError("min_chunk_size must not be negative")
	}
	return nil
}

// 递归分块的分隔符层级：段落 > 行 > 句末标点（含中文） > 空格
var recursiveSeparators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? ", "。", "！", "？"},
	{" "},
}

// 句子分块的边界：标点后跟空白，中文标点直接断开
var sentenceSeparators = []string{". ", "! ", "? ", ".\n", "!\n", "?\n", "。", "！", "？"}

// span 半开区间 [start, end)，单位为 rune
type span struct{ start, end int }

func (s span) len() int { return s.end - s.start }

// DocumentChunker 文档分块器。同一输入与配置总是产出相同结果。
type DocumentChunker struct {
	config    ChunkingConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewDocumentChunker 创建文档分块器，配置非法时立即失败。
// tokenizer 为 nil 时使用估算器。
func NewDocumentChunker(cfg ChunkingConfig, tokenizer Tokenizer, logger *zap.Logger) (*DocumentChunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenizer == nil {
		tokenizer = NewEstimatorAdapter("chunker", 0, logger)
	}
	return &DocumentChunker{
		config:    cfg,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "chunker")),
	}, nil
}

// Config 返回分块配置
func (c *DocumentChunker) Config() ChunkingConfig { return c.config }

// ChunkDocument 分块文档。空白内容返回零个块且不报错。
// HTML 文档先提取可见文本，偏移量基于提取后的文本。
func (c *DocumentChunker) ChunkDocument(doc Document) ([]Chunk, error) {
	if doc.ID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "document id must not be empty")
	}
	if doc.Metadata != nil {
		if err := ValidateMetadata(doc.Metadata); err != nil {
			return nil, err
		}
	}
	doc, err := PrepareDocument(doc)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Content) == "" {
		return []Chunk{}, nil
	}

	runes := []rune(doc.Content)
	var spans []span
	switch c.config.Strategy {
	case ChunkingFixed:
		spans = c.fixedSpans(runes, span{0, len(runes)}, false)
	case ChunkingSentence:
		spans = c.pack(runes, splitKeep(runes, span{0, len(runes)}, sentenceSeparators))
	case ChunkingParagraph:
		spans = c.pack(runes, splitKeep(runes, span{0, len(runes)}, []string{"\n\n"}))
	default:
		spans = c.pack(runes, c.recursiveUnits(runes, span{0, len(runes)}, 0))
	}
	if c.config.Strategy != ChunkingFixed {
		spans = c.mergeTail(spans)
	}

	chunks := make([]Chunk, 0, len(spans))
	for i, sp := range spans {
		text := string(runes[sp.start:sp.end])
		meta := doc.Metadata.Clone()
		meta[MetaChunkIndex] = int64(i)
		meta[MetaChunkCount] = int64(len(spans))
		meta[MetaDocumentID] = doc.ID
		meta[MetaKind] = string(doc.Kind)
		chunks = append(chunks, Chunk{
			ID:         ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Text:       text,
			StartIndex: sp.start,
			EndIndex:   sp.end,
			TokenCount: c.tokenizer.CountTokens(text),
			Metadata:   meta,
		})
	}

	c.logger.Debug("document chunked",
		zap.String("document_id", doc.ID),
		zap.String("strategy", string(c.config.Strategy)),
		zap.Int("chunks", len(chunks)),
		zap.Int("chars", len(runes)))

	return chunks, nil
}

// fixedSpans 第 i 块起点为 i*(size-overlap)，最后一块可能更短。
// trim 为 true 时去掉首尾空白；全空白的块被跳过。
func (c *DocumentChunker) fixedSpans(runes []rune, within span, trim bool) []span {
	size, step := c.config.ChunkSize, c.config.ChunkSize-c.config.ChunkOverlap
	var out []span
	for start := within.start; start < within.end; start += step {
		end := min(start+size, within.end)
		sp := span{start, end}
		if trim {
			sp = trimSpan(runes, sp)
		}
		if sp.len() > 0 && !isBlank(runes[sp.start:sp.end]) {
			// 去空白后起点与上一块相同：保留更长的一块，起点保持严格递增
			if n := len(out); n > 0 && out[n-1].start == sp.start {
				out[n-1] = sp
			} else {
				out = append(out, sp)
			}
		}
		if end >= within.end {
			break
		}
	}
	return out
}

// pack 贪心地把连续单元装入不超过 ChunkSize 的块；下一块回退若干尾部单元
// 作为重叠（总长不超过 ChunkOverlap）。超长单元按固定长度切分。
func (c *DocumentChunker) pack(runes []rune, units []span) []span {
	size, overlap := c.config.ChunkSize, c.config.ChunkOverlap

	filtered := units[:0:0]
	for _, u := range units {
		if !isBlank(runes[u.start:u.end]) {
			filtered = append(filtered, u)
		}
	}
	units = filtered

	var out []span
	for i := 0; i < len(units); {
		if units[i].len() > size {
			out = append(out, c.fixedSpans(runes, units[i], true)...)
			i++
			continue
		}

		start := units[i].start
		j := i
		for j < len(units) && units[j].end-start <= size {
			j++
		}
		if sp := trimSpan(runes, span{start, units[j-1].end}); sp.len() > 0 {
			out = append(out, sp)
		}
		if j == len(units) {
			break
		}

		// 回退尾部单元形成重叠，但下一块必须能容纳第 j 个单元
		k := j
		for k-1 > i && units[j-1].end-units[k-1].start <= overlap {
			k--
		}
		for k < j && units[j].end-units[k].start > size {
			k++
		}
		i = k
	}
	return out
}

// recursiveUnits 段落 → 行 → 句子 → 空格逐级细分，仅在片段仍超过
// ChunkSize 时下降一级；最后按字符硬切分。
func (c *DocumentChunker) recursiveUnits(runes []rune, sp span, level int) []span {
	size := c.config.ChunkSize
	if sp.len() <= size {
		return []span{sp}
	}
	if level >= len(recursiveSeparators) {
		var out []span
		for s := sp.start; s < sp.end; s += size {
			out = append(out, span{s, min(s+size, sp.end)})
		}
		return out
	}

	pieces := splitKeep(runes, sp, recursiveSeparators[level])
	if len(pieces) == 1 {
		return c.recursiveUnits(runes, sp, level+1)
	}
	var out []span
	for _, p := range pieces {
		if p.len() > size {
			out = append(out, c.recursiveUnits(runes, p, level+1)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// mergeTail 把短于 MinChunkSize 的尾块并入前一块；合并后超过 ChunkSize 时保留尾块
func (c *DocumentChunker) mergeTail(spans []span) []span {
	n := len(spans)
	if c.config.MinChunkSize <= 0 || n < 2 {
		return spans
	}
	merged := spans[n-1].end - spans[n-2].start
	if spans[n-1].len() < c.config.MinChunkSize && merged <= c.config.ChunkSize {
		spans[n-2].end = spans[n-1].end
		spans = spans[:n-1]
	}
	return spans
}

// splitKeep 在分隔符之后切开，分隔符保留在前一段末尾；
// 返回的片段首尾相接覆盖整个区间。
func splitKeep(runes []rune, sp span, seps []string) []span {
	sepRunes := make([][]rune, len(seps))
	for i, s := range seps {
		sepRunes[i] = []rune(s)
	}

	var out []span
	last := sp.start
	for i := sp.start; i < sp.end; {
		matched := 0
		for _, sr := range sepRunes {
			if hasRunesAt(runes, i, sp.end, sr) {
				matched = len(sr)
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		i += matched
		out = append(out, span{last, i})
		last = i
	}
	if last < sp.end {
		out = append(out, span{last, sp.end})
	}
	return out
}

func hasRunesAt(runes []rune, at, limit int, sep []rune) bool {
	if at+len(sep) > limit {
		return false
	}
	for k, r := range sep {
		if runes[at+k] != r {
			return false
		}
	}
	return true
}

func trimSpan(runes []rune, sp span) span {
	for sp.start < sp.end && unicode.IsSpace(runes[sp.start]) {
		sp.start++
	}
	for sp.end > sp.start && unicode.IsSpace(runes[sp.end-1]) {
		sp.end--
	}
	return sp
}

func isBlank(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
