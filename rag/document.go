package rag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/BaSui01/ragcore/types"
)

// DocumentKind 文档类型（封闭集合）
type DocumentKind string

const (
	KindText     DocumentKind = "text"
	KindPDF      DocumentKind = "pdf"
	KindMarkdown DocumentKind = "markdown"
	KindHTML     DocumentKind = "html"
	KindCode     DocumentKind = "code"
)

// Valid 判断类型是否在支持集合内
func (k DocumentKind) Valid() bool {
	switch k {
	case KindText, KindPDF, KindMarkdown, KindHTML, KindCode:
		return true
	}
	return false
}

// 分块元数据中由系统写入的字段
const (
	MetaChunkIndex = "chunk_index"
	MetaChunkCount = "chunk_count"
	MetaDocumentID = "document_id"
	MetaKind       = "kind"
)

// Metadata 字符串键的元数据，值限定为 string / bool / int64 / float64 / []string。
type Metadata map[string]any

// Clone 返回浅拷贝，[]string 值被复制
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}

// Document 原始文档
type Document struct {
	ID       string       `json:"id"`
	Content  string       `json:"content"`
	Kind     DocumentKind `json:"kind"`
	Metadata Metadata     `json:"metadata,omitempty"`
}

// NewDocument 创建文档并分配 UUID
func NewDocument(content string, kind DocumentKind, metadata Metadata) Document {
	return Document{
		ID:       uuid.NewString(),
		Content:  content,
		Kind:     kind,
		Metadata: metadata,
	}
}

// Chunk 文档块。StartIndex/EndIndex 为父文档内容中的字符（rune）偏移。
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	TokenCount int       `json:"token_count"`
	Embedding  []float64 `json:"embedding,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
}

// ChunkID 由文档 ID 与块序号确定性地生成块 ID
func ChunkID(documentID string, index int) string {
	return documentID + "#" + strconv.Itoa(index)
}

// ValidateMetadata 校验元数据值类型。int 会被规范化为 int64，
// float32 规范化为 float64；其余类型返回 INVALID_REQUEST。
func ValidateMetadata(m Metadata) error {
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			return types.NewError(types.ErrInvalidRequest, "metadata key must not be empty")
		}
		norm, ok := normalizeMetaValue(v)
		if !ok {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("metadata %q: unsupported value type %T", k, v))
		}
		m[k] = norm
	}
	return nil
}

func normalizeMetaValue(v any) (any, bool) {
	switch x := v.(type) {
	case string, bool, int64, float64, []string:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float32:
		return float64(x), true
	case []any:
		// JSON / BSON 解码得到的字符串数组
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// matchesFilter 精确匹配过滤：filter 中每个键都必须存在且值相等。
// 数值比较忽略 int64/float64 的表示差异。
func matchesFilter(meta Metadata, filter Metadata) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !metaEqual(got, want) {
			return false
		}
	}
	return true
}

func metaEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case []string:
		y, ok := b.([]string)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
