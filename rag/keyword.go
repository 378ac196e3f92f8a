package rag

import (
	"strings"
	"unicode"
)

// keywordTokens 提取去重后的小写字母数字 token。
// 汉字、假名、韩文按单字切分，其他文字按连续字母数字切分。
func keywordTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case isIdeograph(r):
			flush()
			out[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}

func isIdeograph(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// keywordScore |Q ∩ C| / |Q|；查询无 token 时为 0
func keywordScore(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for t := range query {
		if _, ok := chunk[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}
