package rag

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/BaSui01/ragcore/types"
)

// PrepareDocument 规范化待分块文档：补全类型，HTML 转换为可见文本。
func PrepareDocument(doc Document) (Document, error) {
	if doc.Kind == "" {
		doc.Kind = KindText
	}
	if !doc.Kind.Valid() {
		return doc, types.NewError(types.ErrInvalidRequest, "unsupported document kind "+string(doc.Kind))
	}
	if doc.Kind == KindHTML {
		text, err := ExtractHTMLText(doc.Content)
		if err != nil {
			return doc, types.NewError(types.ErrInvalidRequest, "parse html document").WithCause(err)
		}
		doc.Content = text
	}
	return doc, nil
}

// 不产生可见文本的元素
var invisibleElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
}

// 块级元素，前后插入换行；段落类元素插入空行以保留段落边界
var blockElements = map[atom.Atom]string{
	atom.P: "\n\n", atom.Div: "\n", atom.Section: "\n\n", atom.Article: "\n\n",
	atom.H1: "\n\n", atom.H2: "\n\n", atom.H3: "\n\n", atom.H4: "\n\n", atom.H5: "\n\n", atom.H6: "\n\n",
	atom.Li: "\n", atom.Tr: "\n", atom.Br: "\n", atom.Pre: "\n\n", atom.Blockquote: "\n\n",
	atom.Ul: "\n", atom.Ol: "\n", atom.Table: "\n\n",
}

// ExtractHTMLText 提取 HTML 的可见文本，块级元素转换为换行
func ExtractHTMLText(src string) (string, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && invisibleElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		sep, isBlock := "", false
		if n.Type == html.ElementNode {
			sep, isBlock = blockElements[n.DataAtom]
		}
		if isBlock {
			b.WriteString(sep)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if isBlock {
			b.WriteString(sep)
		}
	}
	walk(root)

	return normalizeWhitespace(b.String()), nil
}

// normalizeWhitespace 行内空白折叠为单个空格，连续空行折叠为一个
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
