// Package extract normalizes markup-bearing documents into plain text the
// segmenter can analyze. Headings survive as hash-marked lines so the
// section detector still sees the document structure.
package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// markdownExtensions lists the extensions routed through the markdown
// normalizer at ingestion.
var markdownExtensions = []string{".md", ".markdown", ".mdown"}

// IsMarkdownFile reports whether a filename should be normalized before
// segmentation.
func IsMarkdownFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range markdownExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// MarkdownToText flattens markdown into plain text. Inline formatting,
// links and images reduce to their visible text; headings keep their hash
// markers; block boundaries become blank lines. Invalid or plain input comes
// back essentially unchanged.
func MarkdownToText(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	source := []byte(content)
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	writeBlocks(&b, doc, source)
	return strings.TrimSpace(b.String())
}

// writeBlocks walks the block-level nodes and renders each as plain text
// separated by blank lines.
func writeBlocks(b *strings.Builder, node ast.Node, source []byte) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			b.WriteString(strings.Repeat("#", n.Level))
			b.WriteString(" ")
			b.WriteString(inlineText(n, source))
			b.WriteString("\n\n")
		case *ast.Paragraph, *ast.TextBlock:
			b.WriteString(inlineText(child, source))
			b.WriteString("\n\n")
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			b.WriteString(rawLines(child, source))
			b.WriteString("\n")
		case *ast.List:
			writeList(b, n, source)
			b.WriteString("\n")
		case *ast.Blockquote:
			writeBlocks(b, child, source)
		case *ast.ThematicBreak:
			// A rule is only presentation; a blank line already separates.
		default:
			if child.Type() == ast.TypeBlock {
				writeBlocks(b, child, source)
			}
		}
	}
}

// writeList renders list items as dash-marked lines, recursing into nested
// lists.
func writeList(b *strings.Builder, list *ast.List, source []byte) {
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		for block := item.FirstChild(); block != nil; block = block.NextSibling() {
			if nested, ok := block.(*ast.List); ok {
				writeList(b, nested, source)
				continue
			}
			b.WriteString("- ")
			b.WriteString(inlineText(block, source))
			b.WriteString("\n")
		}
	}
}

// inlineText extracts the visible text of a node's inline children.
func inlineText(node ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteString(" ")
			}
		case *ast.AutoLink:
			b.Write(t.URL(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// rawLines returns the verbatim lines of a literal block.
func rawLines(node ast.Node, source []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}
