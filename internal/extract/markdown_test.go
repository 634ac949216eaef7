package extract

import (
	"strings"
	"testing"
)

func TestMarkdownToText(t *testing.T) {
	input := `# Rapport annuel

Le **chiffre d'affaires** a progressé de [12 %](https://example.com/details).

## Risques

- risque climatique
- risque de *liquidité*

> La gouvernance reste stable.
`

	got := MarkdownToText(input)

	if !strings.Contains(got, "# Rapport annuel") {
		t.Errorf("heading marker lost:\n%s", got)
	}
	if !strings.Contains(got, "## Risques") {
		t.Errorf("sub-heading marker lost:\n%s", got)
	}
	if strings.Contains(got, "**") || strings.Contains(got, "](") {
		t.Errorf("inline markup survived:\n%s", got)
	}
	if !strings.Contains(got, "chiffre d'affaires a progressé de 12 %") {
		t.Errorf("paragraph text mangled:\n%s", got)
	}
	if !strings.Contains(got, "- risque climatique") {
		t.Errorf("list item lost:\n%s", got)
	}
	if !strings.Contains(got, "La gouvernance reste stable.") {
		t.Errorf("blockquote text lost:\n%s", got)
	}
}

func TestMarkdownToTextPlainInput(t *testing.T) {
	input := "Une ligne simple sans aucun balisage."
	got := MarkdownToText(input)
	if got != input {
		t.Errorf("plain text altered: %q -> %q", input, got)
	}
}

func TestMarkdownToTextEmpty(t *testing.T) {
	if got := MarkdownToText("   \n  "); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestMarkdownToTextCodeBlock(t *testing.T) {
	input := "Avant.\n\n```go\nfmt.Println(\"ok\")\n```\n\nAprès."
	got := MarkdownToText(input)
	if !strings.Contains(got, `fmt.Println("ok")`) {
		t.Errorf("code content lost:\n%s", got)
	}
	if strings.Contains(got, "```") {
		t.Errorf("fence markers survived:\n%s", got)
	}
}

func TestIsMarkdownFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"notes.md", true},
		{"README.MD", true},
		{"doc.markdown", true},
		{"rapport.txt", false},
		{"archive.md.gz", false},
	}
	for _, tt := range tests {
		if got := IsMarkdownFile(tt.name); got != tt.want {
			t.Errorf("IsMarkdownFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
