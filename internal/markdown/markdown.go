// Package markdown renders markdown-chart output to HTML with a heading
// outline, used by the processor's markdown post-processing step.
package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Renderer converts markdown to HTML. Safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a Renderer with GitHub-flavored extensions and stable
// heading anchors.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

// Render converts source text to HTML and returns document metadata: the
// heading outline and the language hint the chart was rendered for.
func (r *Renderer) Render(source, lang string) (string, map[string]any, error) {
	src := []byte(source)
	doc := r.md.Parser().Parse(text.NewReader(src))

	headings := []any{}
	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := node.(*ast.Heading); ok {
			headings = append(headings, map[string]any{
				"level": heading.Level,
				"title": string(heading.Text(src)),
			})
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("markdown outline: %w", err)
	}

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, src, doc); err != nil {
		return "", nil, fmt.Errorf("markdown render: %w", err)
	}

	meta := map[string]any{"headings": headings}
	if lang != "" {
		meta["lang"] = lang
	}
	return buf.String(), meta, nil
}
