package markdown

import (
	"bytes"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// Heading is one heading of a rendered file.
type Heading struct {
	Level int
	Text  string
}

// Inspection summarises a rendered Markdown file.
type Inspection struct {
	FrontMatter map[string]any
	Body        []byte
	Headings    []Heading
}

// Segments counts level-six headings, one per alignment segment.
func (in *Inspection) Segments() int {
	n := 0
	for _, h := range in.Headings {
		if h.Level == 6 {
			n++
		}
	}
	return n
}

// Inspect parses optional front matter and the heading outline of data.
func Inspect(data []byte) (*Inspection, error) {
	fm := make(map[string]any)
	body, err := frontmatter.Parse(bytes.NewReader(data), &fm)
	if err != nil {
		return nil, &errors.ParseError{Format: "front matter", Message: err.Error(), Err: err}
	}

	in := &Inspection{FrontMatter: fm, Body: body}
	doc := goldmark.New().Parser().Parse(text.NewReader(body))
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			in.Headings = append(in.Headings, Heading{Level: h.Level, Text: string(h.Text(body))})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk markdown")
	}
	return in, nil
}

// RenderHTML converts Markdown to HTML. Raw HTML such as the newline
// marker is passed through.
func RenderHTML(markdown []byte) ([]byte, error) {
	md := goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))
	var buf bytes.Buffer
	if err := md.Convert(markdown, &buf); err != nil {
		return nil, errors.Wrap(err, "render html")
	}
	return buf.Bytes(), nil
}
