package links

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

func parseMarkdown(src []byte) ast.Node {
	return goldmark.DefaultParser().Parse(text.NewReader(src))
}

func markdownLinks(src []byte) []Link {
	doc := parseMarkdown(src)

	var links []Link
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		var dest string
		switch link := n.(type) {
		case *ast.Link:
			dest = string(link.Destination)
		case *ast.AutoLink:
			dest = string(link.URL(src))
		default:
			return ast.WalkContinue, nil
		}

		anchor := inlineText(n, src)
		context := anchor
		if block := enclosingBlock(n); block != nil {
			context = inlineText(block, src)
		}
		links = append(links, Link{
			URL:        dest,
			Context:    Truncate(context, maxContextLen),
			AnchorText: anchor,
		})
		return ast.WalkSkipChildren, nil
	})
	return links
}

// ExtractTitle returns the text of the first top-level heading in the markdown body.
// Returns empty string if no heading is found.
func ExtractTitle(body string) string {
	src := []byte(body)
	doc := parseMarkdown(src)

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 1 {
			return ast.WalkContinue, nil
		}
		title = inlineText(heading, src)
		return ast.WalkStop, nil
	})
	return title
}

// markdownText returns the text of all headings, paragraphs and list items,
// one block per line.
func markdownText(src []byte) string {
	doc := parseMarkdown(src)

	var lines []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading, ast.KindParagraph, ast.KindTextBlock:
			if s := inlineText(n, src); s != "" {
				lines = append(lines, s)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(lines, "\n")
}

func enclosingBlock(n ast.Node) ast.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == ast.TypeBlock {
			return p
		}
	}
	return nil
}

// inlineText concatenates the text segments under n.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.Label(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
