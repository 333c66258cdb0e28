package links

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

func parseHTML(body []byte) *html.Node {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		// html.Parse only fails on reader errors.
		return &html.Node{Type: html.DocumentNode}
	}
	return doc
}

func htmlTitle(body []byte) string {
	var title string
	var f func(*html.Node) bool
	f = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			title = strings.TrimSpace(nodeText(n))
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if f(c) {
				return true
			}
		}
		return false
	}
	f(parseHTML(body))
	return title
}

func htmlLinks(body []byte) []Link {
	var links []Link
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := attr(n, "href"); ok {
				anchor := nodeText(n)
				context := anchor
				if p := contextAncestor(n); p != nil {
					context = nodeText(p)
				}
				links = append(links, Link{
					URL:        strings.TrimSpace(href),
					Context:    Truncate(context, maxContextLen),
					AnchorText: anchor,
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(parseHTML(body))
	return links
}

func htmlText(body []byte) string {
	var parts []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(parseHTML(body))
	return strings.Join(parts, " ")
}

// contextAncestor returns the closest enclosing block that holds the
// sentence a link appears in.
func contextAncestor(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		switch p.Data {
		case "p", "li", "div", "span":
			return p
		}
	}
	return nil
}

// nodeText joins the trimmed text nodes under n with single spaces.
func nodeText(n *html.Node) string {
	var parts []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(parts, " ")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
