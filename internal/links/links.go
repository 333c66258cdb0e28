// Package links extracts, filters and prioritizes the outbound links of
// fetched HTML and markdown pages.
package links

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// maxContextLen bounds the context captured around a link, in runes.
const maxContextLen = 300

// Page is a fetched document.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// Metadata describes a page for its graph node.
type Metadata struct {
	URL    string
	Title  string
	Domain string
}

// Extractor reads metadata, links and plain text out of HTML and markdown
// pages, picking the format from the content type or the URL suffix.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Metadata returns the title and domain of p. The title falls back to the URL.
func (e *Extractor) Metadata(p Page) Metadata {
	var title string
	if isMarkdown(p) {
		title = ExtractTitle(string(p.Body))
	} else {
		title = htmlTitle(p.Body)
	}
	if title == "" {
		title = p.URL
	}
	return Metadata{URL: p.URL, Title: title, Domain: hostOf(p.URL)}
}

// Links returns the valid outbound links of p in document order, resolved
// against the page URL.
func (e *Extractor) Links(p Page) []Link {
	var raw []Link
	if isMarkdown(p) {
		raw = markdownLinks(p.Body)
	} else {
		raw = htmlLinks(p.Body)
	}

	var result []Link
	for _, l := range raw {
		if l.URL == "" || strings.HasPrefix(l.URL, "#") {
			continue
		}
		l.URL = Resolve(p.URL, l.URL)
		if !IsValidSource(l.URL) {
			continue
		}
		result = append(result, l)
	}
	return result
}

// Text returns the readable text of p.
func (e *Extractor) Text(p Page) string {
	if isMarkdown(p) {
		return markdownText(p.Body)
	}
	return htmlText(p.Body)
}

func isMarkdown(p Page) bool {
	if mt, _, err := mime.ParseMediaType(p.ContentType); err == nil {
		switch mt {
		case "text/markdown", "text/x-markdown":
			return true
		case "text/html", "application/xhtml+xml":
			return false
		}
	}
	if strings.HasPrefix(p.URL, "mark://") {
		return true
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == ".md" || ext == ".markdown"
}

// Resolve resolves a possibly-relative link dest against baseURL.
func Resolve(baseURL, dest string) string {
	if strings.Contains(dest, "://") {
		return dest
	}
	base, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return dest
	}
	ref, err := url.Parse(dest)
	if err != nil {
		return dest
	}
	return base.ResolveReference(ref).String()
}

var (
	excludedHosts = []string{
		"facebook.com", "twitter.com", "instagram.com",
		"linkedin.com", "youtube.com", "ads.", "google.com",
	}
	excludedPaths = []string{"/login", "/signup", "/share", "/subscribe"}
)

// IsValidSource reports whether rawURL can be a citation target: an absolute
// http(s) or mark URL that is not social media, advertising, search or an
// account/sharing page.
func IsValidSource(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "mark":
	default:
		return false
	}
	host := strings.ToLower(u.Host)
	for _, ex := range excludedHosts {
		if strings.Contains(host, ex) {
			return false
		}
	}
	for _, ex := range excludedPaths {
		if strings.Contains(u.Path, ex) {
			return false
		}
	}
	return true
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
