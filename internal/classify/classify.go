// Package classify maps URLs to authority categories and categories to the
// vertical tiers used when laying out a citation graph.
package classify

import (
	"net/url"
	"strings"
)

// Category is the authority type of a page's domain.
type Category string

const (
	Government     Category = "government"
	Academic       Category = "academic"
	Research       Category = "research"
	NewsHigh       Category = "news_high"
	NewsMainstream Category = "news_mainstream"
	NewsOther      Category = "news_other"
	Organization   Category = "organization"
	Social         Category = "social"
	Commercial     Category = "commercial"
)

var (
	academicMarkers = []string{"university", "college", "academic"}
	researchMarkers = []string{"nature.com", "science.org", "arxiv", "pubmed", "jstor"}
	socialMarkers   = []string{"reddit", "medium", "substack", "blog"}

	// newsOutlets is checked in order, highest quality tier first.
	newsOutlets = []struct {
		category Category
		markers  []string
	}{
		{NewsHigh, []string{"reuters.com", "apnews.com", "bbc.", "npr.org", "pbs.org"}},
		{NewsMainstream, []string{"nytimes.com", "washingtonpost.com", "wsj.com", "theguardian.com"}},
		{NewsOther, []string{"cnn.com", "foxnews.com", "msnbc.com"}},
	}
)

// Classify returns the category of rawURL's host. The first matching rule
// wins; unparseable URLs and unknown hosts are Commercial.
func Classify(rawURL string) Category {
	return ClassifyHost(host(rawURL))
}

// ClassifyHost classifies a bare host name.
func ClassifyHost(domain string) Category {
	domain = strings.ToLower(domain)

	switch {
	case strings.HasSuffix(domain, ".gov") || strings.Contains(domain, "government"):
		return Government
	case strings.HasSuffix(domain, ".edu") || containsAny(domain, academicMarkers):
		return Academic
	case containsAny(domain, researchMarkers):
		return Research
	}

	for _, tier := range newsOutlets {
		if containsAny(domain, tier.markers) {
			return tier.category
		}
	}

	switch {
	case strings.HasSuffix(domain, ".org"):
		return Organization
	case containsAny(domain, socialMarkers):
		return Social
	}
	return Commercial
}

var tiers = map[string]int{
	string(Government):     1,
	"virtual":              1,
	string(Academic):       2,
	string(Research):       2,
	string(NewsHigh):       3,
	string(NewsMainstream): 3,
	string(NewsOther):      3,
	string(Organization):   4,
	string(Commercial):     4,
	string(Social):         5,
	"unknown":              5,
}

// Tier returns the layout tier (1 top .. 5 bottom) for a node type. Types
// without an entry, including "source" and "related", sit on tier 5.
func Tier(nodeType string) int {
	if t, ok := tiers[nodeType]; ok {
		return t
	}
	return 5
}

func host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
