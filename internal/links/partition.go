package links

import (
	"net/url"
	"strings"
)

// Candidate budgets per page.
const (
	MaxExternal = 10
	MaxInternal = 3
)

// Link is an outbound link found on a page.
type Link struct {
	URL        string
	Context    string // surrounding text, used to judge the citation
	AnchorText string
}

// BaseDomain reduces host to its registrable part: "edition.cnn.com" becomes
// "cnn.com" and "news.bbc.co.uk" becomes "bbc.co.uk". It is a heuristic and
// does not consult the public suffix list.
func BaseDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	n := len(parts)
	if len(parts[n-1]) == 2 && len(parts[n-2]) <= 3 {
		return strings.Join(parts[n-3:], ".")
	}
	return strings.Join(parts[n-2:], ".")
}

// Partition selects the candidates worth scoring for the page at rootURL:
// up to MaxExternal external links followed by up to MaxInternal internal
// ones, each group in input order. Links back to rootURL are dropped.
func Partition(rootURL string, candidates []Link) []Link {
	rootBase := BaseDomain(hostOf(rootURL))

	var external, internal []Link
	for _, l := range candidates {
		if l.URL == rootURL {
			continue
		}
		if isExternal(rootBase, BaseDomain(hostOf(l.URL))) {
			external = append(external, l)
		} else {
			internal = append(internal, l)
		}
	}

	selected := make([]Link, 0, min(len(external), MaxExternal)+min(len(internal), MaxInternal))
	selected = append(selected, external[:min(len(external), MaxExternal)]...)
	selected = append(selected, internal[:min(len(internal), MaxInternal)]...)
	return selected
}

// isExternal treats bases that contain one another as the same site.
func isExternal(rootBase, linkBase string) bool {
	return linkBase != rootBase &&
		!strings.Contains(rootBase, linkBase) &&
		!strings.Contains(linkBase, rootBase)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
