package crawl

import (
	"context"
	"log/slog"

	"github.com/latebit/citegraph/internal/graph"
	"github.com/latebit/citegraph/internal/links"
)

// Page is a fetched document.
type Page = links.Page

// Metadata describes a fetched page.
type Metadata = links.Metadata

// Fetcher retrieves a page. Unreachable pages and non-success responses are
// reported as errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor reads metadata, outbound links and plain text from a page.
type Extractor interface {
	Metadata(p Page) Metadata
	Links(p Page) []links.Link
	Text(p Page) string
}

// Significance is the verdict on whether a link is evidence for a claim.
type Significance struct {
	Score        int    // 0..100
	RelationType string // e.g. "Evidence", "Related", "Navigation"
	Reason       string
}

// Scorer judges a link in its context. Implementations return a neutral
// verdict instead of failing.
type Scorer interface {
	Score(ctx context.Context, contextText, url, anchor string) Significance
}

// Claim is a factual statement found in page text.
type Claim struct {
	Claim           string
	NeedsSourceType string
	MentionedSource string
	HasExplicitLink bool
	SearchQuery     string
}

// ClaimExtractor finds claims in page text.
type ClaimExtractor interface {
	Claims(ctx context.Context, text, url string) ([]Claim, error)
}

// DiscoveredSource is a page found to back a claim.
type DiscoveredSource struct {
	URL         string
	Confidence  float64
	SearchQuery string
}

// SourceDiscoverer looks up candidate sources for a claim.
type SourceDiscoverer interface {
	Discover(ctx context.Context, claim Claim) ([]DiscoveredSource, error)
}

// Collaborators bundles the services a Builder depends on. Claims and
// Discoverer are optional; without them the implicit source pass is skipped.
type Collaborators struct {
	Fetcher    Fetcher
	Extractor  Extractor
	Scorer     Scorer
	Claims     ClaimExtractor
	Discoverer SourceDiscoverer

	// Listeners are subscribed to every graph the Builder creates.
	Listeners []graph.Listener
	Logger    *slog.Logger
}
