package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/links"
)

// MaxDiscovered is the number of verified sources kept per claim.
const MaxDiscovered = 3

const discoverPrompt = `A webpage makes the following claim without linking to its source.

Claim: %q
Type of source needed: %q
Mentioned source: %q
Suggested search query: %q

List up to 5 URLs of publicly reachable pages that are the most likely ORIGINAL source of this claim (the study, dataset, report or statement itself, not coverage of it). Only include URLs you are confident exist.

Return a JSON object:
{"search_query": "query you would use", "sources": [{"url": "https://...", "confidence": 0.0-1.0}]}`

type discoverReply struct {
	SearchQuery string `json:"search_query"`
	Sources     []struct {
		URL        string   `json:"url"`
		Confidence *float64 `json:"confidence"`
	} `json:"sources"`
}

// Discoverer proposes sources for unlinked claims with a language model and
// keeps only candidates that can actually be fetched.
type Discoverer struct {
	client  Client
	fetcher crawl.Fetcher
	log     *slog.Logger
}

// NewDiscoverer returns a Discoverer verifying candidates with fetcher.
func NewDiscoverer(client Client, fetcher crawl.Fetcher, log *slog.Logger) *Discoverer {
	if log == nil {
		log = slog.Default()
	}
	return &Discoverer{client: client, fetcher: fetcher, log: log}
}

// Discover implements crawl.SourceDiscoverer.
func (d *Discoverer) Discover(ctx context.Context, claim crawl.Claim) ([]crawl.DiscoveredSource, error) {
	prompt := fmt.Sprintf(discoverPrompt, claim.Claim, claim.NeedsSourceType, claim.MentionedSource, claim.SearchQuery)

	raw, err := d.client.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("discover sources: %w", err)
	}
	doc, err := extractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("discover sources: %w", err)
	}
	var reply discoverReply
	if err := json.Unmarshal(doc, &reply); err != nil {
		return nil, fmt.Errorf("discover sources: %w: %v", ErrInvalidJSON, err)
	}

	query := reply.SearchQuery
	if query == "" {
		query = claim.SearchQuery
	}

	var found []crawl.DiscoveredSource
	seen := make(map[string]bool)
	for _, s := range reply.Sources {
		if len(found) == MaxDiscovered || ctx.Err() != nil {
			break
		}
		if !isWebURL(s.URL) || !links.IsValidSource(s.URL) || seen[s.URL] {
			continue
		}
		seen[s.URL] = true

		if _, err := d.fetcher.Fetch(ctx, s.URL); err != nil {
			d.log.Debug("discovered source unreachable", "url", s.URL, "err", err)
			continue
		}

		confidence := 0.5
		if s.Confidence != nil {
			confidence = min(max(*s.Confidence, 0), 1)
		}
		found = append(found, crawl.DiscoveredSource{
			URL:         s.URL,
			Confidence:  confidence,
			SearchQuery: query,
		})
	}
	return found, nil
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
