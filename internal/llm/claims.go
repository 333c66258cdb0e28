package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/links"
)

// claimTextLimit bounds the page text sent to the model, in characters.
const claimTextLimit = 4000

const claimsPrompt = `You are analyzing a webpage for epistemological research.

URL: %s

TEXT:
%s

Your task:
1. Identify 5-10 FACTUAL CLAIMS in this text that would require external verification
2. For each claim, identify:
   - The specific claim text
   - What type of source would verify it (research study, government data, expert testimony, etc.)
   - Any people/organizations mentioned who might be the original source
   - Whether the claim seems to have an explicit source in the text or not

Return ONLY a JSON object like:
{"claims": [
  {
    "claim": "70%% of Americans support X",
    "needs_source_type": "poll/survey data",
    "mentioned_source": "Pew Research Center",
    "has_explicit_link": false,
    "search_query": "Pew Research Americans support X 2024"
  }
]}`

type claimReply struct {
	Claim           string `json:"claim"`
	NeedsSourceType string `json:"needs_source_type"`
	MentionedSource string `json:"mentioned_source"`
	HasExplicitLink bool   `json:"has_explicit_link"`
	SearchQuery     string `json:"search_query"`
}

// ClaimExtractor finds claims needing sources with a language model.
type ClaimExtractor struct {
	client Client
	log    *slog.Logger
}

// NewClaimExtractor returns a ClaimExtractor using client.
func NewClaimExtractor(client Client, log *slog.Logger) *ClaimExtractor {
	if log == nil {
		log = slog.Default()
	}
	return &ClaimExtractor{client: client, log: log}
}

// Claims implements crawl.ClaimExtractor.
func (e *ClaimExtractor) Claims(ctx context.Context, text, url string) ([]crawl.Claim, error) {
	prompt := fmt.Sprintf(claimsPrompt, url, links.Truncate(text, claimTextLimit))

	raw, err := e.client.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	replies, err := parseClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}

	claims := make([]crawl.Claim, 0, len(replies))
	for _, r := range replies {
		if r.Claim == "" {
			continue
		}
		claims = append(claims, crawl.Claim{
			Claim:           r.Claim,
			NeedsSourceType: r.NeedsSourceType,
			MentionedSource: r.MentionedSource,
			HasExplicitLink: r.HasExplicitLink,
			SearchQuery:     r.SearchQuery,
		})
	}
	e.log.Debug("claims extracted", "url", url, "count", len(claims))
	return claims, nil
}

// parseClaims accepts either a bare array or an object with a "claims" array.
func parseClaims(raw []byte) ([]claimReply, error) {
	doc, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var list []claimReply
	if err := json.Unmarshal(doc, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Claims []claimReply `json:"claims"`
	}
	if err := json.Unmarshal(doc, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return wrapped.Claims, nil
}
