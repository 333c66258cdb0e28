package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/latebit/citegraph/internal/crawl"
)

const relationError = "Error"

const scorePrompt = `Analyze the following citation link in its context.

Context Text: %q
Link Anchor Text: %q
Link URL: %q

Task: Determine if this link is provided as EVIDENTIAL PROOF for a specific claim in the context, or if it is just "Related Reading" / "Navigation".

Return a JSON object with:
1. "score": integer 0-100. (0=Navigation/Ad, 20=Related Topic, 50=Background Context, 80=Direct Source of Data/Quote, 100=The Primary Subject)
2. "type": One of ["Source", "Related", "Navigation", "Ad"]
3. "reason": Brief explanation (15 words max)`

// Scorer judges link significance with a language model. It never fails:
// model errors yield a neutral score and unparseable replies a zero score.
type Scorer struct {
	client Client
	log    *slog.Logger
}

// NewScorer returns a Scorer. A nil client scores every link as neutral.
func NewScorer(client Client, log *slog.Logger) *Scorer {
	if log == nil {
		log = slog.Default()
	}
	return &Scorer{client: client, log: log}
}

type scoreReply struct {
	Score  *float64 `json:"score"`
	Type   string   `json:"type"`
	Reason string   `json:"reason"`
}

// Score implements crawl.Scorer.
func (s *Scorer) Score(ctx context.Context, contextText, url, anchor string) crawl.Significance {
	if s.client == nil {
		return crawl.Significance{Score: 50, RelationType: relationError, Reason: "No LLM available"}
	}

	raw, err := s.client.GenerateJSON(ctx, fmt.Sprintf(scorePrompt, contextText, anchor, url))
	if err != nil {
		s.log.Warn("link scoring failed", "url", url, "err", err)
		return crawl.Significance{Score: 50, RelationType: relationError, Reason: err.Error()}
	}

	reply, err := parseScore(raw)
	if err != nil {
		s.log.Warn("link score unparseable", "url", url, "err", err)
		return crawl.Significance{Score: 0, RelationType: relationError, Reason: "Failed to parse JSON"}
	}
	return reply
}

func parseScore(raw []byte) (crawl.Significance, error) {
	doc, err := extractJSON(raw)
	if err != nil {
		return crawl.Significance{}, err
	}
	var r scoreReply
	if err := json.Unmarshal(doc, &r); err != nil {
		return crawl.Significance{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	sig := crawl.Significance{RelationType: r.Type, Reason: r.Reason}
	if r.Score != nil {
		sig.Score = min(max(int(*r.Score), 0), 100)
	}
	if sig.RelationType == "" {
		sig.RelationType = "Related"
	}
	return sig, nil
}

// CachedScorer memoizes verdicts of another scorer. Error verdicts are not
// cached so a later build can retry them.
type CachedScorer struct {
	next  crawl.Scorer
	cache *lru.Cache[string, crawl.Significance]
}

// NewCachedScorer wraps next with an LRU cache of the given size.
func NewCachedScorer(next crawl.Scorer, size int) (*CachedScorer, error) {
	c, err := lru.New[string, crawl.Significance](size)
	if err != nil {
		return nil, err
	}
	return &CachedScorer{next: next, cache: c}, nil
}

// Score implements crawl.Scorer.
func (c *CachedScorer) Score(ctx context.Context, contextText, url, anchor string) crawl.Significance {
	key := url + "\x00" + anchor + "\x00" + contextText
	if sig, ok := c.cache.Get(key); ok {
		return sig
	}
	sig := c.next.Score(ctx, contextText, url, anchor)
	if sig.RelationType != relationError {
		c.cache.Add(key, sig)
	}
	return sig
}
