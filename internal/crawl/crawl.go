// Package crawl builds citation graphs by expanding a seed page depth first,
// keeping only the links a Scorer judges significant.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/latebit/citegraph/internal/classify"
	"github.com/latebit/citegraph/internal/graph"
	"github.com/latebit/citegraph/internal/links"
)

// ErrInvalidRoot is returned by Build for an empty or non-absolute root URL.
var ErrInvalidRoot = errors.New("invalid root url")

const (
	virtualDomain     = "Offline Source"
	virtualConfidence = 0.8
	virtualReason     = "Cited but not linked"
)

// Options configures a Builder.
type Options struct {
	MaxDepth     int // expansion depth bound, the root is depth 0 (default: 2)
	Threshold    int // links scoring below are discarded (default: 40)
	RecurseAbove int // links scoring above are expanded (default: 60)
	SourceAbove  int // links scoring above become "source" nodes (default: 75)
	TextLimit    int // characters of page text searched for claims (default: 5000)
	Workers      int // concurrent scoring calls per page (default: 1)
}

func (o *Options) applyDefaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 2
	}
	if o.Threshold <= 0 {
		o.Threshold = 40
	}
	if o.RecurseAbove <= 0 {
		o.RecurseAbove = 60
	}
	if o.SourceAbove <= 0 {
		o.SourceAbove = 75
	}
	if o.TextLimit <= 0 {
		o.TextLimit = 5000
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
}

// Builder constructs citation graphs. A Builder holds no per-build state and
// may run several builds at once.
type Builder struct {
	collab Collaborators
	opts   Options
	log    *slog.Logger
}

// New returns a Builder using collab. Fetcher, Extractor and Scorer are
// required.
func New(collab Collaborators, opts Options) *Builder {
	opts.applyDefaults()
	log := collab.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Builder{collab: collab, opts: opts, log: log}
}

// Build expands rootURL into a citation graph. Failures of individual pages
// and collaborators are logged and skipped. If ctx is cancelled the graph
// built so far is returned with ctx.Err().
func (b *Builder) Build(ctx context.Context, rootURL string) (*graph.Graph, error) {
	if err := validateRoot(rootURL); err != nil {
		return nil, err
	}

	g := graph.New()
	for _, l := range b.collab.Listeners {
		g.Subscribe(l)
	}

	r := &run{Builder: b, g: g, visited: make(map[string]bool)}
	r.expand(ctx, rootURL, 0)

	return g, ctx.Err()
}

func validateRoot(rootURL string) error {
	if rootURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoot)
	}
	u, err := url.Parse(rootURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	switch u.Scheme {
	case "http", "https", "mark":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRoot, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidRoot)
	}
	return nil
}

// run holds the state of a single build.
type run struct {
	*Builder
	g *graph.Graph

	mu      sync.Mutex
	visited map[string]bool
}

// markVisited returns true if the URL was not yet visited, and marks it.
func (r *run) markVisited(u string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visited[u] {
		return false
	}
	r.visited[u] = true
	return true
}

func (r *run) expand(ctx context.Context, pageURL string, depth int) {
	if depth >= r.opts.MaxDepth || ctx.Err() != nil {
		return
	}
	if !r.markVisited(pageURL) {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("expansion panicked", "url", pageURL, "depth", depth, "panic", p)
		}
	}()

	r.log.Info("analyzing", "url", pageURL, "depth", depth)

	page, err := r.collab.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		r.log.Warn("fetch failed", "url", pageURL, "err", err)
		return
	}
	if len(page.Body) == 0 {
		r.log.Warn("empty page", "url", pageURL)
		return
	}

	meta := r.collab.Extractor.Metadata(page)
	r.g.AddNode(pageURL, graph.Attrs{
		graph.AttrURL:    pageURL,
		graph.AttrTitle:  meta.Title,
		graph.AttrDomain: meta.Domain,
		graph.AttrType:   string(classify.Classify(pageURL)),
	})

	extracted := r.collab.Extractor.Links(page)
	candidates := links.Partition(pageURL, extracted)
	r.log.Debug("links selected", "url", pageURL, "found", len(extracted), "selected", len(candidates))

	r.followLinks(ctx, pageURL, depth, candidates)

	if depth == 0 && r.collab.Claims != nil {
		r.implicitSources(ctx, pageURL, page, depth)
	}
}

func (r *run) followLinks(ctx context.Context, pageURL string, depth int, candidates []links.Link) {
	var scores []Significance
	if r.opts.Workers > 1 {
		scores = r.scoreAll(ctx, candidates)
	}

	for i, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		if c.URL == pageURL {
			continue
		}

		var sig Significance
		if scores != nil {
			sig = scores[i]
		} else {
			sig = r.safeScore(ctx, c)
		}
		if sig.Score < r.opts.Threshold {
			r.log.Debug("skipping insignificant link", "url", c.URL, "score", sig.Score)
			continue
		}

		r.log.Info("source added", "url", c.URL, "score", sig.Score, "relation", sig.RelationType)

		if !r.g.HasNode(c.URL) {
			nodeType := graph.TypeRelated
			if sig.Score > r.opts.SourceAbove {
				nodeType = graph.TypeSource
			}
			r.g.AddNode(c.URL, graph.Attrs{graph.AttrURL: c.URL, graph.AttrType: nodeType})
		}
		r.g.AddEdge(pageURL, c.URL, graph.Attrs{
			graph.AttrType:         graph.EdgeExplicit,
			graph.AttrContext:      c.Context,
			graph.AttrConfidence:   float64(sig.Score) / 100,
			graph.AttrSignificance: sig.Score,
			graph.AttrRelationType: sig.RelationType,
			graph.AttrReason:       sig.Reason,
		})

		if sig.Score > r.opts.RecurseAbove && depth+1 < r.opts.MaxDepth {
			r.expand(ctx, c.URL, depth+1)
		}
	}
}

// scoreAll scores candidates with up to opts.Workers concurrent calls. The
// result is indexed like candidates.
func (r *run) scoreAll(ctx context.Context, candidates []links.Link) []Significance {
	scores := make([]Significance, len(candidates))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for range min(r.opts.Workers, len(candidates)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i] = r.safeScore(ctx, candidates[i])
			}
		}()
	}
	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return scores
}

// safeScore treats a panicking scorer as a zero score.
func (r *run) safeScore(ctx context.Context, c links.Link) (sig Significance) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("scorer panicked", "url", c.URL, "panic", p)
			sig = Significance{}
		}
	}()
	return r.collab.Scorer.Score(ctx, c.Context, c.URL, c.AnchorText)
}

func (r *run) implicitSources(ctx context.Context, pageURL string, page Page, depth int) {
	text := links.Truncate(r.collab.Extractor.Text(page), r.opts.TextLimit)

	claims, err := r.collab.Claims.Claims(ctx, text, pageURL)
	if err != nil {
		r.log.Warn("claim extraction failed", "url", pageURL, "err", err)
		return
	}

	for _, claim := range claims {
		if ctx.Err() != nil {
			return
		}
		if claim.HasExplicitLink {
			continue
		}

		var sources []DiscoveredSource
		if r.collab.Discoverer != nil {
			sources, err = r.collab.Discoverer.Discover(ctx, claim)
			if err != nil {
				r.log.Warn("source discovery failed", "claim", claim.Claim, "err", err)
				sources = nil
			}
		}

		if len(sources) == 0 {
			r.addVirtualSource(pageURL, claim)
			continue
		}

		for _, src := range sources {
			if src.URL == "" || src.URL == pageURL {
				continue
			}
			if !r.g.HasNode(src.URL) {
				r.g.AddNode(src.URL, graph.Attrs{
					graph.AttrURL:  src.URL,
					graph.AttrType: string(classify.Classify(src.URL)),
				})
			}
			r.g.AddEdge(pageURL, src.URL, graph.Attrs{
				graph.AttrType:        graph.EdgeDiscovered,
				graph.AttrClaim:       claim.Claim,
				graph.AttrConfidence:  src.Confidence,
				graph.AttrSearchQuery: src.SearchQuery,
			})
			r.expand(ctx, src.URL, depth+1)
		}
	}
}

func (r *run) addVirtualSource(pageURL string, claim Claim) {
	name := claim.MentionedSource
	if name == "" {
		name = claim.NeedsSourceType
	}
	if name == "" {
		return
	}

	id := graph.VirtualPrefix + name
	r.log.Info("virtual source added", "id", id)

	r.g.AddNode(id, graph.Attrs{
		graph.AttrType:   graph.TypeVirtual,
		graph.AttrDomain: virtualDomain,
	})
	r.g.AddEdge(pageURL, id, graph.Attrs{
		graph.AttrType:       graph.EdgeVirtual,
		graph.AttrClaim:      claim.Claim,
		graph.AttrConfidence: virtualConfidence,
		graph.AttrReason:     virtualReason,
	})
}
