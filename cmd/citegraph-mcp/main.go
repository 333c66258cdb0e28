// Command citegraph-mcp is an MCP server that exposes citation graph building
// and domain classification as tools for LLM agents, over stdio transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/latebit/citegraph/internal/app"
	"github.com/latebit/citegraph/internal/classify"
	"github.com/latebit/citegraph/internal/config"
	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/graph"
	"github.com/latebit/citegraph/internal/logging"
)

const (
	defaultDepth = 2
	maxDepth     = 3
	maxNodes     = 200
)

func main() {
	cfg, cfgErr := config.NewConfig()
	noCache := flag.Bool("no-cache", cfg.NoCache, "disable the page cache")
	provider := flag.String("llm", cfg.LLMProvider, "language model: gemini, openai or none")
	flag.Parse()

	// stdout carries the protocol, logs go to stderr.
	log := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if cfgErr != nil {
		log.Warn("config", "err", cfgErr)
	}
	cfg.NoCache = *noCache
	cfg.LLMProvider = strings.ToLower(*provider)

	stack, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Error("setup", "err", err)
		os.Exit(1)
	}
	defer stack.Close()

	s := server.NewMCPServer("citegraph-mcp", "0.1.0")

	h := &handler{collab: stack.Collaborators, opts: stack.Options}
	s.AddTool(citationGraphTool(), h.citationGraph)
	s.AddTool(classifyDomainTool(), h.classifyDomain)

	if err := server.ServeStdio(s); err != nil {
		log.Error("serve", "err", err)
		os.Exit(1)
	}
}

type handler struct {
	collab crawl.Collaborators
	opts   crawl.Options
}

// Tool definitions.

func citationGraphTool() mcp.Tool {
	return mcp.NewTool("citation_graph",
		mcp.WithDescription(
			"Build the citation graph of a web page: which sources it cites as evidence, "+
				"which sources those cite, and which claims cite no source at all. "+
				"Returns structural metrics (bottlenecks, circular citations, depth) "+
				"followed by the nodes and citation edges.",
		),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("http(s) or mark:// URL of the page to analyze"),
		),
		mcp.WithNumber("depth",
			mcp.Description(fmt.Sprintf("Maximum expansion depth (default %d, max %d)", defaultDepth, maxDepth)),
		),
	)
}

func classifyDomainTool() mcp.Tool {
	return mcp.NewTool("classify_domain",
		mcp.WithDescription(
			"Classify the authority of a URL's domain (government, academic, research, "+
				"news tiers, organization, social, commercial) and its layout tier from 1 (most "+
				"authoritative) to 5.",
		),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("URL or bare domain name"),
		),
	)
}

// Tool handlers.
// Handler signatures are dictated by mcp-go's ToolHandlerFunc type.

func (h *handler) citationGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) { //nolint:gocritic // signature required by mcp-go
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	depth := max(1, min(req.GetInt("depth", defaultDepth), maxDepth))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := newNodeLimit(maxNodes, cancel)
	collab := h.collab
	collab.Listeners = append(collab.Listeners, limit)
	opts := h.opts
	opts.MaxDepth = depth

	g, err := crawl.New(collab, opts).Build(ctx, rawURL)
	capped := false
	switch {
	case errors.Is(err, crawl.ErrInvalidRoot):
		return mcp.NewToolResultError(fmt.Sprintf("invalid URL: %v", err)), nil
	case errors.Is(err, context.Canceled) && limit.reached():
		capped = true
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("build failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatGraph(g, rawURL, capped)), nil
}

// nodeLimit cancels a build once it has seen limit distinct nodes.
type nodeLimit struct {
	limit  int
	cancel context.CancelFunc

	mu   sync.Mutex
	seen map[string]bool
}

func newNodeLimit(limit int, cancel context.CancelFunc) *nodeLimit {
	return &nodeLimit{limit: limit, cancel: cancel, seen: make(map[string]bool)}
}

func (l *nodeLimit) NodeAdded(n graph.Node) {
	l.mu.Lock()
	l.seen[n.ID] = true
	hit := len(l.seen) >= l.limit
	l.mu.Unlock()
	if hit {
		l.cancel()
	}
}

func (l *nodeLimit) EdgeAdded(graph.Edge) {}

func (l *nodeLimit) reached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen) >= l.limit
}

func (h *handler) classifyDomain(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) { //nolint:gocritic // signature required by mcp-go
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}

	host := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	category := classify.ClassifyHost(host)
	return mcp.NewToolResultText(fmt.Sprintf("domain: %s\ncategory: %s\ntier: %d", host, category, classify.Tier(string(category)))), nil
}

// formatGraph renders a graph as a plain-text report for LLM consumption.
func formatGraph(g *graph.Graph, rootURL string, capped bool) string {
	m := graph.Analyze(g)

	var b strings.Builder
	fmt.Fprintf(&b, "Citation graph of %s: %d nodes, %d edges\n", rootURL, m.TotalNodes, m.TotalEdges)
	if capped {
		fmt.Fprintf(&b, "(stopped after %d nodes)\n", maxNodes)
	}
	fmt.Fprintf(&b, "Max depth: %s\n", m.DepthLabel())
	fmt.Fprintf(&b, "Circular citations: %d\n", m.CircularCitationsCount)

	if len(m.Bottlenecks) > 0 {
		b.WriteString("\nBottlenecks:\n")
		for _, bn := range m.Bottlenecks {
			fmt.Fprintf(&b, "  %s cited by %d pages\n", bn.URL, bn.Citations)
		}
	}
	if len(m.UnsourcedNodes) > 0 {
		b.WriteString("\nUnsourced:\n")
		for _, id := range m.UnsourcedNodes {
			fmt.Fprintf(&b, "  %s\n", id)
		}
	}

	exp := graph.Flatten(g)
	if len(exp.Nodes) == 0 {
		return b.String()
	}

	b.WriteString("\nNodes:\n")
	for _, n := range exp.Nodes {
		fmt.Fprintf(&b, "  [%-15s] %s %q\n", n.Type, n.ID, n.Title)
	}

	if len(exp.Links) > 0 {
		b.WriteString("\nCitations:\n")
		for _, l := range exp.Links {
			fmt.Fprintf(&b, "  %s -> %s (%s, %.2f)\n", l.Source, l.Target, l.Type, l.Confidence)
		}
	}

	return b.String()
}
