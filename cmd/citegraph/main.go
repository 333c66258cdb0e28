package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/latebit/citegraph/internal/app"
	"github.com/latebit/citegraph/internal/config"
	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/graph"
	"github.com/latebit/citegraph/internal/logging"
	"github.com/latebit/citegraph/internal/metrics"
	"github.com/latebit/citegraph/internal/server"
)

const defaultOutput = "graph_data.json"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "build":
			buildMain(os.Args[2:])
			return
		case "tree":
			treeMain(os.Args[2:])
			return
		case "serve":
			serveMain(os.Args[2:])
			return
		}
	}
	buildMain(os.Args[1:])
}

// loadConfig reads the configuration. A broken config is reported and the
// defaults are used.
func loadConfig() (*config.Config, *slog.Logger) {
	cfg, err := config.NewConfig()
	log := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Warn("config", "err", err)
	}
	return cfg, log
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

func buildMain(args []string) {
	cfg, log := loadConfig()

	fs := flag.NewFlagSet("build", flag.ExitOnError)
	depth := fs.Int("depth", cfg.MaxDepth, "maximum expansion depth, the seed page is depth 0 (env: CITEGRAPH_MAX_DEPTH)")
	workers := fs.Int("workers", cfg.Workers, "concurrent link scoring calls per page (env: CITEGRAPH_WORKERS)")
	threshold := fs.Int("threshold", cfg.Threshold, "minimum significance score of a kept link (env: CITEGRAPH_THRESHOLD)")
	output := fs.String("o", defaultOutput, "write the graph export to this file")
	metricsOut := fs.String("metrics", "", "also write the full structural analysis to this file")
	noCache := fs.Bool("no-cache", cfg.NoCache, "disable the page cache")
	cacheDir := fs.String("cache-dir", cfg.CacheDir, "page cache directory (env: CITEGRAPH_CACHE_DIR)")
	provider := fs.String("llm", cfg.LLMProvider, "language model: gemini, openai or none (env: CITEGRAPH_LLM_PROVIDER)")
	model := fs.String("model", cfg.LLMModel, "language model name (env: CITEGRAPH_LLM_MODEL)")
	insecure := fs.Bool("insecure", cfg.Insecure, "skip TLS certificate verification for mark:// hosts")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: citegraph [build] [-depth N] [-workers N] [-o FILE] [-no-cache] URL\n")
		fmt.Fprintf(os.Stderr, "       citegraph tree [-o FILE] graph.json\n")
		fmt.Fprintf(os.Stderr, "       citegraph serve [-addr ADDR]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	rootURL := fs.Arg(0)

	// Flag overrides take precedence over config
	cfg.MaxDepth = *depth
	cfg.Workers = *workers
	cfg.Threshold = *threshold
	cfg.NoCache = *noCache
	cfg.CacheDir = *cacheDir
	cfg.LLMProvider = strings.ToLower(*provider)
	cfg.LLMModel = *model
	cfg.Insecure = *insecure

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.New(ctx, cfg, log)
	if err != nil {
		fatal(log, "setup", err)
	}
	defer stack.Close()

	g, err := runBuild(ctx, stack, rootURL, os.Stdout)
	switch {
	case errors.Is(err, context.Canceled):
		log.Warn("interrupted, saving partial graph")
	case err != nil:
		fatal(log, "build", err)
	}

	m := graph.Analyze(g)
	exp := graph.Flatten(g)
	logAnalysisIssues(log, m, exp)
	printSummary(os.Stdout, m)

	if err := writeJSON(*output, exp); err != nil {
		fatal(log, "write graph", err)
	}
	if *metricsOut != "" {
		if err := writeJSON(*metricsOut, m); err != nil {
			fatal(log, "write metrics", err)
		}
	}
	fmt.Fprintf(os.Stdout, "\nSaved to: %s\n", *output)
}

// runBuild builds the graph of rootURL, printing each new node and edge.
func runBuild(ctx context.Context, stack *app.Stack, rootURL string, w io.Writer) (*graph.Graph, error) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\nAnalyzing: %s (llm: %s)\n%s\n", rule, rootURL, stack.Backend, rule)

	collab := stack.Collaborators
	collab.Listeners = append(collab.Listeners, progress(w))
	return crawl.New(collab, stack.Options).Build(ctx, rootURL)
}

// progress prints nodes the first time they are seen and every edge.
func progress(w io.Writer) graph.Listener {
	seen := make(map[string]bool)
	return graph.ListenerFuncs{
		OnNode: func(n graph.Node) {
			if seen[n.ID] {
				return
			}
			seen[n.ID] = true
			t := n.Type()
			if t == "" {
				t = graph.TypeUnknown
			}
			fmt.Fprintf(w, "  + [%s] %s\n", t, n.ID)
		},
		OnEdge: func(e graph.Edge) {
			fmt.Fprintf(w, "    %s -> %s (%s)\n", e.From, e.To, e.Type())
		},
	}
}

func logAnalysisIssues(log *slog.Logger, m graph.Metrics, exp graph.Export) {
	if m.CycleErr != nil {
		log.Warn("cycle enumeration failed", "err", m.CycleErr)
	}
	for _, err := range exp.Skipped {
		log.Warn("skipping node in export", "err", err)
	}
}

func printSummary(w io.Writer, m graph.Metrics) {
	fmt.Fprintln(w, "\nAnalysis Metrics:")
	fmt.Fprintf(w, "Nodes: %d\n", m.TotalNodes)
	fmt.Fprintf(w, "Edges: %d\n", m.TotalEdges)
	fmt.Fprintf(w, "Max Depth: %s\n", m.DepthLabel())
	fmt.Fprintf(w, "Cycles found: %d\n", m.CircularCitationsCount)
	if len(m.Bottlenecks) > 0 {
		fmt.Fprintln(w, "Bottlenecks:")
		for _, b := range m.Bottlenecks {
			fmt.Fprintf(w, "  %s (%d citations)\n", b.URL, b.Citations)
		}
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func treeMain(args []string) {
	_, log := loadConfig()

	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	output := fs.String("o", "", "write the tree to this file instead of stdout")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: citegraph tree [-o FILE] graph.json\n\n")
		fmt.Fprintf(os.Stderr, "Convert a graph export into a nested tree rooted at its first node.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	tree, err := loadTree(fs.Arg(0))
	if err != nil {
		fatal(log, "tree", err)
	}

	if *output != "" {
		if err := writeJSON(*output, tree); err != nil {
			fatal(log, "write tree", err)
		}
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tree); err != nil {
		fatal(log, "write tree", err)
	}
}

func loadTree(path string) (*graph.TreeNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var exp graph.Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	tree := graph.Tree(exp)
	if tree == nil {
		return nil, fmt.Errorf("%s: graph has no nodes", path)
	}
	return tree, nil
}

func serveMain(args []string) {
	cfg, log := loadConfig()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.ListenAddr, "address to listen on (env: CITEGRAPH_LISTEN_ADDR, PORT)")
	rps := fs.Float64("rate", cfg.APIRequestsPerSec, "analysis requests per second per client, 0 disables (env: CITEGRAPH_API_REQUESTS_PER_SECOND)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: citegraph serve [-addr ADDR] [-rate N]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if logging.ParseLevel(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.New(ctx, cfg, log)
	if err != nil {
		fatal(log, "setup", err)
	}
	defer stack.Close()

	srv := server.New(stack.Collaborators, stack.Options, server.Options{
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestsPerSecond: *rps,
		Burst:             2,
		Metrics:           metrics.New(prometheus.DefaultRegisterer),
		Logger:            log,
	})
	log.Info("llm backend", "name", stack.Backend)

	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		fatal(log, "serve", err)
	}
	log.Info("citegraph api stopped")
}
