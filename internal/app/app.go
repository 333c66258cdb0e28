// Package app assembles the crawl collaborators described by a Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latebit/citegraph/internal/cache"
	"github.com/latebit/citegraph/internal/config"
	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/fetch"
	"github.com/latebit/citegraph/internal/links"
	"github.com/latebit/citegraph/internal/llm"
)

const (
	llmAttempts  = 3
	llmBaseDelay = 500 * time.Millisecond
)

// Stack is a ready to use set of collaborators.
type Stack struct {
	Collaborators crawl.Collaborators
	Options       crawl.Options

	// Backend names the language model in use, "none" without one.
	Backend string

	fetcher *fetch.Client
}

// Close releases the fetcher's connections.
func (s *Stack) Close() {
	s.fetcher.Close()
}

// New builds the collaborators for cfg. Without a language model links are
// scored as neutral, claims are found by pattern matching and no sources
// are discovered.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}

	var pageCache *cache.Cache
	if !cfg.NoCache && cfg.CacheDir != "" {
		pageCache = cache.New(cfg.CacheDir, cfg.CacheTTL.Duration)
	}
	fetcher := fetch.NewClient(fetch.Options{
		Cache:             pageCache,
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.FetchTimeout.Duration,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Insecure:          cfg.Insecure,
		Logger:            log,
	})

	client, err := NewLLM(ctx, cfg)
	if err != nil {
		fetcher.Close()
		return nil, err
	}

	s := &Stack{
		Collaborators: crawl.Collaborators{
			Fetcher:   fetcher,
			Extractor: links.NewExtractor(),
			Logger:    log,
		},
		Options: crawl.Options{
			MaxDepth:  cfg.MaxDepth,
			Threshold: cfg.Threshold,
			Workers:   cfg.Workers,
		},
		Backend: config.ProviderNone,
		fetcher: fetcher,
	}

	if client == nil {
		s.Collaborators.Scorer = llm.NewScorer(nil, log)
		s.Collaborators.Claims = llm.PatternClaims{}
		return s, nil
	}

	s.Backend = client.Name()
	scorer := crawl.Scorer(llm.NewScorer(client, log))
	if cfg.ScoreCacheSize > 0 {
		cached, err := llm.NewCachedScorer(scorer, cfg.ScoreCacheSize)
		if err != nil {
			fetcher.Close()
			return nil, fmt.Errorf("score cache: %w", err)
		}
		scorer = cached
	}
	s.Collaborators.Scorer = scorer
	s.Collaborators.Claims = llm.NewClaimExtractor(client, log)
	s.Collaborators.Discoverer = llm.NewDiscoverer(client, fetcher, log)
	return s, nil
}

// NewLLM returns the language model selected by cfg wrapped with retries,
// or nil when none is configured.
func NewLLM(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch cfg.Provider() {
	case config.ProviderGemini:
		client, err = llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	case config.ProviderOpenAI:
		client, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s client: %w", cfg.Provider(), err)
	}
	return llm.Wrap(client, llm.Retry(llmAttempts, llmBaseDelay)), nil
}
