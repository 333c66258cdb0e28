// Package fetch retrieves pages over HTTP(S) and the Mark Protocol, with
// per-host politeness and an optional disk cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/latebit/citegraph/internal/cache"
	"github.com/latebit/citegraph/internal/links"
	"github.com/latebit/citegraph/internal/ratelimit"
)

// ErrUnavailable is returned for pages that could not be retrieved.
var ErrUnavailable = errors.New("page unavailable")

// DefaultUserAgent identifies the crawler to web servers.
const DefaultUserAgent = "Mozilla/5.0 (Educational Research Bot)"

// maxBody bounds the size of a fetched page.
const maxBody = 10 << 20

// Options configures client behavior.
type Options struct {
	Cache     *cache.Cache
	UserAgent string
	Timeout   time.Duration // per request (default: 10s)

	// RequestsPerSecond limits requests to a single host. Zero disables
	// the limit.
	RequestsPerSecond float64

	// Insecure skips TLS verification for mark:// hosts.
	Insecure bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client fetches pages. It is safe for concurrent use.
type Client struct {
	opts    Options
	limiter *ratelimit.Limiter
	mark    *markTransport
}

// NewClient creates a new client with the given options.
func NewClient(opts Options) *Client {
	opts.applyDefaults()
	c := &Client{
		opts: opts,
		mark: newMarkTransport(opts.Insecure, opts.Timeout),
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = ratelimit.New(opts.RequestsPerSecond, 1)
	}
	return c
}

// Close releases pooled connections and background resources.
func (c *Client) Close() {
	c.mark.close()
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

// Fetch retrieves rawURL. Failures wrap ErrUnavailable; cancellation of ctx
// is returned as is. A fresh cache entry is served without network I/O.
func (c *Client) Fetch(ctx context.Context, rawURL string) (links.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return links.Page{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if c.opts.Cache != nil {
		if e, err := c.opts.Cache.Fresh(rawURL); err != nil {
			c.opts.Logger.Warn("cache read", "url", rawURL, "err", err)
		} else if e != nil {
			c.opts.Logger.Debug("cache hit", "url", rawURL)
			return links.Page{URL: rawURL, ContentType: e.ContentType, Body: e.Body}, nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, u.Host); err != nil {
			return links.Page{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var page links.Page
	switch u.Scheme {
	case "http", "https":
		page, err = c.fetchHTTP(ctx, rawURL)
	case "mark":
		var body []byte
		body, err = c.mark.fetch(ctx, rawURL)
		page = links.Page{URL: rawURL, ContentType: "text/markdown", Body: body}
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return links.Page{}, err
		}
		return links.Page{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, rawURL, err)
	}

	if c.opts.Cache != nil {
		if err := c.opts.Cache.Put(rawURL, page.ContentType, page.Body); err != nil {
			c.opts.Logger.Warn("cache write", "url", rawURL, "err", err)
		}
	}
	return page, nil
}

func (c *Client) fetchHTTP(ctx context.Context, rawURL string) (links.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return links.Page{}, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return links.Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return links.Page{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return links.Page{}, fmt.Errorf("read body: %w", err)
	}
	return links.Page{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
