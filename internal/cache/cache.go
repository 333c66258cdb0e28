// Package cache provides local file-based caching for fetched pages.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultTTL is how long an entry is served without refetching.
const DefaultTTL = 24 * time.Hour

// pageFile is the name of a page body inside its path directory, so that
// "/a" and "/a/b" never collide.
const pageFile = "_page"

// Cache stores fetched pages on the local filesystem.
type Cache struct {
	Dir string
	TTL time.Duration
	now func() time.Time
}

// Entry is a cached page with metadata about when it was stored.
type Entry struct {
	URL         string
	ContentType string
	Body        []byte
	CachedAt    time.Time
}

// meta is the TOML-serializable cache metadata.
type meta struct {
	URL         string    `toml:"url"`
	ContentType string    `toml:"content_type"`
	CachedAt    time.Time `toml:"cached_at"`
}

// New creates a cache rooted at the given directory. A zero ttl means
// DefaultTTL.
func New(dir string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{Dir: dir, TTL: ttl, now: time.Now}
}

// Put writes a page to the cache.
func (c *Cache) Put(rawURL, contentType string, body []byte) error {
	filePath, err := c.filePath(rawURL)
	if err != nil {
		return err
	}
	metaPath := filePath + ".meta"

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filePath, body, 0o644); err != nil {
		return err
	}

	m := meta{
		URL:         rawURL,
		ContentType: contentType,
		CachedAt:    c.now().UTC(),
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return err
	}
	return os.WriteFile(metaPath, buf.Bytes(), 0o644)
}

// Get reads a cached page. Returns nil if not cached.
func (c *Cache) Get(rawURL string) (*Entry, error) {
	filePath, err := c.filePath(rawURL)
	if err != nil {
		return nil, nil
	}
	metaPath := filePath + ".meta"

	body, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m meta
	if _, err := toml.DecodeFile(metaPath, &m); err != nil {
		return nil, nil
	}

	return &Entry{
		URL:         m.URL,
		ContentType: m.ContentType,
		Body:        body,
		CachedAt:    m.CachedAt,
	}, nil
}

// Fresh returns the cached page if it is younger than the TTL.
func (c *Cache) Fresh(rawURL string) (*Entry, error) {
	e, err := c.Get(rawURL)
	if err != nil || e == nil {
		return nil, err
	}
	if c.now().Sub(e.CachedAt) > c.TTL {
		return nil, nil
	}
	return e, nil
}

// filePath maps a URL to <dir>/<scheme>_<host>/<path>/_page[_<query hash>].
func (c *Cache) filePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	safeHost := strings.ReplaceAll(u.Scheme+"_"+u.Host, "..", "_")
	safeHost = strings.ReplaceAll(safeHost, string(filepath.Separator), "_")

	cleaned := filepath.Clean("/" + u.Path)
	cleaned = strings.TrimLeft(cleaned, "/")

	name := pageFile
	if u.RawQuery != "" {
		sum := sha256.Sum256([]byte(u.RawQuery))
		name += "_" + hex.EncodeToString(sum[:8])
	}

	return filepath.Join(c.Dir, safeHost, cleaned, name), nil
}
