package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/latebit/citegraph/internal/cache"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchHTTP(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<title>Hi</title>")
	}))
	defer srv.Close()

	c := NewClient(Options{Logger: quietLogger()})
	defer c.Close()

	page, err := c.Fetch(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != "<title>Hi</title>" {
		t.Errorf("body = %q", page.Body)
	}
	if page.ContentType != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", page.ContentType)
	}
	if page.URL != srv.URL+"/page" {
		t.Errorf("url = %q", page.URL)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, DefaultUserAgent)
	}
}

func TestFetchNon2xxIsUnavailable(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusMovedPermanently} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if code == http.StatusMovedPermanently {
				// A redirect without Location is returned to the caller as is.
				w.WriteHeader(code)
				return
			}
			http.Error(w, "nope", code)
		}))

		c := NewClient(Options{Logger: quietLogger()})
		_, err := c.Fetch(context.Background(), srv.URL)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("status %d: err = %v, want ErrUnavailable", code, err)
		}
		c.Close()
		srv.Close()
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewClient(Options{Logger: quietLogger()})
	defer c.Close()
	if _, err := c.Fetch(context.Background(), addr); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Options{Timeout: 50 * time.Millisecond, Logger: quietLogger()})
	defer c.Close()
	if _, err := c.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	c := NewClient(Options{Logger: quietLogger()})
	defer c.Close()
	if _, err := c.Fetch(context.Background(), "ftp://example.com/x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestFetchServesFreshCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "cached body")
	}))
	defer srv.Close()

	c := NewClient(Options{Cache: cache.New(t.TempDir(), time.Hour), Logger: quietLogger()})
	defer c.Close()

	for range 3 {
		page, err := c.Fetch(context.Background(), srv.URL+"/doc")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if string(page.Body) != "cached body" || page.ContentType != "text/html" {
			t.Errorf("page = %+v", page)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestFetchDoesNotCacheFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Options{Cache: cache.New(t.TempDir(), time.Hour), Logger: quietLogger()})
	defer c.Close()

	c.Fetch(context.Background(), srv.URL)
	c.Fetch(context.Background(), srv.URL)
	if n := hits.Load(); n != 2 {
		t.Errorf("server hit %d times, want 2 (no retries, no cached failure)", n)
	}
}

func TestFetchRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := NewClient(Options{RequestsPerSecond: 0.001, Logger: quietLogger()})
	defer c.Close()

	if _, err := c.Fetch(context.Background(), srv.URL+"/a"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Fetch(ctx, srv.URL+"/b"); err == nil {
		t.Error("second fetch to the same host should wait past the deadline")
	}
}

func TestFetchCancelled(t *testing.T) {
	c := NewClient(Options{Logger: quietLogger()})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, "https://example.invalid/")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("cancellation reported as an unavailable page")
	}
}
