package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/links"
)

// fakeClient replays canned replies in order, repeating the last one.
type fakeClient struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) GenerateJSON(_ context.Context, prompt string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.replies) == 0 {
		return nil, errors.New("no reply")
	}
	return json.RawMessage(f.replies[min(i, len(f.replies)-1)]), nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain object", `{"score": 80}`, `{"score": 80}`, false},
		{"fenced with language", "```json\n{\"score\": 80}\n```", `{"score": 80}`, false},
		{"fenced without language", "```\n[1, 2]\n```", `[1, 2]`, false},
		{"surrounded by prose", `Sure! Here it is: {"score": 80} Hope that helps.`, `{"score": 80}`, false},
		{"array in prose", `claims: [{"claim": "x"}] done`, `[{"claim": "x"}]`, false},
		{"no json", "I cannot help with that.", "", true},
		{"broken json", `{"score": `, "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidJSON)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	c := &fakeClient{
		errs:    []error{errors.New("503"), errors.New("503")},
		replies: []string{`{"ok": true}`},
	}
	r := Wrap(c, Retry(3, time.Millisecond))

	got, err := r.GenerateJSON(context.Background(), "p")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(got))
	assert.Equal(t, 3, c.calls())
	assert.Equal(t, "fake", r.Name())
}

func TestRetryGivesUp(t *testing.T) {
	c := &fakeClient{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	_, err := Wrap(c, Retry(3, time.Millisecond)).GenerateJSON(context.Background(), "p")
	assert.EqualError(t, err, "c")
	assert.Equal(t, 3, c.calls())
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	perm := NewPermanentError(errors.New("invalid api key"))
	c := &fakeClient{errs: []error{perm}}

	_, err := Wrap(c, Retry(5, time.Millisecond)).GenerateJSON(context.Background(), "p")
	var pErr *PermanentError
	assert.ErrorAs(t, err, &pErr)
	assert.Equal(t, 1, c.calls())
}

func TestRetryStopsOnCancel(t *testing.T) {
	c := &fakeClient{errs: []error{errors.New("a"), errors.New("b")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Wrap(c, Retry(3, time.Hour)).GenerateJSON(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.calls())
}

func TestScorer(t *testing.T) {
	tests := []struct {
		name   string
		client Client
		want   crawl.Significance
	}{
		{
			name:   "no client",
			client: nil,
			want:   crawl.Significance{Score: 50, RelationType: "Error", Reason: "No LLM available"},
		},
		{
			name:   "client error",
			client: &fakeClient{errs: []error{errors.New("quota exceeded")}},
			want:   crawl.Significance{Score: 50, RelationType: "Error", Reason: "quota exceeded"},
		},
		{
			name:   "unparseable reply",
			client: &fakeClient{replies: []string{"no idea"}},
			want:   crawl.Significance{Score: 0, RelationType: "Error", Reason: "Failed to parse JSON"},
		},
		{
			name:   "fenced reply",
			client: &fakeClient{replies: []string{"```json\n{\"score\": 85, \"type\": \"Source\", \"reason\": \"primary data\"}\n```"}},
			want:   crawl.Significance{Score: 85, RelationType: "Source", Reason: "primary data"},
		},
		{
			name:   "score clamped",
			client: &fakeClient{replies: []string{`{"score": 140, "type": "Source"}`}},
			want:   crawl.Significance{Score: 100, RelationType: "Source"},
		},
		{
			name:   "negative score clamped",
			client: &fakeClient{replies: []string{`{"score": -3, "type": "Ad"}`}},
			want:   crawl.Significance{Score: 0, RelationType: "Ad"},
		},
		{
			name:   "missing type",
			client: &fakeClient{replies: []string{`{"score": 30}`}},
			want:   crawl.Significance{Score: 30, RelationType: "Related"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewScorer(tt.client, nil).Score(context.Background(), "ctx", "https://a.org/", "anchor")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScorerPrompt(t *testing.T) {
	c := &fakeClient{replies: []string{`{"score": 10}`}}
	NewScorer(c, nil).Score(context.Background(), "Cases rose 5%.", "https://cdc.gov/x", "CDC data")

	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], `"Cases rose 5%."`)
	assert.Contains(t, c.prompts[0], `"https://cdc.gov/x"`)
	assert.Contains(t, c.prompts[0], `"CDC data"`)
}

type countingScorer struct {
	calls int
	sig   crawl.Significance
}

func (s *countingScorer) Score(context.Context, string, string, string) crawl.Significance {
	s.calls++
	return s.sig
}

func TestCachedScorer(t *testing.T) {
	next := &countingScorer{sig: crawl.Significance{Score: 90, RelationType: "Source"}}
	c, err := NewCachedScorer(next, 16)
	require.NoError(t, err)

	ctx := context.Background()
	first := c.Score(ctx, "ctx", "https://a.org/", "a")
	second := c.Score(ctx, "ctx", "https://a.org/", "a")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)

	c.Score(ctx, "other ctx", "https://a.org/", "a")
	assert.Equal(t, 2, next.calls, "different context is a different key")
}

func TestCachedScorerSkipsErrors(t *testing.T) {
	next := &countingScorer{sig: crawl.Significance{Score: 50, RelationType: "Error"}}
	c, err := NewCachedScorer(next, 16)
	require.NoError(t, err)

	c.Score(context.Background(), "ctx", "https://a.org/", "a")
	c.Score(context.Background(), "ctx", "https://a.org/", "a")
	assert.Equal(t, 2, next.calls)
}

func TestNewCachedScorerInvalidSize(t *testing.T) {
	_, err := NewCachedScorer(&countingScorer{}, 0)
	assert.Error(t, err)
}

func TestClaimExtractor(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []crawl.Claim
	}{
		{
			name:  "wrapped object",
			reply: `{"claims": [{"claim": "70% support X", "needs_source_type": "poll", "mentioned_source": "Pew", "has_explicit_link": false, "search_query": "pew support x"}]}`,
			want: []crawl.Claim{{
				Claim: "70% support X", NeedsSourceType: "poll", MentionedSource: "Pew", SearchQuery: "pew support x",
			}},
		},
		{
			name:  "bare array",
			reply: `[{"claim": "a", "has_explicit_link": true}, {"claim": ""}, {"claim": "b"}]`,
			want: []crawl.Claim{
				{Claim: "a", HasExplicitLink: true},
				{Claim: "b"},
			},
		},
		{
			name:  "no claims",
			reply: `{"claims": []}`,
			want:  []crawl.Claim{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewClaimExtractor(&fakeClient{replies: []string{tt.reply}}, nil)
			got, err := e.Claims(context.Background(), "text", "https://a.org/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClaimExtractorErrors(t *testing.T) {
	e := NewClaimExtractor(&fakeClient{errs: []error{errors.New("down")}}, nil)
	_, err := e.Claims(context.Background(), "text", "https://a.org/")
	assert.ErrorContains(t, err, "down")

	e = NewClaimExtractor(&fakeClient{replies: []string{"sorry"}}, nil)
	_, err = e.Claims(context.Background(), "text", "https://a.org/")
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestClaimExtractorTruncatesText(t *testing.T) {
	c := &fakeClient{replies: []string{`[]`}}
	text := strings.Repeat("a", claimTextLimit) + "TAIL"
	_, err := NewClaimExtractor(c, nil).Claims(context.Background(), text, "https://a.org/")
	require.NoError(t, err)
	assert.NotContains(t, c.prompts[0], "TAIL")
}

// reachable fetches only the listed URLs.
type reachable map[string]bool

func (r reachable) Fetch(_ context.Context, u string) (links.Page, error) {
	if !r[u] {
		return links.Page{}, errors.New("unreachable")
	}
	return links.Page{URL: u, Body: []byte("ok")}, nil
}

func TestDiscoverer(t *testing.T) {
	reply := `{"search_query": "bls unemployment 2024", "sources": [
		{"url": "https://www.bls.gov/cps", "confidence": 0.9},
		{"url": "https://dead.example.org/x", "confidence": 0.9},
		{"url": "https://www.facebook.com/bls", "confidence": 0.9},
		{"url": "ftp://files.example.org/data", "confidence": 0.9},
		{"url": "https://www.bls.gov/cps", "confidence": 0.9},
		{"url": "https://data.census.gov/t", "confidence": 7},
		{"url": "https://fred.stlouisfed.org/u"},
		{"url": "https://www.ons.gov.uk/e", "confidence": 0.4}
	]}`
	fetcher := reachable{
		"https://www.bls.gov/cps":       true,
		"https://data.census.gov/t":     true,
		"https://fred.stlouisfed.org/u": true,
		"https://www.ons.gov.uk/e":      true,
		"https://www.facebook.com/bls":  true,
	}
	d := NewDiscoverer(&fakeClient{replies: []string{reply}}, fetcher, nil)

	got, err := d.Discover(context.Background(), crawl.Claim{Claim: "Unemployment is 4%"})
	require.NoError(t, err)
	assert.Equal(t, []crawl.DiscoveredSource{
		{URL: "https://www.bls.gov/cps", Confidence: 0.9, SearchQuery: "bls unemployment 2024"},
		{URL: "https://data.census.gov/t", Confidence: 1, SearchQuery: "bls unemployment 2024"},
		{URL: "https://fred.stlouisfed.org/u", Confidence: 0.5, SearchQuery: "bls unemployment 2024"},
	}, got)
}

func TestDiscovererQueryFallback(t *testing.T) {
	reply := `{"sources": [{"url": "https://a.org/report", "confidence": 0.7}]}`
	d := NewDiscoverer(&fakeClient{replies: []string{reply}}, reachable{"https://a.org/report": true}, nil)

	got, err := d.Discover(context.Background(), crawl.Claim{Claim: "c", SearchQuery: "from claim"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "from claim", got[0].SearchQuery)
}

func TestDiscovererErrors(t *testing.T) {
	d := NewDiscoverer(&fakeClient{errs: []error{errors.New("down")}}, reachable{}, nil)
	_, err := d.Discover(context.Background(), crawl.Claim{Claim: "c"})
	assert.Error(t, err)

	d = NewDiscoverer(&fakeClient{replies: []string{`{"sources": "nope"}`}}, reachable{}, nil)
	_, err = d.Discover(context.Background(), crawl.Claim{Claim: "c"})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestPatternClaims(t *testing.T) {
	text := `Unemployment fell to 3.5% last year.
	According to the Bureau of Labor Statistics, wages rose.
	The minister said the plan works. It was sunny!
	A study by Stanford researchers found a link. Sales reached $4,500 in March.`

	got, err := PatternClaims{}.Claims(context.Background(), text, "https://a.org/")
	require.NoError(t, err)

	want := []crawl.Claim{
		{Claim: "Unemployment fell to 3.5% last year.", NeedsSourceType: "statistical data"},
		{Claim: "According to the Bureau of Labor Statistics, wages rose.", NeedsSourceType: "attributed statement", MentionedSource: "the Bureau of Labor Statistics"},
		{Claim: "The minister said the plan works.", NeedsSourceType: "attributed statement", MentionedSource: "The minister"},
		{Claim: "A study by Stanford researchers found a link.", NeedsSourceType: "attributed statement", MentionedSource: "Stanford researchers"},
		{Claim: "Sales reached $4,500 in March.", NeedsSourceType: "statistical data"},
	}
	assert.Equal(t, want, got)
}

func TestPatternClaimsLimit(t *testing.T) {
	text := strings.Repeat("Prices rose 10%. ", 25)
	got, err := PatternClaims{}.Claims(context.Background(), text, "")
	require.NoError(t, err)
	assert.Len(t, got, maxPatternClaims)
}

func TestPatternClaimsLongAttribution(t *testing.T) {
	sent := "After a long series of meetings held across several different cities over many months the committee said yes."
	got, err := PatternClaims{}.Claims(context.Background(), sent, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
