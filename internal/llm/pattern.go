package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/latebit/citegraph/internal/crawl"
)

const (
	maxPatternClaims = 10
	maxSourceName    = 60

	sourceTypeStatistic   = "statistical data"
	sourceTypeAttribution = "attributed statement"
)

var (
	sentenceEndRe = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	statisticRe   = regexp.MustCompile(`\d+(?:\.\d+)?%|\d+ percent|\$\d[\d,.]*|\b\d{1,3}(?:,\d{3})+\b`)

	// Attribution patterns, most specific first. Group 1 is the source.
	attributionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)according to ([^,.;]+)`),
		regexp.MustCompile(`(?i)research (?:by|from) (.+?) shows`),
		regexp.MustCompile(`(?i)(?:a|the) (?:study|report|survey) (?:by|from) ([^,.;]+?)(?: (?:found|shows|showed|says|said|suggests)|[,.;]|$)`),
		regexp.MustCompile(`(?i)^(.+?) (?:said|reported|found that)`),
	}
)

// PatternClaims extracts claims with regular expressions. It needs no model
// and is used when none is configured.
type PatternClaims struct{}

// Claims implements crawl.ClaimExtractor. It never fails.
func (PatternClaims) Claims(_ context.Context, text, _ string) ([]crawl.Claim, error) {
	text = strings.Join(strings.Fields(text), " ")

	var claims []crawl.Claim
	for _, sent := range splitSentences(text) {
		if len(claims) == maxPatternClaims {
			break
		}
		if source, ok := attribution(sent); ok {
			claims = append(claims, crawl.Claim{
				Claim:           sent,
				NeedsSourceType: sourceTypeAttribution,
				MentionedSource: source,
			})
			continue
		}
		if statisticRe.MatchString(sent) {
			claims = append(claims, crawl.Claim{
				Claim:           sent,
				NeedsSourceType: sourceTypeStatistic,
			})
		}
	}
	return claims, nil
}

// attribution returns the source a sentence attributes its statement to.
// Matches too long to be a name are treated as no attribution.
func attribution(sent string) (string, bool) {
	for _, re := range attributionRes {
		m := re.FindStringSubmatch(sent)
		if m == nil {
			continue
		}
		source := strings.TrimSpace(m[1])
		if source != "" && len(source) <= maxSourceName {
			return source, true
		}
	}
	return "", false
}

// splitSentences splits at terminal punctuation followed by whitespace, so
// decimals such as "3.5%" stay inside their sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
