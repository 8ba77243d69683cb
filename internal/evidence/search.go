// Package evidence retrieves external snippets used to ground critique
// judgments. The backend is the free DuckDuckGo Instant Answer API.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/refinelab/refinery/internal/types"
)

const (
	// DefaultNumResults caps how many snippets one query may return
	DefaultNumResults = 8

	// DefaultSnippetLength caps each snippet's byte length
	DefaultSnippetLength = 400

	defaultEndpoint = "https://api.duckduckgo.com/"
)

// Config controls search behavior. Zero values use the defaults above.
type Config struct {
	Endpoint      string // override for tests
	NumResults    int
	SnippetLength int
	HTTPClient    *http.Client
}

// Searcher queries the Instant Answer API and shapes replies into snippets.
type Searcher struct {
	endpoint      string
	numResults    int
	snippetLength int
	client        *http.Client
}

// NewSearcher creates a searcher.
func NewSearcher(cfg Config) *Searcher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	numResults := cfg.NumResults
	if numResults <= 0 {
		numResults = DefaultNumResults
	}
	snippetLength := cfg.SnippetLength
	if snippetLength <= 0 {
		snippetLength = DefaultSnippetLength
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Searcher{
		endpoint:      endpoint,
		numResults:    numResults,
		snippetLength: snippetLength,
		client:        client,
	}
}

// ddgResponse is the Instant Answer API reply, reduced to the fields we use.
type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	Definition    string `json:"Definition"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Search runs one query and returns up to NumResults snippets, each truncated
// to SnippetLength bytes on a UTF-8 boundary. The query is condensed to its
// content words first; instant-answer lookups do poorly on full sentences.
// An empty result set is not an error; the caller decides what an
// evidence-free critique means.
func (s *Searcher) Search(ctx context.Context, query string) ([]types.Snippet, error) {
	query = BuildQuery(query)

	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	params.Add("no_html", "1")
	params.Add("skip_disambig", "1")

	fullURL := s.endpoint + "?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "refinery-evidence/1.0")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}

	return s.shape(query, &ddg), nil
}

// shape converts an API reply into deduplicated, length-capped snippets.
// Order reflects answer quality: instant answers first, then abstract,
// definition, related topics.
func (s *Searcher) shape(query string, ddg *ddgResponse) []types.Snippet {
	var texts []string
	if ddg.Answer != "" {
		texts = append(texts, ddg.Answer)
	}
	if ddg.AbstractText != "" {
		texts = append(texts, ddg.AbstractText)
	}
	if ddg.Definition != "" {
		texts = append(texts, ddg.Definition)
	}
	for _, topic := range ddg.RelatedTopics {
		if topic.Text != "" {
			texts = append(texts, topic.Text)
		}
	}

	seen := make(map[string]bool)
	var snippets []types.Snippet
	for _, text := range texts {
		if len(snippets) >= s.numResults {
			break
		}
		truncated := safeTruncate(strings.TrimSpace(text), s.snippetLength)
		if truncated == "" || seen[truncated] {
			continue
		}
		seen[truncated] = true
		snippets = append(snippets, types.Snippet{Query: query, Text: truncated})
	}
	return snippets
}

// safeTruncate truncates a string to maxLen bytes while preserving UTF-8
// encoding. If truncation would split a multi-byte sequence, it backs off to
// a valid boundary.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	truncated := s[:maxLen]

	// Walk backwards at most 4 bytes (max UTF-8 sequence length)
	for i := 0; i < 4 && len(truncated) > 0; i++ {
		if utf8.ValidString(truncated) {
			return truncated
		}
		truncated = truncated[:len(truncated)-1]
	}

	// Still invalid after 4 bytes means the input was corrupt
	return ""
}
