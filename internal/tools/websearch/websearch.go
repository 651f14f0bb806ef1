// Package websearch provides the builtin "search_web" tool. It scrapes an
// HTML search results page rather than calling a paid search API, so no
// search credential is required.
package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/convoke-ai/convoke/internal/tool"
	"github.com/convoke-ai/convoke/pkg/types"
)

// maxResults caps the number of results returned per search.
const maxResults = 10

// defaultBaseURL is the search results endpoint queried by default.
const defaultBaseURL = "https://www.bing.com/search"

// userAgent is sent with every search request so the results page renders the
// plain HTML variant.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Result is one extracted search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher scrapes a search results page and extracts titles, links and
// snippets.
type Searcher struct {
	client  *http.Client
	baseURL string
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Searcher) { s.client = c }
}

// WithBaseURL points the searcher at a different results endpoint. Used under
// test with a local fixture server.
func WithBaseURL(u string) Option {
	return func(s *Searcher) { s.baseURL = u }
}

// New returns a ready-to-use Searcher.
func New(opts ...Option) *Searcher {
	s := &Searcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search queries the results page for query and extracts up to 10 hits.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("websearch: query must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("websearch: search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("websearch: parse results page: %w", err)
	}

	var results []Result
	doc.Find("li.b_algo").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		title := sel.Find("h2 > a").First()
		if title.Length() == 0 {
			return true
		}
		href, _ := title.Attr("href")
		results = append(results, Result{
			Title:   title.Text(),
			URL:     href,
			Snippet: sel.Find(".b_caption p").First().Text(),
		})
		return len(results) < maxResults
	})
	return results, nil
}

type searchArgs struct {
	Query string `json:"query"`
}

// Register adds the "search_web" tool backed by s to reg.
func Register(reg *tool.Registry, s *Searcher) error {
	schema, err := tool.SchemaFor[searchArgs]()
	if err != nil {
		return err
	}

	return reg.Register("search_web",
		"Search the web for a query and return up to 10 results with title, url and snippet.",
		schema, types.ProvenanceBuiltin,
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			args, err := tool.DecodeParams[searchArgs](params)
			if err != nil {
				return nil, err
			}
			results, err := s.Search(ctx, args.Query)
			if err != nil {
				return nil, err
			}
			hits := make([]map[string]any, len(results))
			for i, r := range results {
				hits[i] = map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet}
			}
			return map[string]any{
				"query":   args.Query,
				"results": hits,
				"total":   len(hits),
				"method":  "web_scraping",
			}, nil
		})
}
