// Package websearch augments answers with DuckDuckGo results. Search
// failures are logged and swallowed: the chat pipeline degrades to document
// context or model knowledge instead of surfacing a web outage to the user.
package websearch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Result is a normalized search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

const (
	defaultEndpoint = "https://html.duckduckgo.com/html/"
	maxResults      = 3
	// Prompts shorter than this many words are conversational; searching
	// them wastes request volume for no retrievable signal.
	minQueryWords = 3
)

// Client queries DuckDuckGo's HTML endpoint and scrapes the result list.
type Client struct {
	httpClient *http.Client
	endpoint   string
	enabled    bool
}

// New builds a search client. When enabled is false every Search returns
// empty without touching the network.
func New(enabled bool) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   defaultEndpoint,
		enabled:    enabled,
	}
	if enabled {
		log.Println("DuckDuckGo web search initialized")
	}
	return c
}

// Enabled reports whether the search backend is available.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// Search returns up to three results for query. All failures are logged and
// reported as an empty result set; this method never returns an error to
// its caller.
func (c *Client) Search(ctx context.Context, query string) []Result {
	if !c.Enabled() || !worthSearching(query) {
		return nil
	}

	results, err := c.search(ctx, query)
	if err != nil {
		log.Printf("Web search failed for query %q: %v", query, err)
		return nil
	}
	return results
}

func (c *Client) search(ctx context.Context, query string) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; gemini-chatbot/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing result page: %w", err)
	}

	var results []Result
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())

		if title == "" || snippet == "" {
			return true
		}
		results = append(results, Result{
			Title:   title,
			URL:     resolveRedirect(href),
			Content: snippet,
		})
		return len(results) < maxResults
	})
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=<target> redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

// worthSearching filters out short conversational prompts.
func worthSearching(query string) bool {
	return len(strings.Fields(strings.TrimSpace(query))) >= minQueryWords
}
