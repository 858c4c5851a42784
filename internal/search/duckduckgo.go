package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Result is one summarized web search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Client queries the keyless DuckDuckGo instant-answer API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxResults int
}

func NewClient(maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Client{
		baseURL:    "https://api.duckduckgo.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxResults: maxResults,
	}
}

// ddgResponse mirrors the subset of the instant-answer payload we consume.
type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("no_redirect", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, fmt.Errorf("duckduckgo status %d: %s", res.StatusCode, string(body))
	}

	var payload ddgResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, c.maxResults)
	if strings.TrimSpace(payload.AbstractText) != "" {
		results = append(results, Result{
			Title:   payload.Heading,
			Snippet: payload.AbstractText,
			URL:     payload.AbstractURL,
		})
	}
	results = appendTopics(results, payload.RelatedTopics, c.maxResults)
	return results, nil
}

func appendTopics(results []Result, topics []ddgTopic, max int) []Result {
	for _, t := range topics {
		if len(results) >= max {
			break
		}
		if len(t.Topics) > 0 {
			results = appendTopics(results, t.Topics, max)
			continue
		}
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		results = append(results, Result{
			Title:   topicTitle(t.Text),
			Snippet: t.Text,
			URL:     t.FirstURL,
		})
	}
	return results
}

// topicTitle trims a related-topic blob down to a headline-ish prefix.
func topicTitle(text string) string {
	if idx := strings.Index(text, " - "); idx > 0 {
		return text[:idx]
	}
	if len(text) > 60 {
		return text[:60]
	}
	return text
}

// Format renders results as a compact text block for the language model.
func Format(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any results for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		snippet := r.Snippet
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		fmt.Fprintf(&b, "   %s\n", snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}
