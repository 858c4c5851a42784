package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSearchParsesInstantAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "go language" {
			t.Errorf("query = %q, want %q", got, "go language")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Heading": "Go (programming language)",
			"AbstractText": "Go is a statically typed language.",
			"AbstractURL": "https://example.com/go",
			"RelatedTopics": [
				{"Text": "Gopher - the Go mascot", "FirstURL": "https://example.com/gopher"},
				{"Topics": [{"Text": "Goroutines - lightweight threads", "FirstURL": "https://example.com/goroutines"}]}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(5)
	c.baseURL = srv.URL

	results, err := c.Search(context.Background(), "go language")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search() = %d results, want 3", len(results))
	}
	if results[0].Title != "Go (programming language)" {
		t.Fatalf("first title = %q", results[0].Title)
	}
	if results[1].Title != "Gopher" {
		t.Fatalf("second title = %q, want trimmed headline", results[1].Title)
	}
}

func TestSearchRespectsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"RelatedTopics": [
				{"Text": "one", "FirstURL": "u1"},
				{"Text": "two", "FirstURL": "u2"},
				{"Text": "three", "FirstURL": "u3"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(2)
	c.baseURL = srv.URL

	results, err := c.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() = %d results, want 2", len(results))
	}
}

func TestSearchTimeoutReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(5)
	c.baseURL = srv.URL
	c.httpClient.Timeout = 20 * time.Millisecond

	if _, err := c.Search(context.Background(), "slow"); err == nil {
		t.Fatalf("Search() should fail on timeout")
	}
}

func TestFormatEmptyResults(t *testing.T) {
	out := Format("obscure thing", nil)
	if !strings.Contains(out, "couldn't find any results") {
		t.Fatalf("Format() = %q, want no-results message", out)
	}
}

func TestFormatNumbersResults(t *testing.T) {
	out := Format("go", []Result{
		{Title: "Go", Snippet: "a language"},
		{Title: "Gopher", Snippet: "a mascot"},
	})
	if !strings.Contains(out, "1. Go") || !strings.Contains(out, "2. Gopher") {
		t.Fatalf("Format() = %q, want numbered entries", out)
	}
}
