package brain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPAdapterCompleteFinalText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "save_memory" {
			t.Errorf("tools not forwarded: %+v", req.Tools)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Nice to meet you, Alex!"}}]}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "test-key", "gpt-4o-mini")
	resp, err := a.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "My name is Alex"}},
		Tools:    []ToolDef{{Name: "save_memory", Description: "store a fact"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.IsToolCall() {
		t.Fatalf("expected final text, got tool calls: %+v", resp.ToolCalls)
	}
	if resp.Text != "Nice to meet you, Alex!" {
		t.Fatalf("Text = %q", resp.Text)
	}
}

func TestHTTPAdapterCompleteToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"save_memory","arguments":"{\"fact\":\"user's name is Alex\"}"}}
		]}}]}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "test-key", "")
	resp, err := a.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !resp.IsToolCall() {
		t.Fatalf("expected tool calls")
	}
	if resp.ToolCalls[0].Name != "save_memory" || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCalls[0])
	}
}

func TestHTTPAdapterClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "", "")
	_, err := a.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
}

func TestHTTPAdapterClassifiesServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "", "")
	_, err := a.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("error = %v, want ErrModelUnavailable", err)
	}
}

func TestHTTPAdapterRetriesTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"back online"}}]}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "", "")
	resp, err := a.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete() error = %v, want success after retries", err)
	}
	if resp.Text != "back online" {
		t.Fatalf("Text = %q", resp.Text)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("upstream hits = %d, want 3", got)
	}
}

func TestHTTPAdapterDoesNotRetryClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "", "")
	_, err := a.Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("Complete() error = nil, want failure")
	}
	if errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want unclassified client error", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hits = %d, want 1", got)
	}
}

func TestFallbackAdapterUsesSecondaryOnFailure(t *testing.T) {
	failing := NewScriptedAdapter()
	failing.EnqueueError(ErrModelUnavailable)
	backup := NewScriptedAdapter()
	backup.Enqueue(Response{Text: "backup answer"})

	a := NewFallbackAdapter(failing, backup)
	resp, err := a.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "backup answer" {
		t.Fatalf("Text = %q, want backup answer", resp.Text)
	}
}

func TestFallbackAdapterPropagatesCancellation(t *testing.T) {
	primary := NewScriptedAdapter()
	primary.EnqueueError(context.Canceled)
	backup := NewScriptedAdapter()

	a := NewFallbackAdapter(primary, backup)
	_, err := a.Complete(context.Background(), Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(backup.Record) != 0 {
		t.Fatalf("fallback should not run on cancellation")
	}
}
