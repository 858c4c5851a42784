package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/melissa/internal/reliability"
)

// HTTPAdapter forwards completions to an OpenAI-compatible chat endpoint.
type HTTPAdapter struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPAdapter(url, apiKey, model string) *HTTPAdapter {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const (
	completeMaxAttempts = 3
	retryBaseDelay      = 100 * time.Millisecond
	retryMaxDelay       = 2 * time.Second
)

// Complete posts the chat request, retrying transient upstream failures
// with capped exponential backoff before giving up.
func (a *HTTPAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(buildChatRequest(a.model, req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < completeMaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(reliability.ExponentialBackoff(attempt-1, retryBaseDelay, retryMaxDelay))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Response{}, ctx.Err()
			case <-timer.C:
			}
		}

		resp, retryable, err := a.completeOnce(ctx, payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if !retryable {
			return Response{}, err
		}
		lastErr = err
	}
	return Response{}, lastErr
}

func (a *HTTPAdapter) completeOnce(ctx context.Context, payload []byte) (Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, true, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return Response{}, true, fmt.Errorf("%w: status 429", ErrRateLimited)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return Response{}, true, fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, res.StatusCode, string(body))
		}
		return Response{}, false, fmt.Errorf("completion status %d: %s", res.StatusCode, string(body))
	}

	out, err := parseChatResponse(res.Body)
	return out, false, err
}

func parseChatResponse(body io.Reader) (Response, error) {
	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrModelUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: empty choices", ErrModelUnavailable)
	}

	msg := parsed.Choices[0].Message
	out := Response{Text: strings.TrimSpace(msg.Content)}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func buildChatRequest(model string, req Request) chatRequest {
	out := chatRequest{Model: model}
	for _, m := range req.Messages {
		cm := chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var ctc chatToolCall
			ctc.ID = tc.ID
			ctc.Type = "function"
			ctc.Function.Name = tc.Name
			ctc.Function.Arguments = tc.Arguments
			cm.ToolCalls = append(cm.ToolCalls, ctc)
		}
		out.Messages = append(out.Messages, cm)
	}
	for _, t := range req.Tools {
		var ct chatTool
		ct.Type = "function"
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ct)
	}
	return out
}
