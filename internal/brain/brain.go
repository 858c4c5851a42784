package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn in the model's history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request from the model to execute a named tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a callable tool to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request carries the full prompt context for one completion.
type Request struct {
	SessionID string
	Messages  []Message
	Tools     []ToolDef
}

// Response is either a final text message or a set of tool-call requests.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// IsToolCall reports whether the model asked for tool execution instead of
// producing a final answer.
func (r Response) IsToolCall() bool { return len(r.ToolCalls) > 0 }

var (
	// ErrModelUnavailable marks connectivity or server-side completion failures.
	ErrModelUnavailable = errors.New("language model unavailable")
	// ErrRateLimited marks upstream throttling.
	ErrRateLimited = errors.New("language model rate limited")
)

// Adapter bridges the session controller with a language-model service.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
	APIKey  string
	Model   string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" || strings.TrimSpace(cfg.HTTPURL) != "" {
			// Scripted fallback keeps the session talking when the remote
			// completion service is down.
			return NewFallbackAdapter(newHTTPFromConfig(cfg), NewScriptedAdapter()), nil
		}
		return NewScriptedAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain http mode requires an API key or endpoint URL")
		}
		return newHTTPFromConfig(cfg), nil
	case "scripted":
		return NewScriptedAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

func newHTTPFromConfig(cfg Config) *HTTPAdapter {
	url := strings.TrimSpace(cfg.HTTPURL)
	if url == "" {
		url = "https://api.openai.com/v1/chat/completions"
	}
	return NewHTTPAdapter(url, cfg.APIKey, cfg.Model)
}
