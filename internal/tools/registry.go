package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/antoniostano/melissa/internal/brain"
)

// ErrNotFound marks an invocation of a tool name nothing is registered under.
var ErrNotFound = errors.New("tool not found")

// Handler executes one tool invocation. Handlers return user-presentable text
// for every outcome, including failures; the language model downstream only
// understands text.
type Handler func(ctx context.Context, args map[string]any) string

// Tool is one callable capability exposed to the language model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry is a fixed name-to-tool mapping built once at session
// construction and immutable afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name]; dup {
			continue
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns tool definitions in registration order for the model prompt.
func (r *Registry) Defs() []brain.ToolDef {
	defs := make([]brain.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, brain.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs
}

// Invoke resolves and executes one tool call. Unknown names return
// ErrNotFound; every other failure is absorbed into the text result.
func (r *Registry) Invoke(ctx context.Context, call brain.ToolCall) (result string, err error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, call.Name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("tool %s panicked: %v", call.Name, rec)
			result = "Sorry, something went wrong while I was working on that."
			err = nil
		}
	}()

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if jsonErr := json.Unmarshal([]byte(call.Arguments), &args); jsonErr != nil {
			return "I couldn't understand the arguments for that request.", nil
		}
	}

	return t.Handler(ctx, args), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
