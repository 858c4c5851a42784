package brain

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedAdapter produces deterministic local replies. Tests enqueue exact
// responses; without a script it echoes the latest user utterance so the
// voice loop stays usable when no completion service is configured.
type ScriptedAdapter struct {
	mu     sync.Mutex
	queue  []Response
	errs   []error
	Record []Request
}

func NewScriptedAdapter() *ScriptedAdapter { return &ScriptedAdapter{} }

// Enqueue appends a canned response returned by the next Complete call.
func (a *ScriptedAdapter) Enqueue(resp Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, resp)
	a.errs = append(a.errs, nil)
}

// EnqueueError appends a canned failure.
func (a *ScriptedAdapter) EnqueueError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, Response{})
	a.errs = append(a.errs, err)
}

func (a *ScriptedAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Record = append(a.Record, req)

	if len(a.queue) > 0 {
		resp := a.queue[0]
		err := a.errs[0]
		a.queue = a.queue[1:]
		a.errs = a.errs[1:]
		if err != nil {
			return Response{}, err
		}
		return resp, nil
	}

	return Response{Text: echoReply(req)}, nil
}

func echoReply(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			text := strings.TrimSpace(req.Messages[i].Content)
			if text == "" {
				break
			}
			return fmt.Sprintf("I heard you: %s", text)
		}
	}
	return "I am listening."
}
