package memory

import (
	"context"
	"errors"
	"time"
)

// ErrStorageUnavailable marks backend connectivity failures. Callers are
// expected to degrade gracefully: skip the memory step and keep talking.
var ErrStorageUnavailable = errors.New("memory storage unavailable")

// Record is a single stored fact about a user.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Fact      string    `json:"fact"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a recall result with its relevance score.
type Match struct {
	Record
	Score float64 `json:"score"`
}

// Store persists user facts and answers similarity queries.
//
// Remember may deduplicate equal facts or keep near-duplicates; that policy
// belongs to the backend. Recall returns matches in descending score order,
// ties broken by recency, and an empty slice (not an error) when the user has
// no relevant facts.
type Store interface {
	Remember(ctx context.Context, userID, fact, source string) (string, error)
	Recall(ctx context.Context, userID, query string, topK int) ([]Match, error)
	All(ctx context.Context, userID string) ([]Record, error)
	Forget(ctx context.Context, userID string) error
	Close() error
}
