package memory

import (
	"context"
	"strings"
)

// NewStore selects the backend by configuration: the credentialed Postgres
// store when a database URL is present, otherwise the embedded local index at
// the given filesystem path. Callers see the same Store either way.
func NewStore(ctx context.Context, databaseURL, indexPath string, embedder Embedder) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewLocalIndex(indexPath, embedder)
	}
	return NewPostgresStore(ctx, databaseURL, embedder)
}
