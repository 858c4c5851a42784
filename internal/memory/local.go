package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalIndex is an embedded persistent vector index. Facts and their
// embeddings live in a JSON snapshot at a filesystem path, similarity is
// computed in-process. It is the zero-credential counterpart to the Postgres
// backend and presents the identical Store contract.
type LocalIndex struct {
	mu       sync.RWMutex
	path     string
	embedder Embedder
	records  map[string][]localRecord
}

type localRecord struct {
	Record
	Embedding []float32 `json:"embedding"`
}

type localSnapshot struct {
	Records map[string][]localRecord `json:"records"`
}

func NewLocalIndex(path string, embedder Embedder) (*LocalIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("local index path is required")
	}
	if embedder == nil {
		embedder = NewHashEmbedder(DefaultEmbeddingDim)
	}

	idx := &LocalIndex{
		path:     path,
		embedder: embedder,
		records:  make(map[string][]localRecord),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *LocalIndex) load() error {
	data, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read index: %v", ErrStorageUnavailable, err)
	}

	var snap localSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: parse index %s: %v", ErrStorageUnavailable, idx.path, err)
	}
	if snap.Records != nil {
		idx.records = snap.Records
	}
	return nil
}

// persist writes the snapshot atomically. Caller must hold the write lock.
func (idx *LocalIndex) persist() error {
	data, err := json.Marshal(localSnapshot{Records: idx.records})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create index dir: %v", ErrStorageUnavailable, err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write index: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return fmt.Errorf("%w: replace index: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (idx *LocalIndex) Remember(_ context.Context, userID, fact, source string) (string, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return "", fmt.Errorf("fact text is required")
	}

	rec := localRecord{
		Record: Record{
			ID:        uuid.NewString(),
			UserID:    userID,
			Fact:      fact,
			Source:    source,
			CreatedAt: time.Now().UTC(),
		},
		Embedding: idx.embedder.Embed(fact),
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	// Equal fact text for the same user is a no-op save.
	for _, existing := range idx.records[userID] {
		if existing.Fact == fact {
			return existing.ID, nil
		}
	}
	idx.records[userID] = append(idx.records[userID], rec)
	if err := idx.persist(); err != nil {
		// Keep the in-process copy; the next successful write re-snapshots it.
		return rec.ID, err
	}
	return rec.ID, nil
}

func (idx *LocalIndex) Recall(_ context.Context, userID, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 3
	}
	queryVec := idx.embedder.Embed(query)

	idx.mu.RLock()
	arr := idx.records[userID]
	matches := make([]Match, 0, len(arr))
	for _, rec := range arr {
		matches = append(matches, Match{
			Record: rec.Record,
			Score:  Cosine(queryVec, rec.Embedding),
		})
	}
	idx.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (idx *LocalIndex) All(_ context.Context, userID string) ([]Record, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	arr := idx.records[userID]
	out := make([]Record, 0, len(arr))
	for _, rec := range arr {
		out = append(out, rec.Record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (idx *LocalIndex) Forget(_ context.Context, userID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.records, userID)
	return idx.persist()
}

func (idx *LocalIndex) Close() error { return nil }
