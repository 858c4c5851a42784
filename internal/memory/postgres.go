package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists facts in PostgreSQL with pgvector similarity search.
// It is the credentialed remote backend, selected when DATABASE_URL is set.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

func NewPostgresStore(ctx context.Context, databaseURL string, embedder Embedder) (*PostgresStore, error) {
	if embedder == nil {
		embedder = NewHashEmbedder(DefaultEmbeddingDim)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", ErrStorageUnavailable, err)
	}

	if err := initSchema(ctx, pool, embedder.Dim()); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, embedder: embedder}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			fact TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_memory_facts_user_created ON memory_facts (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: init schema failed on %q: %v", ErrStorageUnavailable, stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Remember(ctx context.Context, userID, fact, source string) (string, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return "", fmt.Errorf("fact text is required")
	}

	// Equal fact text for the same user is a no-op save.
	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM memory_facts WHERE user_id=$1 AND fact=$2 LIMIT 1`,
		userID, fact,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: check fact: %v", ErrStorageUnavailable, err)
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_facts (id, user_id, fact, source, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::vector, $6)`,
		id,
		userID,
		fact,
		source,
		vectorLiteral(s.embedder.Embed(fact)),
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: save fact: %v", ErrStorageUnavailable, err)
	}
	return id, nil
}

func (s *PostgresStore) Recall(ctx context.Context, userID, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 3
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, fact, source, created_at,
		        1 - (embedding <=> $2::vector) AS score
		 FROM memory_facts WHERE user_id=$1
		 ORDER BY embedding <=> $2::vector ASC, created_at DESC
		 LIMIT $3`,
		userID,
		vectorLiteral(s.embedder.Embed(query)),
		topK,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query facts: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.UserID, &m.Fact, &m.Source, &m.CreatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate fact rows: %v", ErrStorageUnavailable, err)
	}
	return matches, nil
}

func (s *PostgresStore) All(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, fact, source, created_at
		 FROM memory_facts WHERE user_id=$1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query facts: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Fact, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate fact rows: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

func (s *PostgresStore) Forget(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memory_facts WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("%w: delete facts: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}
