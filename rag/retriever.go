package rag

import (
	"context"
	"fmt"

	"tmai-server/config"
	"tmai-server/models"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const (
	minTopK = 1
	maxTopK = 20
)

// ChunkSearcher is the slice of the store retrieval needs.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, serviceID uuid.UUID, query pgvector.Vector, k, candidatePool int) ([]models.RetrievedChunk, error)
}

// Retriever finds the stored chunks most similar to a query, within one
// service's documents only.
type Retriever struct {
	store    ChunkSearcher
	embedder Embedder
	cfg      config.RAGConfig
}

// NewRetriever creates a Retriever with the configured defaults.
func NewRetriever(store ChunkSearcher, embedder Embedder, cfg config.RAGConfig) *Retriever {
	return &Retriever{store: store, embedder: embedder, cfg: cfg}
}

// Retrieve embeds the query and returns up to k chunks of the service,
// best first. k falls back to the configured default when zero and is
// clamped to a sane range either way. An empty result is not an error; the
// caller generates ungrounded.
func (r *Retriever) Retrieve(ctx context.Context, serviceID uuid.UUID, query string, k int) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}
	k = clamp(k, minTopK, maxTopK)

	pool := r.cfg.CandidatePool
	if pool < k {
		pool = k
	}

	vectors, err := r.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("query embedding returned %d vectors, want 1", len(vectors))
	}

	chunks, err := r.store.SearchChunks(ctx, serviceID, pgvector.NewVector(vectors[0]), k, pool)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return chunks, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
