package rag

import (
	"context"
	"fmt"

	"tmai-server/apperr"
	"tmai-server/config"
	"tmai-server/models"
	"tmai-server/observability"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Embedder computes one embedding vector per input text, in order, in a
// single batched call.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStore is the slice of the store ingestion needs.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	InsertChunks(ctx context.Context, chunks []models.Chunk) (int, error)
}

// IngestResult reports how an ingestion call landed. ChunksInserted can be
// below TotalChunks when individual rows fail; the document itself stays.
type IngestResult struct {
	DocumentID     uuid.UUID `json:"documentId"`
	ChunksInserted int       `json:"chunksInserted"`
	TotalChunks    int       `json:"totalChunks"`
}

// Ingestor turns raw text into embedded, retrievable chunks.
type Ingestor struct {
	store    DocumentStore
	embedder Embedder
	cfg      config.RAGConfig
	dims     int
}

// NewIngestor creates an Ingestor. dims is the embedding model's fixed
// output dimensionality; vectors of any other length are rejected.
func NewIngestor(store DocumentStore, embedder Embedder, cfg config.RAGConfig, dims int) *Ingestor {
	return &Ingestor{store: store, embedder: embedder, cfg: cfg, dims: dims}
}

// Ingest splits text into chunks, embeds them in one batched call and
// persists document and chunks. The document is written first; a chunk row
// failure reduces ChunksInserted but never rolls the document back. An
// embedder that returns the wrong vector count or dimensionality aborts the
// call before any chunk row is written.
func (in *Ingestor) Ingest(ctx context.Context, serviceID uuid.UUID, title, source, text string) (*IngestResult, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	pieces := SplitText(text, in.cfg.ChunkSize)
	if len(pieces) == 0 {
		metrics.RecordIngestDocument("rejected")
		return nil, apperr.InvalidInputf("document text is empty")
	}

	vectors, err := in.embedder.EmbedTexts(ctx, pieces)
	if err != nil {
		metrics.RecordIngestDocument("embed_failed")
		return nil, fmt.Errorf("%w: embedding document: %v", apperr.ErrUpstream, err)
	}
	if err := in.validateVectors(pieces, vectors); err != nil {
		metrics.RecordIngestDocument("mismatch")
		return nil, err
	}

	doc := &models.Document{
		ServiceID: serviceID,
		Title:     title,
		Source:    source,
		Content:   text,
	}
	if err := in.store.CreateDocument(ctx, doc); err != nil {
		metrics.RecordIngestDocument("store_failed")
		return nil, fmt.Errorf("failed to persist document: %w", err)
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			DocumentID: doc.ID,
			ServiceID:  serviceID,
			Index:      i,
			Content:    piece,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}

	inserted, err := in.store.InsertChunks(ctx, chunks)
	if err != nil {
		// The document exists; report the partial outcome alongside the error.
		metrics.RecordIngestDocument("partial")
		metrics.RecordIngestChunks("failed", len(chunks)-inserted)
		metrics.RecordIngestChunks("inserted", inserted)
		return &IngestResult{DocumentID: doc.ID, ChunksInserted: inserted, TotalChunks: len(chunks)},
			fmt.Errorf("inserted %d of %d chunks: %w", inserted, len(chunks), err)
	}

	metrics.RecordIngestDocument("ok")
	metrics.RecordIngestChunks("inserted", inserted)
	if inserted < len(chunks) {
		metrics.RecordIngestChunks("failed", len(chunks)-inserted)
		observability.WithService(serviceID.String()).Warn("partial chunk insert",
			"document_id", doc.ID, "inserted", inserted, "total", len(chunks))
	}
	timer.ObserveIngest("ok")

	return &IngestResult{DocumentID: doc.ID, ChunksInserted: inserted, TotalChunks: len(chunks)}, nil
}

// validateVectors enforces the embedder contract: one vector per chunk,
// every vector at the model's fixed dimensionality. Violations are fatal
// for the call and nothing is persisted.
func (in *Ingestor) validateVectors(pieces []string, vectors [][]float32) error {
	if len(vectors) != len(pieces) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", apperr.ErrEmbeddingMismatch, len(vectors), len(pieces))
	}
	for i, v := range vectors {
		if len(v) != in.dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, model emits %d", apperr.ErrEmbeddingMismatch, i, len(v), in.dims)
		}
	}
	return nil
}
