package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Document is an owner-supplied text blob under a service. Its chunks are
// created in one batch at ingestion and deleted en masse with the document.
type Document struct {
	ID        uuid.UUID  `json:"id"`
	ServiceID uuid.UUID  `json:"service_id"`
	Title     string     `json:"title"`
	Source    string     `json:"source,omitempty"`
	Content   string     `json:"-"` // raw text, not echoed in listings
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Chunk is a position-indexed slice of a document's text plus its embedding.
// The chunk index is unique within its document and the embedding
// dimensionality always matches the embedding model's output size.
type Chunk struct {
	ID         uuid.UUID       `json:"id"`
	DocumentID uuid.UUID       `json:"document_id"`
	ServiceID  uuid.UUID       `json:"service_id"`
	Index      int             `json:"index"`
	Content    string          `json:"content"`
	Embedding  pgvector.Vector `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RetrievedChunk is a chunk returned by similarity search, best-first.
type RetrievedChunk struct {
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
}
