package repository

import (
	"context"
	"errors"
	"fmt"

	"tmai-server/apperr"
	"tmai-server/models"
	"tmai-server/observability"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// CreateDocument persists a document record. Chunks are inserted separately
// so a partial chunk failure never rolls back the document.
func (r *Repository) CreateDocument(ctx context.Context, doc *models.Document) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("insert", "documents")

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO documents (id, service_id, title, source, content, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, doc.ID, doc.ServiceID, doc.Title, doc.Source, doc.Content).Scan(&doc.CreatedAt)
	if err != nil {
		observability.GetMetrics().RecordDBError("insert", "documents")
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by id, including its raw content.
func (r *Repository) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("select", "documents")

	var doc models.Document
	err := r.db.QueryRow(ctx, `
		SELECT id, service_id, title, COALESCE(source, ''), content, revoked_at, created_at
		FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.ServiceID, &doc.Title, &doc.Source, &doc.Content, &doc.RevokedAt, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// InsertChunks inserts a batch of chunks with ordered-false semantics: each
// row is attempted independently and one bad chunk does not block the rest.
// Returns how many rows were inserted.
func (r *Repository) InsertChunks(ctx context.Context, chunks []models.Chunk) (int, error) {
	if err := r.checkDB(); err != nil {
		return 0, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "chunks")

	inserted := 0
	var firstErr error
	for i := range chunks {
		chunk := &chunks[i]
		if chunk.ID == uuid.Nil {
			chunk.ID = uuid.New()
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO chunks (id, document_id, service_id, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, chunk.ID, chunk.DocumentID, chunk.ServiceID, chunk.Index, chunk.Content, chunk.Embedding)
		if err != nil {
			metrics.RecordDBError("insert", "chunks")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		inserted++
	}

	if inserted == 0 && firstErr != nil {
		return 0, fmt.Errorf("failed to insert chunks: %w", firstErr)
	}
	return inserted, nil
}

// DeleteDocument removes a document and all of its chunks.
func (r *Repository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("delete", "documents")

	tx, txRepo, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := txRepo.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	tag, err := txRepo.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit document deletion: %w", err)
	}
	return nil
}

// SearchChunks returns the k chunks of a service most similar to the query
// embedding, best first. The WHERE clause scopes the scan to one service
// before ordering, so chunks of other tenants are never candidates. The
// inner query bounds work to a candidate pool; the outer one orders the pool
// by cosine similarity and caps at k.
func (r *Repository) SearchChunks(ctx context.Context, serviceID uuid.UUID, query pgvector.Vector, k, candidatePool int) ([]models.RetrievedChunk, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("select", "chunks")

	rows, err := r.db.Query(ctx, `
		SELECT content, similarity, document_id, chunk_index
		FROM (
			SELECT c.content,
			       1 - (c.embedding <=> $1) AS similarity,
			       c.document_id,
			       c.chunk_index
			FROM chunks c
			JOIN documents d ON d.id = c.document_id
			WHERE c.service_id = $2
			  AND d.revoked_at IS NULL
			ORDER BY c.embedding <=> $1
			LIMIT $3
		) pool
		ORDER BY similarity DESC
		LIMIT $4
	`, query, serviceID, candidatePool, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedChunk
	for rows.Next() {
		var rc models.RetrievedChunk
		if err := rows.Scan(&rc.Content, &rc.Similarity, &rc.DocumentID, &rc.Index); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return results, nil
}
