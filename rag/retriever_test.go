package rag

import (
	"context"
	"errors"
	"testing"

	"tmai-server/models"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// mockSearcher records search parameters and returns canned chunks
type mockSearcher struct {
	serviceID uuid.UUID
	k         int
	pool      int
	results   []models.RetrievedChunk
	err       error
}

func (m *mockSearcher) SearchChunks(ctx context.Context, serviceID uuid.UUID, query pgvector.Vector, k, candidatePool int) ([]models.RetrievedChunk, error) {
	m.serviceID = serviceID
	m.k = k
	m.pool = candidatePool
	return m.results, m.err
}

func TestRetrieve(t *testing.T) {
	searcher := &mockSearcher{results: []models.RetrievedChunk{
		{Content: "best", Similarity: 0.92},
		{Content: "second", Similarity: 0.81},
	}}
	retriever := NewRetriever(searcher, newMockEmbedder(), testRAGConfig(1000))
	serviceID := uuid.New()

	chunks, err := retriever.Retrieve(context.Background(), serviceID, "refund policy", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Content != "best" {
		t.Errorf("chunks = %+v", chunks)
	}
	if searcher.serviceID != serviceID {
		t.Error("search not scoped to the requested service")
	}
	if searcher.k != 5 {
		t.Errorf("k = %d, want configured default 5", searcher.k)
	}
	if searcher.pool != 50 {
		t.Errorf("candidate pool = %d, want configured 50", searcher.pool)
	}
}

func TestRetrieve_ClampsK(t *testing.T) {
	tests := []struct {
		name     string
		k        int
		wantK    int
		wantPool int
	}{
		{"zero uses default", 0, 5, 50},
		{"negative uses default", -3, 5, 50},
		{"in range", 8, 8, 50},
		{"above max clamps", 100, 20, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &mockSearcher{}
			retriever := NewRetriever(searcher, newMockEmbedder(), testRAGConfig(1000))

			if _, err := retriever.Retrieve(context.Background(), uuid.New(), "q", tt.k); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if searcher.k != tt.wantK {
				t.Errorf("k = %d, want %d", searcher.k, tt.wantK)
			}
			if searcher.pool != tt.wantPool {
				t.Errorf("pool = %d, want %d", searcher.pool, tt.wantPool)
			}
		})
	}
}

func TestRetrieve_EmptyResultIsNotError(t *testing.T) {
	retriever := NewRetriever(&mockSearcher{}, newMockEmbedder(), testRAGConfig(1000))

	chunks, err := retriever.Retrieve(context.Background(), uuid.New(), "nothing matches", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks = %+v, want none", chunks)
	}
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	embedder := newMockEmbedder()
	embedder.err = errors.New("provider down")
	retriever := NewRetriever(&mockSearcher{}, embedder, testRAGConfig(1000))

	if _, err := retriever.Retrieve(context.Background(), uuid.New(), "q", 5); err == nil {
		t.Fatal("expected error")
	}
}
