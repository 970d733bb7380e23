package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tmai-server/apperr"
	"tmai-server/config"
	"tmai-server/models"

	"github.com/google/uuid"
)

const testDims = 4

// mockEmbedder returns fixed-dimension vectors, one per text
type mockEmbedder struct {
	calls   int
	batched [][]string
	dims    int
	count   int // override vector count; -1 means match input
	err     error
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	m.batched = append(m.batched, texts)
	if m.err != nil {
		return nil, m.err
	}
	n := len(texts)
	if m.count >= 0 {
		n = m.count
	}
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = make([]float32, m.dims)
		vectors[i][0] = float32(i)
	}
	return vectors, nil
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dims: testDims, count: -1}
}

// mockDocStore records persisted documents and chunks
type mockDocStore struct {
	docs      []*models.Document
	chunks    []models.Chunk
	docErr    error
	chunkErr  error
	insertCap int // max chunks accepted before chunkErr kicks in; -1 unlimited
}

func newMockDocStore() *mockDocStore {
	return &mockDocStore{insertCap: -1}
}

func (m *mockDocStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if m.docErr != nil {
		return m.docErr
	}
	doc.ID = uuid.New()
	m.docs = append(m.docs, doc)
	return nil
}

func (m *mockDocStore) InsertChunks(ctx context.Context, chunks []models.Chunk) (int, error) {
	if m.insertCap >= 0 && len(chunks) > m.insertCap {
		m.chunks = append(m.chunks, chunks[:m.insertCap]...)
		return m.insertCap, m.chunkErr
	}
	if m.chunkErr != nil {
		return 0, m.chunkErr
	}
	m.chunks = append(m.chunks, chunks...)
	return len(chunks), nil
}

func testRAGConfig(chunkSize int) config.RAGConfig {
	return config.RAGConfig{ChunkSize: chunkSize, TopK: 5, CandidatePool: 50, HistoryTurns: 6}
}

func TestIngest(t *testing.T) {
	store := newMockDocStore()
	embedder := newMockEmbedder()
	ingestor := NewIngestor(store, embedder, testRAGConfig(50), testDims)
	serviceID := uuid.New()

	text := strings.Repeat("x", 120)
	result, err := ingestor.Ingest(context.Background(), serviceID, "handbook", "upload", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalChunks != 3 || result.ChunksInserted != 3 {
		t.Errorf("result = %+v, want 3/3 chunks", result)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder called %d times, want 1 batched call", embedder.calls)
	}
	if len(embedder.batched[0]) != 3 {
		t.Errorf("batch carried %d texts, want 3", len(embedder.batched[0]))
	}
	if len(store.docs) != 1 {
		t.Fatalf("stored %d documents, want 1", len(store.docs))
	}
	if store.docs[0].ServiceID != serviceID {
		t.Error("document not scoped to the requesting service")
	}
	for i, c := range store.chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.DocumentID != result.DocumentID {
			t.Errorf("chunk %d not linked to document", i)
		}
		if c.ServiceID != serviceID {
			t.Errorf("chunk %d not scoped to service", i)
		}
	}
}

func TestIngest_EmptyTextRejected(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockDocStore()
			embedder := newMockEmbedder()
			ingestor := NewIngestor(store, embedder, testRAGConfig(50), testDims)

			_, err := ingestor.Ingest(context.Background(), uuid.New(), "t", "", tt.text)
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
			if embedder.calls != 0 || len(store.docs) != 0 {
				t.Error("rejection must happen before any embedder or store call")
			}
		})
	}
}

func TestIngest_EmbeddingMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*mockEmbedder)
	}{
		{"wrong count", func(m *mockEmbedder) { m.count = 2 }},
		{"wrong dimensionality", func(m *mockEmbedder) { m.dims = testDims + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockDocStore()
			embedder := newMockEmbedder()
			tt.mutate(embedder)
			ingestor := NewIngestor(store, embedder, testRAGConfig(50), testDims)

			_, err := ingestor.Ingest(context.Background(), uuid.New(), "t", "", strings.Repeat("x", 120))
			if !errors.Is(err, apperr.ErrEmbeddingMismatch) {
				t.Fatalf("error = %v, want ErrEmbeddingMismatch", err)
			}
			if len(store.docs) != 0 || len(store.chunks) != 0 {
				t.Error("nothing may be persisted when the embedder breaks contract")
			}
		})
	}
}

func TestIngest_EmbedderFailureIsUpstream(t *testing.T) {
	store := newMockDocStore()
	embedder := newMockEmbedder()
	embedder.err = errors.New("rate limited by provider")
	ingestor := NewIngestor(store, embedder, testRAGConfig(50), testDims)

	_, err := ingestor.Ingest(context.Background(), uuid.New(), "t", "", "some text")
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
	if len(store.docs) != 0 {
		t.Error("no document may be written on embed failure")
	}
}

func TestIngest_PartialChunkInsert(t *testing.T) {
	store := newMockDocStore()
	store.insertCap = 2
	store.chunkErr = errors.New("duplicate chunk index")
	embedder := newMockEmbedder()
	ingestor := NewIngestor(store, embedder, testRAGConfig(50), testDims)

	result, err := ingestor.Ingest(context.Background(), uuid.New(), "t", "", strings.Repeat("x", 120))
	if err == nil {
		t.Fatal("expected error reporting the partial insert")
	}
	if result == nil {
		t.Fatal("partial result must still be reported")
	}
	if result.ChunksInserted != 2 || result.TotalChunks != 3 {
		t.Errorf("result = %+v, want 2 of 3", result)
	}
	if len(store.docs) != 1 {
		t.Error("document must survive a partial chunk failure")
	}
}
