package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"

	"github.com/google/uuid"
)

// MockModelProvider stands in for both the generation and the embedding
// backend during end-to-end runs. Embeddings are deterministic functions of
// the input text so retrieval behaves consistently across runs.
type MockModelProvider struct {
	dims int
}

func NewMockModelProvider(dims int) *MockModelProvider {
	return &MockModelProvider{dims: dims}
}

// InvokeWithPrompt echoes enough of the prompts to let scenarios assert
// that grounding and history made it into the generation call.
func (m *MockModelProvider) InvokeWithPrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return fmt.Sprintf("mock answer (system %d chars, user %d chars)", len(systemPrompt), len(userPrompt)), nil
}

// EmbedTexts returns one deterministic unit-ish vector per text.
func (m *MockModelProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dims)
		h := fnv.New32a()
		h.Write([]byte(text))
		seed := h.Sum32()
		for j := range vec {
			seed = seed*1664525 + 1013904223
			vec[j] = float32(seed%1000)/1000.0 - 0.5
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// HeaderSession authenticates the x-e2e-owner header as a session. Only the
// e2e harness uses it; production deployments plug in the real platform
// session check.
type HeaderSession struct{}

func (HeaderSession) OwnerID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("x-e2e-owner"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
