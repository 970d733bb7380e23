package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tmai-server/config"

	"github.com/openai/openai-go"
)

// mockOpenAIClient implements openaiClient for testing
type mockOpenAIClient struct {
	completionFunc func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	embeddingFunc  func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
}

func (m *mockOpenAIClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return m.completionFunc(ctx, params)
}

func (m *mockOpenAIClient) CreateEmbeddings(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	return m.embeddingFunc(ctx, params)
}

func newTestOpenAIService(client openaiClient) *OpenAIService {
	return newOpenAIServiceWithClient(client, "gpt-4o", "text-embedding-3-small", 1536, 4096)
}

func TestNewOpenAIService_MissingAPIKey(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.OpenAI.APIKey = ""

	_, err := NewOpenAIService(cfg)
	if err == nil {
		t.Error("expected error when API key is missing")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY is required") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestNewOpenAIService_WithAPIKey(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.OpenAI.APIKey = "test-api-key"
	cfg.OpenAI.Model = "gpt-4o-mini"
	cfg.OpenAI.EmbeddingModel = "text-embedding-3-large"
	cfg.OpenAI.EmbeddingDims = 3072
	cfg.OpenAI.MaxTokens = 2048

	service, err := NewOpenAIService(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if service.model != "gpt-4o-mini" {
		t.Errorf("model = %s, want gpt-4o-mini", service.model)
	}
	if service.embeddingModel != "text-embedding-3-large" {
		t.Errorf("embeddingModel = %s", service.embeddingModel)
	}
	if service.embeddingDims != 3072 {
		t.Errorf("embeddingDims = %d, want 3072", service.embeddingDims)
	}
	if service.maxTokens != 2048 {
		t.Errorf("maxTokens = %d, want 2048", service.maxTokens)
	}
}

func TestOpenAIInvokeWithPrompt_Success(t *testing.T) {
	SetBreakerRegistry(NewBreakerRegistry(DefaultBreakerSettings))

	mockClient := &mockOpenAIClient{
		completionFunc: func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
			return &openai.ChatCompletion{
				Choices: []openai.ChatCompletionChoice{
					{
						Message: openai.ChatCompletionMessage{
							Content: "Hello from GPT!",
						},
					},
				},
			}, nil
		},
	}

	service := newTestOpenAIService(mockClient)

	result, err := service.InvokeWithPrompt(context.Background(), "You are helpful", "Say hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello from GPT!" {
		t.Errorf("expected 'Hello from GPT!', got '%s'", result)
	}
}

func TestOpenAIInvokeWithPrompt_APIError(t *testing.T) {
	SetBreakerRegistry(NewBreakerRegistry(DefaultBreakerSettings))

	mockClient := &mockOpenAIClient{
		completionFunc: func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
			return nil, errors.New("API error")
		},
	}

	service := newTestOpenAIService(mockClient)

	_, err := service.InvokeWithPrompt(context.Background(), "system", "user")
	if err == nil {
		t.Error("expected error")
	}
	if !strings.Contains(err.Error(), "failed to invoke OpenAI") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestOpenAIInvokeWithPrompt_EmptyChoices(t *testing.T) {
	SetBreakerRegistry(NewBreakerRegistry(DefaultBreakerSettings))

	mockClient := &mockOpenAIClient{
		completionFunc: func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
			return &openai.ChatCompletion{
				Choices: []openai.ChatCompletionChoice{},
			}, nil
		},
	}

	service := newTestOpenAIService(mockClient)

	_, err := service.InvokeWithPrompt(context.Background(), "system", "user")
	if err == nil {
		t.Error("expected error for empty choices")
	}
	if !strings.Contains(err.Error(), "empty response from OpenAI") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestOpenAIEmbedTexts_Success(t *testing.T) {
	SetBreakerRegistry(NewBreakerRegistry(DefaultBreakerSettings))

	mockClient := &mockOpenAIClient{
		embeddingFunc: func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
			// Return data out of order to prove index-based placement
			return &openai.CreateEmbeddingResponse{
				Data: []openai.Embedding{
					{Index: 1, Embedding: []float64{0.3, 0.4}},
					{Index: 0, Embedding: []float64{0.1, 0.2}},
				},
			}, nil
		},
	}

	service := newTestOpenAIService(mockClient)

	vectors, err := service.EmbedTexts(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.3 {
		t.Errorf("vectors not ordered by index: %v", vectors)
	}
}

func TestOpenAIEmbedTexts_APIError(t *testing.T) {
	SetBreakerRegistry(NewBreakerRegistry(DefaultBreakerSettings))

	mockClient := &mockOpenAIClient{
		embeddingFunc: func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
			return nil, errors.New("embedding backend down")
		},
	}

	service := newTestOpenAIService(mockClient)

	_, err := service.EmbedTexts(context.Background(), []string{"a"})
	if err == nil {
		t.Error("expected error")
	}
}

func TestOpenAIEmbedTexts_BadIndex(t *testing.T) {
	SetBreakerRegistry(NewBreakerRegistry(DefaultBreakerSettings))

	mockClient := &mockOpenAIClient{
		embeddingFunc: func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
			return &openai.CreateEmbeddingResponse{
				Data: []openai.Embedding{
					{Index: 5, Embedding: []float64{0.1}},
				},
			}, nil
		},
	}

	service := newTestOpenAIService(mockClient)

	_, err := service.EmbedTexts(context.Background(), []string{"a"})
	if err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestCategorizeAPIError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, "none"},
		{"timeout", errors.New("request timeout"), "timeout"},
		{"deadline", errors.New("context deadline exceeded"), "timeout"},
		{"rate limit", errors.New("rate limit exceeded"), "rate_limit"},
		{"429", errors.New("status 429"), "rate_limit"},
		{"unauthorized", errors.New("unauthorized request"), "auth_error"},
		{"connection", errors.New("connection refused"), "connection_error"},
		{"unknown", errors.New("something odd"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeAPIError(tt.err); got != tt.expected {
				t.Errorf("categorizeAPIError = %s, want %s", got, tt.expected)
			}
		})
	}
}
