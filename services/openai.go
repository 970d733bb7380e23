package services

import (
	"context"
	"fmt"
	"strings"

	appconfig "tmai-server/config"
	"tmai-server/observability"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// openaiClient defines the interface for OpenAI API calls (for testing)
type openaiClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	CreateEmbeddings(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
}

// openaiClientWrapper wraps the openai.Client to implement our interface
type openaiClientWrapper struct {
	client openai.Client
}

func (w *openaiClientWrapper) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return w.client.Chat.Completions.New(ctx, params)
}

func (w *openaiClientWrapper) CreateEmbeddings(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	return w.client.Embeddings.New(ctx, params)
}

// OpenAIService handles generation and embeddings via the OpenAI API
type OpenAIService struct {
	client         openaiClient
	model          string
	embeddingModel string
	embeddingDims  int
	maxTokens      int
}

// NewOpenAIService creates a new OpenAIService instance
func NewOpenAIService(cfg *appconfig.Config) (*OpenAIService, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	client := openai.NewClient(option.WithAPIKey(cfg.OpenAI.APIKey))

	return &OpenAIService{
		client:         &openaiClientWrapper{client: client},
		model:          cfg.OpenAI.Model,
		embeddingModel: cfg.OpenAI.EmbeddingModel,
		embeddingDims:  cfg.OpenAI.EmbeddingDims,
		maxTokens:      cfg.OpenAI.MaxTokens,
	}, nil
}

// newOpenAIServiceWithClient creates an OpenAIService with a custom client (for testing)
func newOpenAIServiceWithClient(client openaiClient, model, embeddingModel string, dims, maxTokens int) *OpenAIService {
	return &OpenAIService{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		embeddingDims:  dims,
		maxTokens:      maxTokens,
	}
}

// InvokeWithPrompt sends a prompt to OpenAI and returns the response text
func (s *OpenAIService) InvokeWithPrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	metrics := observability.GetMetrics()
	metrics.RecordUpstreamRequest(BreakerOpenAI, "invoke")
	timer := metrics.NewTimer()

	result, err := callThroughBreaker(ctx, BreakerOpenAI, func() (string, error) {
		params := openai.ChatCompletionNewParams{
			Model:     shared.ChatModel(s.model),
			MaxTokens: openai.Int(int64(s.maxTokens)),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(userPrompt),
			},
		}

		completion, err := s.client.CreateChatCompletion(ctx, params)
		if err != nil {
			return "", fmt.Errorf("failed to invoke OpenAI: %w", err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("empty response from OpenAI")
		}

		return completion.Choices[0].Message.Content, nil
	})

	timer.ObserveUpstream(BreakerOpenAI, "invoke")
	if err != nil {
		metrics.RecordUpstreamError(BreakerOpenAI, "invoke", categorizeAPIError(err))
	}
	return result, err
}

// EmbedTexts embeds all texts in one batched API call, returning one vector
// per input in order.
func (s *OpenAIService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	metrics := observability.GetMetrics()
	metrics.RecordUpstreamRequest(BreakerOpenAI, "embed")
	timer := metrics.NewTimer()

	vectors, err := callThroughBreaker(ctx, BreakerOpenAI, func() ([][]float32, error) {
		params := openai.EmbeddingNewParams{
			Model:      openai.EmbeddingModel(s.embeddingModel),
			Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Dimensions: openai.Int(int64(s.embeddingDims)),
		}

		resp, err := s.client.CreateEmbeddings(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}

		out := make([][]float32, len(resp.Data))
		for _, item := range resp.Data {
			if item.Index < 0 || int(item.Index) >= len(out) {
				return nil, fmt.Errorf("embedding index %d out of range for %d inputs", item.Index, len(out))
			}
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			out[item.Index] = vec
		}
		return out, nil
	})

	timer.ObserveUpstream(BreakerOpenAI, "embed")
	if err != nil {
		metrics.RecordUpstreamError(BreakerOpenAI, "embed", categorizeAPIError(err))
	}
	return vectors, err
}

// categorizeAPIError categorizes an error for metrics purposes
func categorizeAPIError(err error) string {
	if err == nil {
		return "none"
	}
	errStr := err.Error()
	switch {
	case containsAny(errStr, "timeout", "deadline"):
		return "timeout"
	case containsAny(errStr, "rate limit", "429"):
		return "rate_limit"
	case containsAny(errStr, "unauthorized", "401"):
		return "auth_error"
	case containsAny(errStr, "connection", "network"):
		return "connection_error"
	default:
		return "unknown"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
