// Package services wraps the external model providers behind narrow
// interfaces: generation and embeddings. All calls run through per-provider
// circuit breakers.
package services

import "context"

// Invoker is the generation contract: one system prompt, one user prompt,
// one text answer. Both the OpenAI and Bedrock backends satisfy it; which
// one runs is a deployment choice, not a caller concern.
type Invoker interface {
	InvokeWithPrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder computes one vector per input text, order-preserving, in a
// single batched call.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Compile-time interface verification
var _ Invoker = (*OpenAIService)(nil)
var _ Invoker = (*BedrockService)(nil)
var _ Embedder = (*OpenAIService)(nil)
