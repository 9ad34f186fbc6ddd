// Package llm provides the AI companion's text generation: a provider
// neutral client interface, OpenAI and Anthropic implementations, and the
// Assistant that turns a conversation into a reply.
package llm

import (
	"context"
	"fmt"
)

// Chat roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// DefaultModel is used when a request names no model.
	DefaultModel() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Option configures a provider client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

// WithBaseURL points the client at a compatible endpoint instead of the
// provider's public API.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

func applyOptions(opts []Option) clientOptions {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string, opts ...Option) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, opts...)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, opts...)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
