// Package groq generates responses through Groq's OpenAI-compatible chat
// completions API.
package groq

import (
	"context"
	"os"

	"github.com/koscakluka/lina-core/core/llms"
)

const (
	completionsURL = "https://api.groq.com/openai/v1/chat/completions"

	defaultModel = "llama-3.3-70b-versatile"

	streamTerminator = "[DONE]"
	dataPrefix       = "data:"
)

// Client binds an API key and model so callers can open response streams
// without carrying provider credentials around.
type Client struct {
	apiKey string
	model  string
}

type ClientOption func(*Client)

// WithModel overrides the generation model.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithAPIKey overrides the GROQ_API_KEY environment lookup.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(client)
	}
	if client.apiKey == "" {
		client.apiKey = os.Getenv("GROQ_API_KEY")
	}
	return client
}

// PromptWithStream prepares a response stream for the given prompt. The
// request is not sent until the stream is iterated.
func (c *Client) PromptWithStream(ctx context.Context, prompt *string, opts ...llms.PromptOption) llms.Stream {
	return PromptWithStream(ctx, c.apiKey, c.model, prompt, "", nil, opts...)
}

// PromptWithStructure prompts the model for a response that satisfies the
// JSON schema reflected from outputSchema, which must be a pointer. The
// response is unmarshalled into it.
func (c *Client) PromptWithStructure(ctx context.Context, prompt string, outputSchema any, opts ...llms.PromptOption) error {
	return promptWithSchema(ctx, c.apiKey, c.model, prompt, "", outputSchema, opts...)
}
