// Package openai generates responses through OpenAI's chat completions API.
package openai

import (
	"context"
	"os"

	"github.com/koscakluka/lina-core/core/llms"
)

const (
	completionsURL = "https://api.openai.com/v1/chat/completions"

	defaultModel = "gpt-4o-mini"

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

// WithAPIKey overrides the OPENAI_API_KEY environment lookup.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(client)
	}
	if client.apiKey == "" {
		client.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return client
}

// PromptWithStream prepares a response stream for the given prompt. The
// request is not sent until the stream is iterated.
func (c *Client) PromptWithStream(ctx context.Context, prompt *string, opts ...llms.PromptOption) llms.Stream {
	return PromptWithStream(ctx, c.apiKey, c.model, prompt, "", nil, opts...)
}
