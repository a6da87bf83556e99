package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/lina-core/core/llms"
	"github.com/koscakluka/lina-core/internal/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PromptWithStream assembles a streaming completions request. Nothing is sent
// until the returned stream is iterated.
func PromptWithStream(
	_ context.Context,
	apiKey string,
	model string,
	prompt *string,
	systemPrompt string,
	baseTools []llms.Tool,
	opts ...llms.PromptOption,
) *Stream {
	options := llms.PromptOptions{
		Instructions: systemPrompt,
		Tools:        slices.Clone(baseTools),
	}
	for _, opt := range opts {
		opt(&options)
	}

	history := toMessages(options.Instructions, options.Turns)
	if prompt != nil {
		history = append(history, message{Role: messageRoleUser, Content: *prompt})
	}

	var wireTools []Tool
	if options.Tools != nil {
		copier.Copy(&wireTools, options.Tools)
	}

	return &Stream{
		apiKey:  apiKey,
		model:   model,
		tools:   wireTools,
		history: history,
	}
}

// Stream is a pending completions request. It implements [llms.Stream].
type Stream struct {
	apiKey string

	model   string
	tools   []Tool
	history []message
}

// Tool mirrors [llms.Tool] with the wire tags the completions API expects.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  ToolParameters `json:"parameters"`
}

type ToolParameters struct {
	Type       string                   `json:"type"`
	Properties map[string]ParameterBase `json:"properties"`
	Required   []string                 `json:"required,omitempty"`
}

type ParameterBase struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Chunks sends the request and yields chunks as server-sent events arrive.
// Tool calls stream as fragments (the first carries the id and name,
// followups extend the arguments); they are assembled here and yielded whole
// once the choice finishes.
func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()

		names := make([]string, 0, len(s.tools))
		for _, tool := range s.tools {
			names = append(names, tool.Function.Name)
		}
		span.SetAttributes(
			attribute.String("request.model", s.model),
			attribute.StringSlice("request.available_tools", names),
			attribute.String("request.url", completionsURL),
		)

		payload, err := s.requestPayload()
		if err != nil {
			span.RecordError(err)
			yield(nil, err)
			return
		}

		sentAt := time.Now()
		span.AddEvent("request started")
		res, err := postJSON(ctx, s.apiKey, payload)
		if err != nil {
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer res.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", res.StatusCode))
		if res.StatusCode != http.StatusOK {
			err := statusError(span, res)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		assembly := toolCallAssembly{}
		defer func() {
			span.SetAttributes(attribute.StringSlice("response.tool_calls", assembly.names()))
		}()

		awaitingFirst := true
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			if awaitingFirst {
				span.AddEvent("received first chunk")
				span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(sentAt).Seconds()))
				awaitingFirst = false
			}

			raw := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), dataPrefix))
			if raw == "" {
				continue
			}
			if raw == streamTerminator {
				break
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				err = fmt.Errorf("failed to decode stream event: %w", err)
				span.RecordError(err)
				if !yield(nil, err) {
					return
				}
				continue
			}

			if len(event.Choices) > 0 {
				choice := event.Choices[0]
				assembly.extend(choice.Delta.ToolCalls)

				if choice.Delta.Content != "" {
					chunk := StreamContentChunk{
						chunkMeta: chunkMeta{finishReason: choice.FinishReason},
						content:   choice.Delta.Content,
					}
					if !yield(chunk, nil) {
						return
					}
				}

				if choice.FinishReason != nil {
					if !assembly.flush(choice.FinishReason, yield) {
						return
					}
				}
			}

			if event.Usage != nil {
				span.SetAttributes(
					attribute.Int("usage.input", event.Usage.PromptTokens),
					attribute.Int("usage.output", event.Usage.CompletionTokens),
					attribute.Int("usage.total", event.Usage.TotalTokens),
				)
				if !yield(StreamUsageChunk{usage: llms.Usage{
					InputTokens:  event.Usage.PromptTokens,
					OutputTokens: event.Usage.CompletionTokens,
					TotalTokens:  event.Usage.TotalTokens,
				}}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to read response stream: %w", err))
		}
	}
}

func (s *Stream) requestPayload() ([]byte, error) {
	var choice *string
	if s.tools != nil {
		choice = utils.Ptr("auto")
	}
	payload, err := json.Marshal(chatRequest{
		Model:      s.model,
		Messages:   s.history,
		Stream:     true,
		Tools:      s.tools,
		ToolChoice: choice,
		// Usage arrives on the final event, and only when asked for.
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode completions request: %w", err)
	}
	return payload, nil
}

// toolCallAssembly collects streamed tool-call fragments until the choice
// finishes, then yields each assembled call exactly once.
type toolCallAssembly struct {
	calls   []toolCall
	yielded int
}

func (a *toolCallAssembly) extend(fragments []toolCallFragment) {
	for _, fragment := range fragments {
		if fragment.ID == "" && fragment.Index != nil && *fragment.Index < len(a.calls) {
			a.calls[*fragment.Index].Function.Arguments += fragment.Function.Arguments
			continue
		}
		a.calls = append(a.calls, toolCall{
			ID:   fragment.ID,
			Type: fragment.Type,
			Function: toolCallFunction{
				Name:      fragment.Function.Name,
				Arguments: fragment.Function.Arguments,
			},
		})
	}
}

func (a *toolCallAssembly) flush(finish *string, yield func(llms.StreamChunk, error) bool) bool {
	for ; a.yielded < len(a.calls); a.yielded++ {
		call := a.calls[a.yielded]
		chunk := StreamToolCallChunk{
			chunkMeta: chunkMeta{finishReason: finish},
			toolCall: llms.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		}
		if !yield(chunk, nil) {
			return false
		}
	}
	return true
}

func (a *toolCallAssembly) names() []string {
	names := make([]string, 0, len(a.calls))
	for _, call := range a.calls {
		names = append(names, call.Function.Name)
	}
	return names
}

// postJSON posts the payload to the completions endpoint with the shared
// otelhttp transport. The caller owns the response body.
func postJSON(ctx context.Context, apiKey string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionsURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build completions request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.URL.Path
		}),
	)}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach completions endpoint: %w", err)
	}
	return res, nil
}

// statusError drains the error body into the span and folds the status line
// into the returned error.
func statusError(span trace.Span, res *http.Response) error {
	if body, err := io.ReadAll(res.Body); err == nil {
		span.SetAttributes(attribute.String("response.error", string(body)))
	} else {
		span.SetAttributes(attribute.String("response.error", "unreadable error body: "+err.Error()))
	}
	return fmt.Errorf("completions request failed: %s", res.Status)
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	ToolChoice    *string        `json:"tool_choice,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Role      string             `json:"role,omitempty"`
			Content   string             `json:"content,omitempty"`
			ToolCalls []toolCallFragment `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type toolCallFragment struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function toolCallFunction `json:"function"`
}

// chunkMeta carries the fields every chunk kind shares.
type chunkMeta struct {
	finishReason *string
}

func (m chunkMeta) FinishReason() *string { return m.finishReason }

type StreamContentChunk struct {
	chunkMeta
	content string
}

func (s StreamContentChunk) Content() string { return s.content }

type StreamToolCallChunk struct {
	chunkMeta
	toolCall llms.ToolCall
}

func (s StreamToolCallChunk) ToolCall() llms.ToolCall { return s.toolCall }

type StreamUsageChunk struct {
	chunkMeta
	usage llms.Usage
}

func (s StreamUsageChunk) Usage() llms.Usage { return s.usage }
