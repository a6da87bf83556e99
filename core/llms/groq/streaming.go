package groq

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
// Breaking out of the loop or cancelling the context closes the response
// body, which tears the stream down server-side.
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

		var calls []toolCall
		defer func() {
			called := make([]string, 0, len(calls))
			for _, call := range calls {
				called = append(called, call.Function.Name)
			}
			span.SetAttributes(attribute.StringSlice("response.tool_calls", called))
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

			var finish *string
			if len(event.Choices) > 0 {
				delta := event.Choices[0].Delta
				finish = delta.FinishReason
				calls = append(calls, delta.ToolCalls...)
				if !emitDelta(delta, yield) {
					return
				}
			}
			if event.Usage != nil {
				if !emitUsage(span, *event.Usage, finish, yield) {
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
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode completions request: %w", err)
	}
	return payload, nil
}

// emitDelta yields the delta's fragments in wire order: tool calls first,
// then content, then reasoning. Reports false once the consumer stops.
func emitDelta(delta streamDelta, yield func(llms.StreamChunk, error) bool) bool {
	meta := chunkMeta{finishReason: delta.FinishReason}
	for _, call := range delta.ToolCalls {
		chunk := StreamToolCallChunk{chunkMeta: meta, toolCall: llms.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}}
		if !yield(chunk, nil) {
			return false
		}
	}
	if delta.Content != "" {
		if !yield(StreamContentChunk{chunkMeta: meta, content: delta.Content}, nil) {
			return false
		}
	}
	if delta.Reasoning != "" {
		if !yield(StreamReasoningChunk{chunkMeta: meta, reasoning: delta.Reasoning}, nil) {
			return false
		}
	}
	return true
}

func emitUsage(span trace.Span, usage streamUsage, finish *string, yield func(llms.StreamChunk, error) bool) bool {
	span.SetAttributes(
		attribute.Int("usage.input", usage.PromptTokens),
		attribute.Int("usage.output", usage.CompletionTokens),
		attribute.Int("usage.total", usage.TotalTokens),
		attribute.Float64("usage.queue_time", usage.QueueTime),
		attribute.Float64("usage.prompt_time", usage.PromptTime),
		attribute.Float64("usage.completion_time", usage.CompletionTime),
		attribute.Float64("usage.total_time", usage.TotalTime),
	)
	return yield(StreamUsageChunk{chunkMeta: chunkMeta{finishReason: finish}, usage: llms.Usage{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.TotalTokens,

		QueueTime:      usage.QueueTime,
		PromptTime:     usage.PromptTime,
		CompletionTime: usage.CompletionTime,
		TotalTime:      usage.TotalTime,
	}}, nil)
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
	Model      string    `json:"model"`
	Messages   []message `json:"messages"`
	Stream     bool      `json:"stream"`
	ToolChoice *string   `json:"tool_choice,omitempty"`
	Tools      []Tool    `json:"tools,omitempty"`
}

type streamEvent struct {
	Choices []struct {
		Delta streamDelta `json:"delta"`
	} `json:"choices"`
	Usage *streamUsage `json:"usage"`
}

type streamDelta struct {
	Role         string     `json:"role,omitempty"`
	Content      string     `json:"content,omitempty"`
	ToolCalls    []toolCall `json:"tool_calls,omitempty"`
	Reasoning    string     `json:"reasoning,omitempty"`
	FinishReason *string    `json:"finish_reason,omitempty"`
}

type streamUsage struct {
	QueueTime        float64 `json:"queue_time"`
	PromptTokens     int     `json:"prompt_tokens"`
	PromptTime       float64 `json:"prompt_time"`
	CompletionTokens int     `json:"completion_tokens"`
	CompletionTime   float64 `json:"completion_time"`
	TotalTokens      int     `json:"total_tokens"`
	TotalTime        float64 `json:"total_time"`
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

type StreamReasoningChunk struct {
	chunkMeta
	reasoning string
}

func (s StreamReasoningChunk) Reasoning() string { return s.reasoning }

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
