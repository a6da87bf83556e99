package llms

import "context"

// Stream is a response being generated. Iterating Chunks performs the
// provider request; nothing happens before that, so a Stream can be built
// cheaply and discarded unconsumed.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

// StreamChunk is one fragment of a streamed response. Concrete chunks
// additionally implement one of the capability interfaces below; consumers
// type-switch on those rather than on provider types.
type StreamChunk interface {
	FinishReason() *string
}

// StreamContentChunk carries a fragment of the spoken reply.
type StreamContentChunk interface {
	StreamChunk
	Content() string
}

// StreamReasoningChunk carries model reasoning that is never spoken.
type StreamReasoningChunk interface {
	StreamChunk
	Reasoning() string
}

// StreamToolCallChunk carries one fully assembled tool call.
type StreamToolCallChunk interface {
	StreamChunk
	ToolCall() ToolCall
}

// StreamUsageChunk carries the request's token accounting, delivered once
// near the end of the stream.
type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

// Usage is the provider's accounting for one request. Token counts are
// exact; the timings are provider-reported approximations and may be zero
// when a provider does not expose them.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	QueueTime      float64
	PromptTime     float64
	CompletionTime float64
	TotalTime      float64
}
