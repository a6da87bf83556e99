package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/lina-core/core/llms"
	"github.com/koscakluka/lina-core/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// activeResponse is one assistant response in flight: generation filling the
// text buffer, synthesis draining it into the audio buffer, and playback
// draining that into the transport. The three workers run concurrently and
// unwind together through the shared context.
type activeResponse struct {
	id        string
	scripted  bool
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	textBuffer  *textBuffer
	audioBuffer *audioBuffer

	generatorMu    sync.Mutex
	generator      texttospeech.SpeechGenerator
	generatorReady chan struct{}

	cancelled  atomic.Bool
	firstChunk atomic.Bool
	firstAudio atomic.Bool
	openedOnce sync.Once
	spokeOnce  sync.Once

	mu        sync.Mutex
	content   string
	toolCalls []llms.ToolCall
	failure   error
}

func (o *Orchestrator) newActiveResponse(scripted bool) *activeResponse {
	ctx, cancel := context.WithCancel(o.baseContext)
	return &activeResponse{
		id:        uuid.NewString(),
		scripted:  scripted,
		startedAt: time.Now(),

		ctx:    ctx,
		cancel: cancel,

		textBuffer:     newTextBuffer(),
		audioBuffer:    newAudioBuffer(o.transport.WireFormat()),
		generatorReady: make(chan struct{}),
	}
}

// cancelGenerator drops provider-side synthesis immediately instead of
// waiting for the workers to unwind past it.
func (r *activeResponse) cancelGenerator() {
	r.generatorMu.Lock()
	generator := r.generator
	r.generatorMu.Unlock()
	if generator == nil {
		return
	}
	if err := generator.Cancel(); err != nil {
		logger.Warn("Failed to cancel speech synthesis", "error", err)
	}
}

// fail records an out-of-band failure (watchdog, synthesis callback) and
// unwinds the workers.
func (r *activeResponse) fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.failure = errors.Join(r.failure, err)
	r.mu.Unlock()
	r.cancel()
}

func (r *activeResponse) takeFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

func (r *activeResponse) setContent(content string) {
	r.mu.Lock()
	r.content = content
	r.mu.Unlock()
}

func (r *activeResponse) appendToolCalls(toolCalls []llms.ToolCall) {
	if len(toolCalls) == 0 {
		return
	}
	r.mu.Lock()
	r.toolCalls = append(r.toolCalls, toolCalls...)
	r.mu.Unlock()
}

// finalContent is the full generated text, falling back to whatever reached
// the text buffer when generation did not run to completion.
func (r *activeResponse) finalContent() string {
	r.mu.Lock()
	content := r.content
	r.mu.Unlock()

	if content == "" {
		return r.textBuffer.Text()
	}
	return content
}

// spokenTranscript is the text confirmed played, for truncated turns.
func (r *activeResponse) spokenTranscript() string {
	return r.audioBuffer.SpokenTranscript()
}

// responseSource fills the response's text buffer and records the final
// content and tool calls.
type responseSource func(ctx context.Context, r *activeResponse) error

// deliverResponseChunk hands one generated chunk to the synthesis side and
// reports the response as opened on the first one.
func (o *Orchestrator) deliverResponseChunk(r *activeResponse, chunk string) {
	r.firstChunk.Store(true)
	r.openedOnce.Do(func() {
		o.runtime.enqueue(responseOpened{response: r})
	})
	r.textBuffer.AddChunk(chunk)
	o.runtime.enqueue(responseSegment{response: r, segment: chunk})
}

// scriptedSource speaks a fixed line (greeting, recovery apology) through
// the same pipeline as generated responses.
func (o *Orchestrator) scriptedSource(script string) responseSource {
	return func(ctx context.Context, r *activeResponse) error {
		o.deliverResponseChunk(r, script)
		r.setContent(script)
		return nil
	}
}

// llmSource streams a response from the model, executing requested tools and
// re-prompting until the model produces a round without tool calls.
func (o *Orchestrator) llmSource(history []llms.Turn) responseSource {
	return func(ctx context.Context, r *activeResponse) error {
		_ = trace.SpanFromContext(ctx)

		conversation := history
		message := strings.Builder{}
		for {
			stream := o.llm.PromptWithStream(ctx, nil,
				llms.WithSystemPrompt(o.config.instructions),
				llms.WithTurns(conversation...),
				llms.WithTools(o.sessionTools()...),
			)

			round := strings.Builder{}
			toolCalls := []llms.ToolCall{}
			for chunk, err := range stream.Chunks(ctx) {
				if err != nil {
					return fmt.Errorf("failed to stream response: %w", err)
				}
				if r.cancelled.Load() {
					return nil
				}

				switch chunk := chunk.(type) {
				case llms.StreamContentChunk:
					content := chunk.Content()
					if content == "" {
						continue
					}
					round.WriteString(content)
					message.WriteString(content)
					o.deliverResponseChunk(r, content)

				case llms.StreamToolCallChunk:
					toolCalls = append(toolCalls, chunk.ToolCall())
				}
			}

			executed := make([]llms.ToolCall, 0, len(toolCalls))
			for _, toolCall := range toolCalls {
				response, err := o.callTool(ctx, toolCall)
				if err != nil {
					return fmt.Errorf("failed to call tool: %w", err)
				}
				toolCall.Response = response
				executed = append(executed, toolCall)
			}
			r.appendToolCalls(executed)

			if len(toolCalls) == 0 {
				r.setContent(message.String())
				return nil
			}

			conversation = append(conversation, llms.Turn{
				Role:      llms.TurnRoleAssistant,
				Content:   round.String(),
				ToolCalls: executed,
				Status:    llms.TurnStatusComplete,
			})
		}
	}
}

// runResponse drives the response trio to completion and reports the joined
// worker error, if any. It blocks until all three workers have unwound.
func (o *Orchestrator) runResponse(r *activeResponse, source responseSource) error {
	defer r.cancel()

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	watchdog := time.AfterFunc(o.config.responseTimeout, func() {
		if !r.firstChunk.Load() && !r.cancelled.Load() {
			r.fail(fmt.Errorf("no response text within %s", o.config.responseTimeout))
		}
	})
	defer watchdog.Stop()

	run := func(name string, f func() error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				r.cancel()
			}
		}()

		if err := f(); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
			r.cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		run("response generation", func() error { return o.generateResponse(r, source) })
	}()
	go func() {
		defer wg.Done()
		run("response text processing", func() error { return o.processResponseText(r) })
	}()
	go func() {
		defer wg.Done()
		run("speech processing", func() error { return o.processSpeech(r) })
	}()
	wg.Wait()

	r.generatorMu.Lock()
	generator := r.generator
	r.generatorMu.Unlock()
	if generator != nil {
		if r.cancelled.Load() {
			_ = generator.Cancel()
		} else {
			_ = generator.Close()
		}
	}

	addWorkerErr(r.takeFailure())

	if workerErr != nil {
		return fmt.Errorf("one or more response workers failed: %w", workerErr)
	}
	return nil
}

func (o *Orchestrator) generateResponse(r *activeResponse, source responseSource) error {
	ctx, span := tracer.Start(r.ctx, "generate response")
	defer span.End()
	span.SetAttributes(attribute.Bool("response.scripted", r.scripted))
	defer r.textBuffer.Complete()

	if err := source(ctx, r); err != nil {
		err = fmt.Errorf("failed to generate response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var toolNames []string
	for _, toolCall := range r.toolCalls {
		toolNames = append(toolNames, toolCall.Name)
	}
	span.SetAttributes(attribute.StringSlice("response.tool_calls", toolNames))
	return nil
}

func (o *Orchestrator) processResponseText(r *activeResponse) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.ctx.Done():
			r.textBuffer.Clear()
		case <-done:
		}
	}()

	_, span := tracer.Start(r.ctx, "passing text to synthesis")
	defer span.End()

	if err := o.openSpeechGenerator(r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	textSent := false
	for chunk := range r.textBuffer.Chunks {
		if r.cancelled.Load() {
			break
		}

		if err := r.generator.SendText(chunk); err != nil {
			span.RecordError(fmt.Errorf("failed to send text to synthesis: %w", err))
			continue
		}
		if !textSent {
			textSent = true
			o.armSynthesisWatchdog(r)
		}

		if strings.ContainsAny(chunk, ".?!") {
			if err := r.generator.Mark(); err != nil {
				span.RecordError(fmt.Errorf("failed to send mark to synthesis: %w", err))
			}
		}
	}

	if err := r.generator.EndOfText(); err != nil {
		span.RecordError(fmt.Errorf("failed to end synthesis text: %w", err))
	}
	return nil
}

func (o *Orchestrator) openSpeechGenerator(r *activeResponse) error {
	defer close(r.generatorReady)

	generator, err := o.textToSpeech.NewSpeechGenerator(r.ctx,
		texttospeech.WithEncodingInfo(o.transport.WireFormat()),
		texttospeech.WithSpeechAudioCallback(func(chunk []byte) {
			r.firstAudio.Store(true)
			r.audioBuffer.AddAudio(chunk)
		}),
		texttospeech.WithSpeechMarkCallback(r.audioBuffer.Mark),
		texttospeech.WithSpeechEndedCallback(func(texttospeech.SpeechEndedReport) {
			r.audioBuffer.AllAudioLoaded()
		}),
		texttospeech.WithErrorCallback(func(err error) {
			r.fail(fmt.Errorf("speech synthesis failed: %w", err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to open speech generator: %w", err)
	}

	r.generatorMu.Lock()
	r.generator = generator
	r.generatorMu.Unlock()
	return nil
}

func (o *Orchestrator) armSynthesisWatchdog(r *activeResponse) {
	time.AfterFunc(o.config.synthesisTimeout, func() {
		if !r.firstAudio.Load() && !r.cancelled.Load() {
			r.fail(fmt.Errorf("no synthesized audio within %s", o.config.synthesisTimeout))
		}
	})
}

func (o *Orchestrator) processSpeech(r *activeResponse) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.ctx.Done():
			r.audioBuffer.Stop()
		case <-done:
		}
	}()

	select {
	case <-r.generatorReady:
	case <-r.ctx.Done():
		return nil
	}
	r.generatorMu.Lock()
	connected := r.generator != nil
	r.generatorMu.Unlock()
	if !connected {
		return nil
	}

	_, span := tracer.Start(r.ctx, "passing speech to transport")
	defer span.End()

	for item := range r.audioBuffer.Items {
		if item.isMark() {
			span.AddEvent("mark handed to transport", trace.WithAttributes(attribute.String("mark", item.markID)))
			if err := o.transport.SendMark(item.markID); err != nil {
				return fmt.Errorf("failed to send mark: %w", err)
			}
			continue
		}

		if r.cancelled.Load() {
			break
		}

		r.spokeOnce.Do(func() { o.speaking.Store(true) })
		if err := o.transport.SendAudio(item.audio); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
	}

	return nil
}
