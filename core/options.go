package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/lina-core/core/events"
	"github.com/koscakluka/lina-core/core/interruptions"
	"github.com/koscakluka/lina-core/core/llms"
	"github.com/koscakluka/lina-core/core/speechtotext"
	"github.com/koscakluka/lina-core/core/telephony"
	"github.com/koscakluka/lina-core/core/texttospeech"
)

// Pipeline defaults. All of them are tunable through options.
const (
	// DefaultFailureThreshold is how many consecutive response failures end
	// the session.
	DefaultFailureThreshold = 3
	// DefaultFinalizeWait bounds how long an utterance waits for its final
	// transcript before proceeding with the interim one.
	DefaultFinalizeWait = 3 * time.Second
	// DefaultResponseTimeout bounds the wait for the first response chunk.
	DefaultResponseTimeout = 10 * time.Second
	// DefaultSynthesisTimeout bounds the wait for the first synthesized
	// audio after text has been sent.
	DefaultSynthesisTimeout = 10 * time.Second
)

// defaultApology is spoken when response generation fails but the session
// can still continue.
const defaultApology = "I'm sorry, I had trouble understanding. Could you please repeat that?"

// LLM generates streamed responses from conversation history.
type LLM interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...llms.PromptOption) llms.Stream
}

// SpeechToText transcribes one utterance at a time from wire audio.
type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	Finalize(ctx context.Context) error
	Close() error
}

// TextToSpeech opens one speech generator per assistant response.
type TextToSpeech interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error)
}

type orchestratorConfig struct {
	instructions string
	tools        []llms.Tool
	greeting     string
	apology      string

	terminateDigit   string
	failureThreshold int

	bargeIn          bool
	confirmationBeep bool

	energyThreshold  float64
	holdOff          time.Duration
	activationWindow time.Duration

	finalizeWait     time.Duration
	responseTimeout  time.Duration
	synthesisTimeout time.Duration
}

// OrchestratorOption configures an [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithTransport sets the telephony transport the session runs over.
// Required.
func WithTransport(transport telephony.MediaTransport) OrchestratorOption {
	return func(o *Orchestrator) { o.transport = transport }
}

// WithTranscriber sets the speech-to-text client. Required.
func WithTranscriber(transcriber SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.transcriber = transcriber }
}

// WithLLM sets the streaming response model. Required.
func WithLLM(llm LLM) OrchestratorOption {
	return func(o *Orchestrator) { o.llm = llm }
}

// WithTextToSpeechClient sets the speech synthesis client. Required.
func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeech = client }
}

// WithInterruptionClassifier makes interruptions pause playback and consult
// the classifier instead of cancelling the response immediately.
func WithInterruptionClassifier(classifier interruptions.Classifier) OrchestratorOption {
	return func(o *Orchestrator) { o.classifier = classifier }
}

// WithInstructions sets the system prompt for response generation.
func WithInstructions(instructions string) OrchestratorOption {
	return func(o *Orchestrator) { o.config.instructions = instructions }
}

// WithTools exposes tools to the model, on top of the built-in call
// control tools.
func WithTools(tools ...llms.Tool) OrchestratorOption {
	return func(o *Orchestrator) { o.config.tools = append(o.config.tools, tools...) }
}

// WithGreeting makes the assistant speak first once the call connects.
// An empty greeting leaves the session waiting for the caller.
func WithGreeting(greeting string) OrchestratorOption {
	return func(o *Orchestrator) { o.config.greeting = greeting }
}

// WithApology overrides the scripted recovery line spoken after a failed
// response.
func WithApology(apology string) OrchestratorOption {
	return func(o *Orchestrator) {
		if apology != "" {
			o.config.apology = apology
		}
	}
}

// WithTerminateDigit ends the call when the caller presses the given DTMF
// digit. Empty disables digit termination.
func WithTerminateDigit(digit string) OrchestratorOption {
	return func(o *Orchestrator) { o.config.terminateDigit = digit }
}

// WithFailureThreshold overrides how many consecutive response failures
// terminate the session.
func WithFailureThreshold(threshold int) OrchestratorOption {
	return func(o *Orchestrator) {
		if threshold > 0 {
			o.config.failureThreshold = threshold
		}
	}
}

// WithoutBargeIn mutes caller speech detection while the assistant is
// speaking. Playback then always runs to completion.
func WithoutBargeIn() OrchestratorOption {
	return func(o *Orchestrator) { o.config.bargeIn = false }
}

// WithConfirmationBeep plays a short tone when an utterance is captured,
// before the response starts.
func WithConfirmationBeep() OrchestratorOption {
	return func(o *Orchestrator) { o.config.confirmationBeep = true }
}

// WithEnergyThreshold overrides the RMS level separating speech from
// silence.
func WithEnergyThreshold(threshold float64) OrchestratorOption {
	return func(o *Orchestrator) {
		if threshold > 0 {
			o.config.energyThreshold = threshold
		}
	}
}

// WithHoldOff overrides how much trailing silence closes an utterance.
func WithHoldOff(holdOff time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if holdOff > 0 {
			o.config.holdOff = holdOff
		}
	}
}

// WithActivationWindow overrides how much sustained speech over playback
// counts as an interruption.
func WithActivationWindow(window time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if window > 0 {
			o.config.activationWindow = window
		}
	}
}

// WithFinalizeWait overrides the bound on waiting for a final transcript.
func WithFinalizeWait(wait time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if wait > 0 {
			o.config.finalizeWait = wait
		}
	}
}

// WithResponseTimeout overrides the bound on waiting for the first response
// chunk.
func WithResponseTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.config.responseTimeout = timeout
		}
	}
}

// WithSynthesisTimeout overrides the bound on waiting for the first
// synthesized audio.
func WithSynthesisTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.config.synthesisTimeout = timeout
		}
	}
}

type orchestrateCallbacks struct {
	onEvent        func(event events.Event)
	onSessionEnded func(report SessionReport)
}

// OrchestrateOption configures a single [Orchestrator.Orchestrate] run.
type OrchestrateOption func(*orchestrateCallbacks)

// WithEventCallback forwards every session event, in processing order, to
// the given callback. The callback runs on the session worker and must not
// block.
func WithEventCallback(callback func(event events.Event)) OrchestrateOption {
	return func(c *orchestrateCallbacks) {
		if callback != nil {
			c.onEvent = callback
		}
	}
}

// WithSessionEndedCallback delivers the session report once the session
// terminates, before Orchestrate returns.
func WithSessionEndedCallback(callback func(report SessionReport)) OrchestrateOption {
	return func(c *orchestrateCallbacks) {
		if callback != nil {
			c.onSessionEnded = callback
		}
	}
}
