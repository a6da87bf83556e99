// Package orchestration coordinates one AI phone conversation: inbound audio
// is segmented into utterances and transcribed, finalized utterances prompt
// the language model, and the streamed response is synthesized and played
// back over the telephony transport. A single session worker owns the
// turn-taking state machine, so interruptions, hangups, and failures are
// resolved in one place in arrival order.
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
	"github.com/jinzhu/copier"
	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/events"
	"github.com/koscakluka/lina-core/core/interruptions"
	"github.com/koscakluka/lina-core/core/llms"
	"github.com/koscakluka/lina-core/core/telephony"
)

// Confirmation tone parameters, injected through the transport's
// acknowledgment path when enabled.
const (
	confirmationToneFrequency = 600.0
	confirmationToneDuration  = 300 * time.Millisecond
	confirmationToneAmplitude = 16000
)

// classificationTimeout bounds the interruption classifier; playback stays
// paused while it runs.
const classificationTimeout = 5 * time.Second

// Orchestrator runs call sessions over a telephony transport. Configure it
// once with NewOrchestrator, then run one session per call with Orchestrate.
type Orchestrator struct {
	transport    telephony.MediaTransport
	transcriber  SpeechToText
	llm          LLM
	textToSpeech TextToSpeech
	classifier   interruptions.Classifier

	config    orchestratorConfig
	callbacks orchestrateCallbacks

	baseContext context.Context
	runtime     *sessionRuntime
	in          *inboundState

	closeOnce sync.Once

	// speaking gates echo suppression and interruption detection: it is set
	// while response audio is flowing to the transport.
	speaking       atomic.Bool
	interruptArmed atomic.Bool
	disconnected   atomic.Bool
	hangupPending  atomic.Bool

	activeMu sync.RWMutex
	active   *activeResponse

	// Worker-owned session state. Only the session worker touches these.
	session               *CallSession
	pendingClassification string
	settledUtterances     map[string]struct{}
	utteranceStarts       map[string]time.Time
	consecutiveFailures   int
	terminalErr           error
}

// NewOrchestrator assembles an orchestrator from the given options.
// Transport, transcriber, LLM, and text-to-speech clients are required;
// Orchestrate reports their absence.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		baseContext: context.Background(),
		runtime:     newSessionRuntime(),
		config: orchestratorConfig{
			apology:          defaultApology,
			failureThreshold: DefaultFailureThreshold,
			bargeIn:          true,
			finalizeWait:     DefaultFinalizeWait,
			responseTimeout:  DefaultResponseTimeout,
			synthesisTimeout: DefaultSynthesisTimeout,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) validate() error {
	if o.transport == nil {
		return errors.New("telephony transport is required")
	}
	if o.transcriber == nil {
		return errors.New("speech-to-text client is required")
	}
	if o.llm == nil {
		return errors.New("llm client is required")
	}
	if o.textToSpeech == nil {
		return errors.New("text-to-speech client is required")
	}
	return nil
}

// Orchestrate runs one call session and blocks until it terminates: the
// caller hangs up, the model hangs up, ctx expires, or failures exceed the
// configured threshold. The session report is delivered through
// [WithSessionEndedCallback] before Orchestrate returns.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	if err := o.validate(); err != nil {
		return err
	}

	callbacks := orchestrateCallbacks{
		onEvent:        func(events.Event) {},
		onSessionEnded: func(SessionReport) {},
	}
	for _, opt := range opts {
		opt(&callbacks)
	}
	o.callbacks = callbacks

	o.baseContext = ctx
	o.session = &CallSession{
		ID:        uuid.NewString(),
		State:     StateIdle,
		StartedAt: time.Now(),
	}
	o.settledUtterances = map[string]struct{}{}
	o.utteranceStarts = map[string]time.Time{}
	o.in = o.newInboundState()

	o.runtime.start(o.processQueuedEvent)
	go o.runInbound()
	go func() {
		select {
		case <-ctx.Done():
			o.runtime.enqueue(terminateSession{reason: ReasonTimeout})
		case <-o.runtime.closeCh:
		}
	}()

	logger.Info("Session starting", "session_id", o.session.ID)

	if err := o.transport.Start(ctx, telephony.SessionHooks{
		OnConnected: func(info telephony.CallInfo) {
			o.runtime.enqueue(callConnected{info: info})
		},
		OnFrame: o.acceptFrame,
		OnDigit: func(digit string) {
			o.runtime.enqueue(callDigit{digit: digit})
		},
		OnMarkPlayed: o.confirmMark,
		OnDisconnected: func(reason string) {
			o.disconnected.Store(true)
			o.runtime.enqueue(callDisconnected{reason: reason})
		},
	}); err != nil {
		o.runtime.end()
		return fmt.Errorf("failed to start transport: %w", err)
	}

	o.runtime.waitUntilEnded()
	return o.terminalErr
}

// Close ends the session from this side. It is safe to call from any
// goroutine and more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.runtime.enqueue(terminateSession{reason: ReasonAssistantHangup})
	})
}

// Report returns the session record. It is complete once Orchestrate has
// returned.
func (o *Orchestrator) Report() SessionReport {
	if o.session == nil {
		return SessionReport{}
	}
	return o.buildReport()
}

func (o *Orchestrator) setActive(response *activeResponse) {
	o.activeMu.Lock()
	o.active = response
	o.activeMu.Unlock()
}

func (o *Orchestrator) activeSnapshot() *activeResponse {
	o.activeMu.RLock()
	defer o.activeMu.RUnlock()
	return o.active
}

// confirmMark relays a transport playback confirmation to the active
// response. It runs on the transport's reader goroutine so playback
// accounting does not lag behind the wire.
func (o *Orchestrator) confirmMark(markID string) {
	response := o.activeSnapshot()
	if response == nil {
		return
	}

	response.audioBuffer.ConfirmMark(markID)
	transcript := response.audioBuffer.MarkTranscript(markID)
	if transcript == nil {
		return
	}
	o.runtime.enqueue(markPlayed{markID: markID, transcript: *transcript})
}

func (o *Orchestrator) emit(event events.Event) {
	o.callbacks.onEvent(event)
}

// transition moves the session to the requested state, reporting whether
// the turn-taking machine allowed it.
func (o *Orchestrator) transition(to State) bool {
	from := o.session.State
	if from == to {
		return true
	}
	if !from.CanTransitionTo(to) {
		logger.Warn("Rejected session state transition",
			"session_id", o.session.ID, "from", from, "to", to)
		return false
	}

	o.session.State = to
	o.emit(events.NewSessionStateChanged(string(from), string(to)))
	return true
}

func (o *Orchestrator) handleCallConnected(event callConnected) {
	o.session.StreamID = event.info.StreamID
	o.session.CallID = event.info.CallID
	o.session.From = event.info.From
	o.session.To = event.info.To

	o.emit(events.NewCallConnected(event.info.StreamID, event.info.CallID))
	logger.Info("Call connected",
		"session_id", o.session.ID,
		"stream_id", event.info.StreamID,
		"call_id", event.info.CallID,
	)

	if o.config.greeting != "" && o.session.State == StateIdle {
		if o.transition(StateThinking) {
			o.emit(events.NewResponseStarted())
			o.startResponse(o.scriptedSource(o.config.greeting), true)
		}
	}
}

func (o *Orchestrator) handleCallDigit(event callDigit) {
	o.emit(events.NewCallDigit(event.digit))

	if o.config.terminateDigit != "" && event.digit == o.config.terminateDigit {
		o.terminate(ReasonCallerHangup)
	}
}

func (o *Orchestrator) handleCallDisconnected(event callDisconnected) {
	o.emit(events.NewCallDisconnected())

	reason := ReasonCallerHangup
	if event.reason == telephony.DisconnectReasonTransportError {
		reason = ReasonError
	}
	o.terminate(reason)
}

func (o *Orchestrator) handleUtteranceStarted(event utteranceStarted) {
	if o.session.State.IsTerminal() {
		return
	}

	o.utteranceStarts[event.id] = event.at
	o.emit(events.NewUtteranceStarted(event.id))
	if o.session.State == StateIdle {
		o.transition(StateListening)
	}
}

func (o *Orchestrator) handleUtteranceEnded(event utteranceEnded) {
	if o.session.State.IsTerminal() {
		return
	}

	o.emit(events.NewUtteranceEnded(event.id))

	if o.config.confirmationBeep && o.session.State == StateListening {
		tone := audio.Tone(
			confirmationToneFrequency,
			confirmationToneDuration,
			confirmationToneAmplitude,
			o.transport.WireFormat().SampleRate,
		)
		if err := o.transport.SendTone(tone); err != nil {
			logger.Warn("Failed to play confirmation tone", "error", err)
		}
	}
}

func (o *Orchestrator) handleUtteranceAborted(event utteranceAborted) {
	if o.session.State.IsTerminal() {
		return
	}

	o.settledUtterances[event.id] = struct{}{}
	delete(o.utteranceStarts, event.id)
	o.emit(events.NewUtteranceAborted(event.id))
}

func (o *Orchestrator) handleTranscriptInterim(event transcriptInterim) {
	if o.session.State.IsTerminal() {
		return
	}
	o.emit(events.NewTranscriptInterim(event.utteranceID, event.transcript))
}

func (o *Orchestrator) handleTranscriptFinal(event transcriptFinal) {
	if o.session.State.IsTerminal() {
		return
	}
	if _, settled := o.settledUtterances[event.utteranceID]; settled {
		// Duplicate finals for an already settled utterance are dropped.
		return
	}
	o.settledUtterances[event.utteranceID] = struct{}{}
	startedAt := o.utteranceStarts[event.utteranceID]
	delete(o.utteranceStarts, event.utteranceID)

	o.emit(events.NewTranscriptFinal(event.utteranceID, event.transcript, event.degraded))
	if event.degraded {
		logger.Warn("Utterance settled with degraded transcript",
			"session_id", o.session.ID, "utterance_id", event.utteranceID)
	}

	if o.pendingClassification != "" && o.pendingClassification == event.utteranceID {
		o.classifyInterruption(event.utteranceID, event.transcript, startedAt)
		return
	}

	transcript := strings.TrimSpace(event.transcript)
	switch o.session.State {
	case StateListening:
		if transcript == "" {
			// The segmenter fired on something the transcriber heard nothing
			// in; yield the turn back.
			o.transition(StateIdle)
			return
		}

		o.appendTurn(ConversationTurn{
			Role:      TurnRoleCaller,
			Content:   transcript,
			Status:    TurnStatusComplete,
			StartedAt: startedAt,
			EndedAt:   time.Now(),
		})

		if o.disconnected.Load() {
			// The wire is already gone; the disconnect event settles the
			// session instead of a response.
			return
		}

		if o.transition(StateThinking) {
			o.emit(events.NewResponseStarted())
			o.startResponse(o.llmSource(o.promptTurns()), false)
		}

	default:
		// Overlap speech that never armed an interruption is dropped.
		o.emit(events.NewUtteranceAborted(event.utteranceID))
	}
}

func (o *Orchestrator) handleInterruptionDetected(event interruptionDetected) {
	if o.session.State != StateResponding {
		return
	}
	response := o.activeSnapshot()
	if response == nil {
		return
	}

	o.emit(events.NewInterruptionDetected(event.utteranceID))

	if o.classifier != nil && event.utteranceID != "" {
		o.pendingClassification = event.utteranceID
		response.audioBuffer.Pause()
		return
	}

	o.cancelActiveResponse(true)
	o.transition(StateListening)
}

// classifyInterruption consults the classifier off the session worker;
// playback stays paused until the decision comes back.
func (o *Orchestrator) classifyInterruption(utteranceID, transcript string, startedAt time.Time) {
	history := o.promptTurns()
	go func() {
		ctx, cancel := context.WithTimeout(o.baseContext, classificationTimeout)
		defer cancel()

		decision, err := o.classifier.Classify(ctx, transcript,
			interruptions.WithHistory(history...),
		)
		o.runtime.enqueue(interruptionClassified{
			utteranceID: utteranceID,
			decision:    decision,
			transcript:  transcript,
			startedAt:   startedAt,
			err:         err,
		})
	}()
}

func (o *Orchestrator) handleInterruptionClassified(event interruptionClassified) {
	if o.pendingClassification != event.utteranceID {
		return
	}
	o.pendingClassification = ""

	response := o.activeSnapshot()
	if response == nil || o.session.State != StateResponding {
		return
	}

	decision := event.decision
	if event.err != nil {
		// Talking over a real request is worse than yielding to noise.
		logger.Warn("Interruption classification failed, yielding the turn",
			"session_id", o.session.ID, "error", event.err)
		decision = interruptions.DecisionCancel
	}
	o.emit(events.NewInterruptionClassified(event.utteranceID, string(decision), event.transcript))

	if decision == interruptions.DecisionResume {
		o.interruptArmed.Store(false)
		response.audioBuffer.Resume()
		return
	}

	o.cancelActiveResponse(true)
	if !o.transition(StateListening) {
		return
	}

	transcript := strings.TrimSpace(event.transcript)
	if transcript == "" {
		o.transition(StateIdle)
		return
	}

	o.appendTurn(ConversationTurn{
		Role:      TurnRoleCaller,
		Content:   transcript,
		Status:    TurnStatusComplete,
		StartedAt: event.startedAt,
		EndedAt:   time.Now(),
	})

	if o.disconnected.Load() {
		return
	}
	if o.transition(StateThinking) {
		o.emit(events.NewResponseStarted())
		o.startResponse(o.llmSource(o.promptTurns()), false)
	}
}

func (o *Orchestrator) handleResponseOpened(event responseOpened) {
	if o.activeSnapshot() != event.response {
		return
	}
	if o.session.State == StateThinking {
		o.transition(StateResponding)
	}
}

func (o *Orchestrator) handleResponseSegment(event responseSegment) {
	if o.activeSnapshot() != event.response {
		return
	}
	o.emit(events.NewResponseSegment(event.segment))
}

func (o *Orchestrator) handleMarkPlayed(event markPlayed) {
	if o.session.State.IsTerminal() {
		return
	}
	o.emit(events.NewSpeechMarkPlayed(event.markID, event.transcript))
}

func (o *Orchestrator) handleResponseSettled(event responseSettled) {
	if o.activeSnapshot() != event.response {
		// Cancelled and already accounted for.
		return
	}
	o.setActive(nil)
	o.speaking.Store(false)

	response := event.response

	if event.err == nil {
		content := strings.TrimSpace(response.finalContent())
		o.emit(events.NewResponseFinal(content))
		o.emit(events.NewSpeechEnded(response.spokenTranscript()))

		if content != "" || len(response.toolCalls) > 0 {
			o.appendTurn(ConversationTurn{
				Role:      TurnRoleAssistant,
				Content:   content,
				Status:    TurnStatusComplete,
				StartedAt: response.startedAt,
				EndedAt:   time.Now(),
			})
		}
		o.consecutiveFailures = 0

		if o.hangupPending.Load() {
			o.terminate(ReasonAssistantHangup)
			return
		}
		o.transition(StateIdle)
		return
	}

	if o.disconnected.Load() || errors.Is(event.err, telephony.ErrDisconnected) {
		// The wire went away mid-response; disconnect handling owns the
		// session now.
		return
	}

	logger.Error("Response failed",
		"session_id", o.session.ID,
		"consecutive_failures", o.consecutiveFailures+1,
		"error", event.err,
	)
	o.consecutiveFailures++

	if spoken := strings.TrimSpace(response.spokenTranscript()); spoken != "" {
		o.emit(events.NewSpeechEnded(spoken))
		o.appendTurn(ConversationTurn{
			Role:      TurnRoleAssistant,
			Content:   spoken,
			Status:    TurnStatusTruncated,
			StartedAt: response.startedAt,
			EndedAt:   time.Now(),
		})
	}

	if o.consecutiveFailures >= o.config.failureThreshold {
		o.terminalErr = errors.Join(o.terminalErr, event.err)
		o.terminate(ReasonError)
		return
	}

	if !o.transition(StateIdle) {
		return
	}
	if o.transition(StateThinking) {
		o.emit(events.NewResponseStarted())
		o.startResponse(o.scriptedSource(o.config.apology), true)
	}
}

// startResponse launches the response trio; its completion comes back
// through the queue as a responseSettled item.
func (o *Orchestrator) startResponse(source responseSource, scripted bool) {
	response := o.newActiveResponse(scripted)
	o.setActive(response)
	o.interruptArmed.Store(false)

	go func() {
		err := o.runResponse(response, source)
		o.runtime.enqueue(responseSettled{response: response, err: err})
	}()
}

// cancelActiveResponse tears the in-flight response down: the trio unwinds,
// provider-side synthesis is dropped, and the transport's outbound buffer is
// cleared so no further audio reaches the caller. When recordTruncatedTurn
// is set the confirmed-played text is appended as a truncated assistant
// turn.
func (o *Orchestrator) cancelActiveResponse(recordTruncatedTurn bool) {
	response := o.activeSnapshot()
	if response == nil {
		return
	}
	o.setActive(nil)

	response.cancelled.Store(true)
	response.cancel()
	response.audioBuffer.Stop()
	response.cancelGenerator()

	if err := o.transport.Clear(); err != nil && !errors.Is(err, telephony.ErrDisconnected) {
		logger.Warn("Failed to clear transport playback buffer", "error", err)
	}
	o.speaking.Store(false)

	if !recordTruncatedTurn {
		return
	}

	spoken := response.spokenTranscript()
	o.emit(events.NewSpeechEnded(spoken))
	o.appendTurn(ConversationTurn{
		Role:      TurnRoleAssistant,
		Content:   strings.TrimSpace(spoken),
		Status:    TurnStatusTruncated,
		StartedAt: response.startedAt,
		EndedAt:   time.Now(),
	})
}

func (o *Orchestrator) appendTurn(turn ConversationTurn) {
	if turn.StartedAt.IsZero() {
		turn.StartedAt = time.Now()
	}
	if turn.EndedAt.IsZero() {
		turn.EndedAt = time.Now()
	}

	o.session.Turns = append(o.session.Turns, turn)
	o.emit(events.NewTurnAppended(string(turn.Role), turn.Content, string(turn.Status)))
}

// promptTurns maps the session transcript to model turns.
func (o *Orchestrator) promptTurns() []llms.Turn {
	turns := make([]llms.Turn, 0, len(o.session.Turns))
	for _, turn := range o.session.Turns {
		role := llms.TurnRoleUser
		if turn.Role == TurnRoleAssistant {
			role = llms.TurnRoleAssistant
		}
		status := llms.TurnStatusComplete
		if turn.Status == TurnStatusTruncated {
			status = llms.TurnStatusTruncated
		}
		turns = append(turns, llms.Turn{
			Role:      role,
			Content:   turn.Content,
			Status:    status,
			StartedAt: turn.StartedAt,
			EndedAt:   turn.EndedAt,
		})
	}
	return turns
}

// terminate finalizes the session. It runs on the session worker and is
// idempotent; the first reason wins.
func (o *Orchestrator) terminate(reason string) {
	if o.session.State.IsTerminal() {
		return
	}

	o.cancelActiveResponse(false)
	o.pendingClassification = ""

	o.transition(StateTerminated)
	o.session.EndedAt = time.Now()
	o.session.EndReason = reason

	if err := o.transcriber.Close(); err != nil {
		logger.Warn("Failed to close transcription stream", "error", err)
	}
	if err := o.transport.Close(reason); err != nil && !errors.Is(err, telephony.ErrDisconnected) {
		logger.Warn("Failed to close transport", "error", err)
	}

	o.emit(events.NewSessionEnded(reason))
	logger.Info("Session ended",
		"session_id", o.session.ID,
		"reason", reason,
		"turns", len(o.session.Turns),
		"duration", time.Since(o.session.StartedAt),
	)

	o.callbacks.onSessionEnded(o.buildReport())

	o.runtime.end()
}

func (o *Orchestrator) buildReport() SessionReport {
	turns := []ConversationTurn{}
	if err := copier.CopyWithOption(&turns, o.session.Turns, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("Failed to deep-copy session turns", "error", err)
		turns = append([]ConversationTurn(nil), o.session.Turns...)
	}

	endedAt := o.session.EndedAt
	duration := time.Duration(0)
	if !endedAt.IsZero() {
		duration = endedAt.Sub(o.session.StartedAt)
	}

	return SessionReport{
		ID:        o.session.ID,
		StartedAt: o.session.StartedAt,
		EndedAt:   endedAt,
		Duration:  duration,
		Reason:    o.session.EndReason,
		Turns:     turns,
	}
}
