package orchestration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/events"
	"github.com/koscakluka/lina-core/core/interruptions"
	"github.com/koscakluka/lina-core/core/llms"
	"github.com/koscakluka/lina-core/core/speechtotext"
	"github.com/koscakluka/lina-core/core/telephony"
	"github.com/koscakluka/lina-core/core/texttospeech"
)

const testFrameDuration = 20 * time.Millisecond

func pcmFrame(seq uint64, amplitude int16) audio.Frame {
	encoding := audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingLinear16}
	samples := make([]int16, encoding.SamplesIn(testFrameDuration))
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.Frame{Seq: seq, Encoding: encoding, Data: audio.SamplesToBytes(samples)}
}

func speechFrame(seq uint64) audio.Frame  { return pcmFrame(seq, 4000) }
func silenceFrame(seq uint64) audio.Frame { return pcmFrame(seq, 0) }

// eventRecorder collects session events in emission order. waitFor advances
// a cursor so sequential waits observe each event at most once; snapshot
// returns everything recorded so far.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
	cursor int
	signal chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{signal: make(chan struct{}, 1)}
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *eventRecorder) waitFor(t *testing.T, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		r.mu.Lock()
		for r.cursor < len(r.events) {
			event := r.events[r.cursor]
			r.cursor++
			if event.Kind() == kind {
				r.mu.Unlock()
				return event
			}
		}
		r.mu.Unlock()

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q event", kind)
		}
		select {
		case <-r.signal:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (r *eventRecorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func stateChanges(recorded []events.Event) []string {
	changes := []string{}
	for _, event := range recorded {
		if change, ok := event.(events.SessionStateChanged); ok {
			changes = append(changes, change.From+">"+change.To)
		}
	}
	return changes
}

// fakeTransport records outbound traffic and lets the test drive the
// session hooks. Marks are confirmed synchronously, like a transport whose
// playback keeps up with submission.
type fakeTransport struct {
	t       *testing.T
	started chan struct{}

	mu           sync.Mutex
	hooks        telephony.SessionHooks
	log          []string
	closeReasons []string
	disconnected bool
}

func newFakeTransport(t *testing.T) *fakeTransport {
	return &fakeTransport{t: t, started: make(chan struct{})}
}

func (f *fakeTransport) Start(ctx context.Context, hooks telephony.SessionHooks) error {
	f.mu.Lock()
	f.hooks = hooks
	f.mu.Unlock()
	close(f.started)
	return nil
}

func (f *fakeTransport) SendAudio(wire []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return telephony.ErrDisconnected
	}

	entry := "audio"
	if len(wire) > 0 {
		// Generators tag their chunks so the log shows which response the
		// audio belongs to.
		entry = "audio:" + string(wire[0])
	}
	f.log = append(f.log, entry)
	return nil
}

func (f *fakeTransport) SendMark(name string) error {
	f.mu.Lock()
	if f.disconnected {
		f.mu.Unlock()
		return telephony.ErrDisconnected
	}
	f.log = append(f.log, "mark")
	confirm := f.hooks.OnMarkPlayed
	f.mu.Unlock()

	if confirm != nil {
		confirm(name)
	}
	return nil
}

func (f *fakeTransport) SendTone(pcm []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return telephony.ErrDisconnected
	}
	f.log = append(f.log, "tone")
	return nil
}

func (f *fakeTransport) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return telephony.ErrDisconnected
	}
	f.log = append(f.log, "clear")
	return nil
}

func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeReasons = append(f.closeReasons, reason)
	return nil
}

func (f *fakeTransport) WireFormat() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}
}

func (f *fakeTransport) sessionHooks() telephony.SessionHooks {
	f.t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		f.t.Fatal("transport was never started")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hooks
}

func (f *fakeTransport) connect(info telephony.CallInfo) {
	if hook := f.sessionHooks().OnConnected; hook != nil {
		hook(info)
	}
}

func (f *fakeTransport) feed(frame audio.Frame) {
	if hook := f.sessionHooks().OnFrame; hook != nil {
		hook(frame)
	}
}

func (f *fakeTransport) pressDigit(digit string) {
	if hook := f.sessionHooks().OnDigit; hook != nil {
		hook(digit)
	}
}

func (f *fakeTransport) dropCall(reason string) {
	hooks := f.sessionHooks()
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()

	if hooks.OnDisconnected != nil {
		hooks.OnDisconnected(reason)
	}
}

func (f *fakeTransport) sentLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeTransport) lastCloseReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closeReasons) == 0 {
		return ""
	}
	return f.closeReasons[len(f.closeReasons)-1]
}

// fakeTranscriber settles one scripted final transcript per stream, in
// order, delivered synchronously from Finalize.
type fakeTranscriber struct {
	mu            sync.Mutex
	open          bool
	finals        []string
	interim       string
	sentInterim   bool
	withholdFinal bool
	options       speechtotext.TranscriptionOptions
}

func (f *fakeTranscriber) queueFinal(transcript string) {
	f.mu.Lock()
	f.finals = append(f.finals, transcript)
	f.mu.Unlock()
}

// withholdFinals makes every stream lose its final transcript; the interim
// text is delivered once per stream instead.
func (f *fakeTranscriber) withholdFinals(interim string) {
	f.mu.Lock()
	f.withholdFinal = true
	f.interim = interim
	f.mu.Unlock()
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		return fmt.Errorf("transcription already in progress")
	}

	options := speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	f.options = options
	f.open = true
	f.sentInterim = false
	return nil
}

func (f *fakeTranscriber) SendAudio(audio []byte) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return fmt.Errorf("no open transcription stream")
	}
	interim := ""
	if f.interim != "" && !f.sentInterim {
		f.sentInterim = true
		interim = f.interim
	}
	callback := f.options.InterimTranscriptCallback
	f.mu.Unlock()

	if interim != "" && callback != nil {
		callback(interim)
	}
	return nil
}

func (f *fakeTranscriber) Finalize(ctx context.Context) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return fmt.Errorf("no open transcription stream")
	}
	f.open = false
	if f.withholdFinal {
		f.mu.Unlock()
		return nil
	}

	final := ""
	if len(f.finals) > 0 {
		final = f.finals[0]
		f.finals = f.finals[1:]
	}
	callback := f.options.FinalTranscriptCallback
	f.mu.Unlock()

	if callback != nil {
		callback(final)
	}
	return nil
}

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	return nil
}

type contentChunk string

func (c contentChunk) FinishReason() *string { return nil }
func (c contentChunk) Content() string       { return string(c) }

type toolCallChunk struct{ call llms.ToolCall }

func (c toolCallChunk) FinishReason() *string   { return nil }
func (c toolCallChunk) ToolCall() llms.ToolCall { return c.call }

// fakeStream yields scripted chunks. With gate set it blocks before yielding
// chunk gateAt until released; with hold set it blocks after the last chunk
// until released. Context cancellation unblocks either wait.
type fakeStream struct {
	chunks []llms.StreamChunk
	err    error
	gateAt int
	gate   chan struct{}
	hold   chan struct{}
}

func gatedStream(gateAt int, chunks ...llms.StreamChunk) *fakeStream {
	return &fakeStream{chunks: chunks, gateAt: gateAt, gate: make(chan struct{})}
}

func textStream(chunks ...string) *fakeStream {
	stream := &fakeStream{gateAt: -1}
	for _, chunk := range chunks {
		stream.chunks = append(stream.chunks, contentChunk(chunk))
	}
	return stream
}

// heldStream yields its chunks immediately, then keeps the stream open until
// the consuming context is cancelled.
func heldStream(chunks ...string) *fakeStream {
	return textStream(chunks...).heldOpen()
}

func (s *fakeStream) heldOpen() *fakeStream {
	s.hold = make(chan struct{})
	return s
}

func (s *fakeStream) release()     { close(s.gate) }
func (s *fakeStream) releaseHold() { close(s.hold) }

func (s *fakeStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for i, chunk := range s.chunks {
			if s.gate != nil && i == s.gateAt {
				select {
				case <-s.gate:
				case <-ctx.Done():
					return
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if s.hold != nil {
			select {
			case <-s.hold:
			case <-ctx.Done():
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

// fakeLLM hands out queued streams in order and records the conversation
// history of every prompt.
type fakeLLM struct {
	mu           sync.Mutex
	streams      []*fakeStream
	prompts      [][]llms.Turn
	instructions string
}

func (l *fakeLLM) queueStream(stream *fakeStream) {
	l.mu.Lock()
	l.streams = append(l.streams, stream)
	l.mu.Unlock()
}

func (l *fakeLLM) PromptWithStream(ctx context.Context, prompt *string, opts ...llms.PromptOption) llms.Stream {
	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, options.Turns)
	l.instructions = options.Instructions
	if len(l.streams) == 0 {
		return &fakeStream{gateAt: -1}
	}
	stream := l.streams[0]
	l.streams = l.streams[1:]
	return stream
}

func (l *fakeLLM) promptHistory() [][]llms.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]llms.Turn(nil), l.prompts...)
}

func (l *fakeLLM) lastInstructions() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instructions
}

// fakeSpeech synthesizes one tagged audio chunk per SendText and closes
// marks over the text accumulated since the previous mark.
type fakeSpeech struct {
	mu         sync.Mutex
	openErr    error
	generators int
}

func (s *fakeSpeech) failOpens(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
}

func (s *fakeSpeech) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}

	options := texttospeech.TextToSpeechOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	s.generators++
	return &fakeSpeechGenerator{options: options, tag: byte('0' + s.generators%10)}, nil
}

type fakeSpeechGenerator struct {
	mu      sync.Mutex
	options texttospeech.TextToSpeechOptions
	tag     byte

	segment   strings.Builder
	ended     bool
	cancelled bool
	closed    bool
	reported  bool
}

func (g *fakeSpeechGenerator) SendText(text string) error {
	g.mu.Lock()
	if g.ended || g.cancelled || g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generator no longer accepts text")
	}
	g.segment.WriteString(text)
	callback := g.options.SpeechAudioCallback
	tag := g.tag
	g.mu.Unlock()

	if callback != nil {
		callback(bytes.Repeat([]byte{tag}, 320))
	}
	return nil
}

func (g *fakeSpeechGenerator) Mark() error {
	g.mu.Lock()
	if g.ended || g.cancelled || g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generator no longer accepts marks")
	}
	segment := g.segment.String()
	g.segment.Reset()
	callback := g.options.SpeechMarkCallback
	g.mu.Unlock()

	if callback != nil {
		callback(segment)
	}
	return nil
}

func (g *fakeSpeechGenerator) EndOfText() error {
	g.mu.Lock()
	if g.cancelled || g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generator is closed")
	}
	if g.ended {
		g.mu.Unlock()
		return nil
	}
	g.ended = true
	segment := g.segment.String()
	g.segment.Reset()
	report := !g.reported
	g.reported = true
	options := g.options
	g.mu.Unlock()

	if segment != "" && options.SpeechMarkCallback != nil {
		options.SpeechMarkCallback(segment)
	}
	if report && options.SpeechEndedCallback != nil {
		options.SpeechEndedCallback(texttospeech.SpeechEndedReport{})
	}
	return nil
}

func (g *fakeSpeechGenerator) Cancel() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generator is closed")
	}
	if g.cancelled {
		g.mu.Unlock()
		return nil
	}
	g.cancelled = true
	report := !g.reported
	g.reported = true
	options := g.options
	g.mu.Unlock()

	if report && options.SpeechEndedCallback != nil {
		options.SpeechEndedCallback(texttospeech.SpeechEndedReport{Cancelled: true})
	}
	return nil
}

func (g *fakeSpeechGenerator) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

type fakeClassifier struct {
	mu             sync.Mutex
	decision       interruptions.Decision
	err            error
	lastTranscript string
}

func (c *fakeClassifier) Classify(ctx context.Context, transcript string, opts ...interruptions.ClassifyOption) (interruptions.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTranscript = transcript
	return c.decision, c.err
}

type callHarness struct {
	transport   *fakeTransport
	transcriber *fakeTranscriber
	llm         *fakeLLM
	speech      *fakeSpeech
	recorder    *eventRecorder
	orch        *Orchestrator

	reports chan SessionReport
	done    chan error
	seq     uint64
}

// startCall assembles an orchestrator over the fakes and runs Orchestrate in
// the background. Hold-off and activation are shortened so utterances settle
// within a few 20ms frames.
func startCall(t *testing.T, ctx context.Context, opts ...OrchestratorOption) *callHarness {
	t.Helper()

	h := &callHarness{
		transport:   newFakeTransport(t),
		transcriber: &fakeTranscriber{},
		llm:         &fakeLLM{},
		speech:      &fakeSpeech{},
		recorder:    newEventRecorder(),
		reports:     make(chan SessionReport, 1),
		done:        make(chan error, 1),
	}

	options := append([]OrchestratorOption{
		WithTransport(h.transport),
		WithTranscriber(h.transcriber),
		WithLLM(h.llm),
		WithTextToSpeechClient(h.speech),
		WithHoldOff(2 * testFrameDuration),
		WithActivationWindow(2 * testFrameDuration),
	}, opts...)
	h.orch = NewOrchestrator(options...)

	go func() {
		h.done <- h.orch.Orchestrate(ctx,
			WithEventCallback(h.recorder.record),
			WithSessionEndedCallback(func(report SessionReport) {
				select {
				case h.reports <- report:
				default:
				}
			}),
		)
	}()

	return h
}

// speak feeds an utterance shape: speech frames followed by silence frames.
// Two silence frames cover the configured hold-off.
func (h *callHarness) speak(speechFrames, silenceFrames int) {
	for range speechFrames {
		h.seq++
		h.transport.feed(speechFrame(h.seq))
	}
	for range silenceFrames {
		h.seq++
		h.transport.feed(silenceFrame(h.seq))
	}
}

func (h *callHarness) end(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session never ended")
		return nil
	}
}

func (h *callHarness) report(t *testing.T) SessionReport {
	t.Helper()
	select {
	case report := <-h.reports:
		return report
	case <-time.After(5 * time.Second):
		t.Fatal("session report was never delivered")
		return SessionReport{}
	}
}

func expectTurns(t *testing.T, turns []ConversationTurn, expected ...string) {
	t.Helper()

	got := make([]string, 0, len(turns))
	for _, turn := range turns {
		got = append(got, fmt.Sprintf("%s %s %q", turn.Role, turn.Status, turn.Content))
	}

	if len(got) != len(expected) {
		t.Fatalf("expected %d turns, got %d:\n%s", len(expected), len(got), strings.Join(got, "\n"))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("turn %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func TestOrchestrateRequiresPipelineClients(t *testing.T) {
	transport := newFakeTransport(t)
	transcriber := &fakeTranscriber{}
	llm := &fakeLLM{}

	for _, tc := range []struct {
		name    string
		opts    []OrchestratorOption
		missing string
	}{
		{name: "transport", opts: nil, missing: "transport"},
		{name: "transcriber", opts: []OrchestratorOption{WithTransport(transport)}, missing: "speech-to-text"},
		{name: "llm", opts: []OrchestratorOption{WithTransport(transport), WithTranscriber(transcriber)}, missing: "llm"},
		{name: "text to speech", opts: []OrchestratorOption{WithTransport(transport), WithTranscriber(transcriber), WithLLM(llm)}, missing: "text-to-speech"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := NewOrchestrator(tc.opts...).Orchestrate(t.Context())
			if err == nil {
				t.Fatal("expected a configuration error")
			}
			if !strings.Contains(err.Error(), tc.missing) {
				t.Fatalf("expected error to name the missing %s client, got %q", tc.missing, err)
			}
		})
	}
}

func TestGreetingPlaysOnConnectAndYieldsTurn(t *testing.T) {
	h := startCall(t, t.Context(), WithGreeting("Hello! How can I help?"))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})

	connected := h.recorder.waitFor(t, events.KindCallConnected).(events.CallConnected)
	if connected.StreamID != "stream-1" || connected.CallID != "call-1" {
		t.Fatalf("expected call identifiers on the connected event, got %+v", connected)
	}

	spoken := h.recorder.waitFor(t, events.KindSpeechEnded).(events.SpeechEnded)
	if spoken.Transcript != "Hello! How can I help?" {
		t.Fatalf("expected the greeting to be confirmed played, got %q", spoken.Transcript)
	}

	h.orch.Close()
	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}

	report := h.report(t)
	if report.Reason != ReasonAssistantHangup {
		t.Fatalf("expected reason %q, got %q", ReasonAssistantHangup, report.Reason)
	}
	expectTurns(t, report.Turns, `assistant complete "Hello! How can I help?"`)

	changes := stateChanges(h.recorder.snapshot())
	expected := []string{"IDLE>THINKING", "THINKING>RESPONDING", "RESPONDING>IDLE", "IDLE>TERMINATED"}
	if strings.Join(changes, " ") != strings.Join(expected, " ") {
		t.Fatalf("expected state changes %v, got %v", expected, changes)
	}

	audioSent := 0
	for _, entry := range h.transport.sentLog() {
		if strings.HasPrefix(entry, "audio") {
			audioSent++
		}
	}
	if audioSent == 0 {
		t.Fatal("expected greeting audio to reach the transport")
	}
}

func TestCallerUtteranceDrivesResponse(t *testing.T) {
	h := startCall(t, t.Context(),
		WithInstructions("You are a friendly weather line."),
		WithConfirmationBeep(),
		WithTerminateDigit("#"),
	)
	h.transcriber.queueFinal("What is the weather like?")
	h.llm.queueStream(textStream("It's sunny out there."))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.recorder.waitFor(t, events.KindCallConnected)

	h.speak(3, 2)

	final := h.recorder.waitFor(t, events.KindTranscriptFinal).(events.TranscriptFinal)
	if final.Transcript != "What is the weather like?" || final.Degraded {
		t.Fatalf("expected the scripted final transcript, got %+v", final)
	}

	response := h.recorder.waitFor(t, events.KindResponseFinal).(events.ResponseFinal)
	if response.Response != "It's sunny out there." {
		t.Fatalf("expected the generated response, got %q", response.Response)
	}
	if instructions := h.llm.lastInstructions(); instructions != "You are a friendly weather line." {
		t.Fatalf("expected the configured instructions on the prompt, got %q", instructions)
	}

	h.transport.pressDigit("#")
	digit := h.recorder.waitFor(t, events.KindCallDigit).(events.CallDigit)
	if digit.Digit != "#" {
		t.Fatalf("expected the pressed digit on the event, got %q", digit.Digit)
	}

	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}

	report := h.report(t)
	if report.Reason != ReasonCallerHangup {
		t.Fatalf("expected reason %q, got %q", ReasonCallerHangup, report.Reason)
	}
	expectTurns(t, report.Turns,
		`caller complete "What is the weather like?"`,
		`assistant complete "It's sunny out there."`,
	)

	changes := stateChanges(h.recorder.snapshot())
	expected := []string{"IDLE>LISTENING", "LISTENING>THINKING", "THINKING>RESPONDING", "RESPONDING>IDLE", "IDLE>TERMINATED"}
	if strings.Join(changes, " ") != strings.Join(expected, " ") {
		t.Fatalf("expected state changes %v, got %v", expected, changes)
	}

	// The confirmation beep acknowledges the utterance before any response
	// audio plays.
	log := h.transport.sentLog()
	toneAt, audioAt := -1, -1
	for i, entry := range log {
		if entry == "tone" && toneAt < 0 {
			toneAt = i
		}
		if strings.HasPrefix(entry, "audio") && audioAt < 0 {
			audioAt = i
		}
	}
	if toneAt < 0 {
		t.Fatalf("expected a confirmation tone in the transport log %v", log)
	}
	if audioAt >= 0 && toneAt > audioAt {
		t.Fatalf("expected the tone before response audio, log %v", log)
	}
}

func TestBargeInCancelsPlaybackAndYieldsTurn(t *testing.T) {
	h := startCall(t, t.Context())
	h.transcriber.queueFinal("Tell me a story.")
	h.transcriber.queueFinal("Actually, please stop.")

	// The first response speaks one sentence and then stalls, so it is still
	// in flight when the caller barges in.
	h.llm.queueStream(heldStream("Sentence one."))
	h.llm.queueStream(textStream("Okay."))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)

	// The first sentence is synthesized and confirmed played while the
	// stream holds the response open.
	h.recorder.waitFor(t, events.KindSpeechMarkPlayed)

	h.speak(3, 0)
	h.recorder.waitFor(t, events.KindInterruptionDetected)

	change := h.recorder.waitFor(t, events.KindSessionStateChanged).(events.SessionStateChanged)
	if change.From != string(StateResponding) || change.To != string(StateListening) {
		t.Fatalf("expected the interruption to yield the turn, got %s>%s", change.From, change.To)
	}

	h.speak(0, 2)
	h.recorder.waitFor(t, events.KindResponseFinal)

	h.orch.Close()
	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}

	expectTurns(t, h.report(t).Turns,
		`caller complete "Tell me a story."`,
		`assistant truncated "Sentence one."`,
		`caller complete "Actually, please stop."`,
		`assistant complete "Okay."`,
	)

	// Nothing from the cancelled response may reach the wire after the
	// transport buffer was cleared.
	log := h.transport.sentLog()
	clearAt := -1
	for i, entry := range log {
		if entry == "clear" {
			if clearAt >= 0 {
				t.Fatalf("expected a single clear, log %v", log)
			}
			clearAt = i
		}
	}
	if clearAt < 0 {
		t.Fatalf("expected the transport buffer to be cleared, log %v", log)
	}
	for _, entry := range log[clearAt:] {
		if entry == "audio:1" {
			t.Fatalf("cancelled response audio reached the transport after clear, log %v", log)
		}
	}

	// The follow-up response sees the truncated turn in its prompt.
	prompts := h.llm.promptHistory()
	last := prompts[len(prompts)-1]
	foundTruncated := false
	for _, turn := range last {
		if turn.Status == llms.TurnStatusTruncated {
			foundTruncated = true
		}
	}
	if !foundTruncated {
		t.Fatalf("expected the truncated turn in the follow-up prompt, got %+v", last)
	}
}

func TestDisconnectDuringResponseDropsAssistantTurn(t *testing.T) {
	h := startCall(t, t.Context())
	h.transcriber.queueFinal("Hang on, someone is at the door.")
	h.llm.queueStream(gatedStream(0, contentChunk("No problem, take your time.")))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)
	h.recorder.waitFor(t, events.KindResponseStarted)

	h.transport.dropCall(telephony.DisconnectReasonHangup)

	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean return after the caller hung up, got %v", err)
	}

	report := h.report(t)
	if report.Reason != ReasonCallerHangup {
		t.Fatalf("expected reason %q, got %q", ReasonCallerHangup, report.Reason)
	}
	expectTurns(t, report.Turns, `caller complete "Hang on, someone is at the door."`)

	for _, event := range h.recorder.snapshot() {
		if turn, ok := event.(events.TurnAppended); ok && turn.Role == events.TurnRoleAssistant {
			t.Fatalf("expected no assistant turn for the unfinished response, got %+v", turn)
		}
	}
}

func TestDuplicateFinalSettlesOnce(t *testing.T) {
	o := NewOrchestrator(
		WithTransport(newFakeTransport(t)),
		WithTranscriber(&fakeTranscriber{}),
		WithLLM(&fakeLLM{}),
		WithTextToSpeechClient(&fakeSpeech{}),
	)
	o.callbacks = orchestrateCallbacks{
		onEvent:        func(events.Event) {},
		onSessionEnded: func(SessionReport) {},
	}
	o.session = &CallSession{ID: "session-1", State: StateListening}
	o.settledUtterances = map[string]struct{}{}
	o.utteranceStarts = map[string]time.Time{}
	// Keeps the handler from launching a response after the caller turn.
	o.disconnected.Store(true)

	final := transcriptFinal{utteranceID: "utterance-1", transcript: "Hello there."}
	o.handleTranscriptFinal(final)
	o.handleTranscriptFinal(final)

	expectTurns(t, o.session.Turns, `caller complete "Hello there."`)
}

func TestDegradedFinalizeFallsBackToInterim(t *testing.T) {
	h := startCall(t, t.Context())
	h.transcriber.withholdFinals("I think my package is lost")
	h.llm.queueStream(textStream("Let me check on that."))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)

	final := h.recorder.waitFor(t, events.KindTranscriptFinal).(events.TranscriptFinal)
	if !final.Degraded {
		t.Fatal("expected the lost final to settle degraded")
	}
	if final.Transcript != "I think my package is lost" {
		t.Fatalf("expected the last interim to stand in for the final, got %q", final.Transcript)
	}

	// A degraded transcript still drives a normal response.
	h.recorder.waitFor(t, events.KindResponseFinal)

	h.orch.Close()
	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}
	expectTurns(t, h.report(t).Turns,
		`caller complete "I think my package is lost"`,
		`assistant complete "Let me check on that."`,
	)
}

func TestHangUpToolEndsCallAfterPlayout(t *testing.T) {
	h := startCall(t, t.Context())
	h.transcriber.queueFinal("That's everything, thanks.")

	toolRound := textStream()
	toolRound.chunks = append(toolRound.chunks, toolCallChunk{call: llms.ToolCall{ID: "call-1", Name: "hang_up"}})
	h.llm.queueStream(toolRound)
	h.llm.queueStream(textStream("Goodbye!"))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)

	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}

	report := h.report(t)
	if report.Reason != ReasonAssistantHangup {
		t.Fatalf("expected reason %q, got %q", ReasonAssistantHangup, report.Reason)
	}
	expectTurns(t, report.Turns,
		`caller complete "That's everything, thanks."`,
		`assistant complete "Goodbye!"`,
	)
	if reason := h.transport.lastCloseReason(); reason != ReasonAssistantHangup {
		t.Fatalf("expected the transport closed with %q, got %q", ReasonAssistantHangup, reason)
	}

	// The goodbye is spoken before the line goes down.
	audioSent := false
	for _, entry := range h.transport.sentLog() {
		if strings.HasPrefix(entry, "audio") {
			audioSent = true
		}
	}
	if !audioSent {
		t.Fatal("expected the goodbye to play before hanging up")
	}

	// The re-prompt after the tool round carries the executed call.
	prompts := h.llm.promptHistory()
	if len(prompts) != 2 {
		t.Fatalf("expected two prompts, got %d", len(prompts))
	}
	rePrompt := prompts[1]
	lastTurn := rePrompt[len(rePrompt)-1]
	if len(lastTurn.ToolCalls) != 1 || lastTurn.ToolCalls[0].Response == "" {
		t.Fatalf("expected the executed hang_up call in the re-prompt, got %+v", lastTurn)
	}
}

func TestSynthesisFailuresTerminateAfterThreshold(t *testing.T) {
	h := startCall(t, t.Context(), WithFailureThreshold(2))
	h.speech.failOpens(errors.New("synthesis unavailable"))
	h.transcriber.queueFinal("Can you hear me?")
	h.llm.queueStream(textStream("Loud and clear."))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)

	err := h.end(t)
	if err == nil {
		t.Fatal("expected the session to surface the pipeline failure")
	}
	if !strings.Contains(err.Error(), "synthesis unavailable") {
		t.Fatalf("expected the synthesis failure in the session error, got %v", err)
	}

	report := h.report(t)
	if report.Reason != ReasonError {
		t.Fatalf("expected reason %q, got %q", ReasonError, report.Reason)
	}
	// Nothing was ever spoken, so no assistant turn is recorded, truncated
	// or otherwise.
	expectTurns(t, report.Turns, `caller complete "Can you hear me?"`)

	started := 0
	for _, event := range h.recorder.snapshot() {
		if event.Kind() == events.KindResponseStarted {
			started++
		}
	}
	if started != 2 {
		t.Fatalf("expected the original response and one recovery attempt, got %d starts", started)
	}
}

func TestGenerationFailureSpeaksApology(t *testing.T) {
	h := startCall(t, t.Context())
	h.transcriber.queueFinal("What's my balance?")

	failing := textStream()
	failing.err = errors.New("model overloaded")
	h.llm.queueStream(failing)

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)

	// The failed response never spoke, so the first completed speech is the
	// scripted apology.
	h.recorder.waitFor(t, events.KindSpeechEnded)

	h.orch.Close()
	if err := h.end(t); err != nil {
		t.Fatalf("expected the session to recover from a single failure, got %v", err)
	}

	expectTurns(t, h.report(t).Turns,
		`caller complete "What's my balance?"`,
		`assistant complete "I'm sorry, I had trouble understanding. Could you please repeat that?"`,
	)

	started := 0
	for _, event := range h.recorder.snapshot() {
		if event.Kind() == events.KindResponseStarted {
			started++
		}
	}
	if started != 2 {
		t.Fatalf("expected the failed response and the apology, got %d starts", started)
	}
}

func TestClassifiedResumeContinuesPlayback(t *testing.T) {
	classifier := &fakeClassifier{decision: interruptions.DecisionResume}
	h := startCall(t, t.Context(), WithInterruptionClassifier(classifier))
	h.transcriber.queueFinal("Can you check my order?")
	h.transcriber.queueFinal("mhm go on")

	stream := gatedStream(1, contentChunk("One moment please. "), contentChunk("All done now."))
	h.llm.queueStream(stream)

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)
	h.recorder.waitFor(t, events.KindSpeechMarkPlayed)

	h.speak(3, 2)
	h.recorder.waitFor(t, events.KindInterruptionDetected)

	classified := h.recorder.waitFor(t, events.KindInterruptionClassified).(events.InterruptionClassified)
	if classified.Decision != string(interruptions.DecisionResume) {
		t.Fatalf("expected a resume decision, got %q", classified.Decision)
	}
	if classified.Transcript != "mhm go on" {
		t.Fatalf("expected the overlap transcript on the event, got %q", classified.Transcript)
	}

	stream.release()
	h.recorder.waitFor(t, events.KindResponseFinal)

	h.orch.Close()
	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}

	// The backchannel neither takes the turn nor truncates the response.
	expectTurns(t, h.report(t).Turns,
		`caller complete "Can you check my order?"`,
		`assistant complete "One moment please. All done now."`,
	)
	for _, change := range stateChanges(h.recorder.snapshot()) {
		if change == "RESPONDING>LISTENING" {
			t.Fatal("expected playback to keep the turn after a resume decision")
		}
	}
	for _, entry := range h.transport.sentLog() {
		if entry == "clear" {
			t.Fatal("expected no transport clear on a resumed response")
		}
	}
}

func TestClassifierFailureYieldsTurnToCaller(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("classifier unavailable")}
	h := startCall(t, t.Context(), WithInterruptionClassifier(classifier))
	h.transcriber.queueFinal("Can you check my order?")
	h.transcriber.queueFinal("Please stop now.")

	h.llm.queueStream(heldStream("One moment please. "))
	h.llm.queueStream(textStream("Okay, stopping."))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)
	h.recorder.waitFor(t, events.KindSpeechMarkPlayed)

	h.speak(3, 2)
	h.recorder.waitFor(t, events.KindInterruptionDetected)

	classified := h.recorder.waitFor(t, events.KindInterruptionClassified).(events.InterruptionClassified)
	if classified.Decision != string(interruptions.DecisionCancel) {
		t.Fatalf("expected a failed classification to cancel, got %q", classified.Decision)
	}

	h.recorder.waitFor(t, events.KindResponseFinal)

	h.orch.Close()
	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}

	expectTurns(t, h.report(t).Turns,
		`caller complete "Can you check my order?"`,
		`assistant truncated "One moment please."`,
		`caller complete "Please stop now."`,
		`assistant complete "Okay, stopping."`,
	)
}

func TestPlaybackWithoutBargeInDropsOverlapSpeech(t *testing.T) {
	h := startCall(t, t.Context(), WithoutBargeIn())
	h.transcriber.queueFinal("What's the weather?")
	h.transcriber.queueFinal("Thanks for the update.")

	answer := gatedStream(0, contentChunk("Here is your answer.")).heldOpen()
	h.llm.queueStream(answer)
	h.llm.queueStream(textStream("You're welcome!"))

	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.speak(3, 2)
	h.recorder.waitFor(t, events.KindResponseStarted)

	// The caller starts a fresh utterance before any response audio plays;
	// it opens normally.
	h.speak(2, 0)
	h.recorder.waitFor(t, events.KindUtteranceStarted)

	answer.release()
	h.recorder.waitFor(t, events.KindSpeechMarkPlayed)

	// Speech overlapping playback abandons the open utterance instead of
	// interrupting.
	h.speak(1, 0)
	h.recorder.waitFor(t, events.KindUtteranceAborted)

	answer.releaseHold()
	h.recorder.waitFor(t, events.KindResponseFinal)

	// The transcription stream was released; the next utterance transcribes
	// normally.
	h.speak(3, 2)
	h.recorder.waitFor(t, events.KindResponseFinal)

	h.orch.Close()
	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean session end, got %v", err)
	}

	expectTurns(t, h.report(t).Turns,
		`caller complete "What's the weather?"`,
		`assistant complete "Here is your answer."`,
		`caller complete "Thanks for the update."`,
		`assistant complete "You're welcome!"`,
	)
	for _, event := range h.recorder.snapshot() {
		if event.Kind() == events.KindInterruptionDetected {
			t.Fatal("expected no interruption detection with barge-in disabled")
		}
	}
}

func TestContextCancelTerminatesSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := startCall(t, ctx)
	h.transport.connect(telephony.CallInfo{StreamID: "stream-1", CallID: "call-1"})
	h.recorder.waitFor(t, events.KindCallConnected)

	cancel()

	if err := h.end(t); err != nil {
		t.Fatalf("expected a clean return on context cancellation, got %v", err)
	}
	if report := h.report(t); report.Reason != ReasonTimeout {
		t.Fatalf("expected reason %q, got %q", ReasonTimeout, report.Reason)
	}
}
