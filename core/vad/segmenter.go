package vad

import (
	"time"

	"github.com/koscakluka/lina-core/core/audio"
)

// State is the segmenter's position in the two-state machine.
type State string

const (
	StateSilent   State = "silent"
	StateSpeaking State = "speaking"
)

// DefaultHoldOff is how much continuous non-speech ends an utterance.
// Shorter values fragment sentences on natural pauses; longer values add
// end-of-turn latency. Tunable, not a fixed invariant.
const DefaultHoldOff = 500 * time.Millisecond

// Segmenter turns a classified frame stream into utterance boundaries. It
// transitions SILENT to SPEAKING on the first speech frame and back only
// after the hold-off of continuous non-speech, forwarding every frame seen
// while SPEAKING to the speech-frame callback. Hold-off is measured in frame
// time, not wall time, so the machine is deterministic under replay.
//
// A Segmenter serves a single session direction and must be driven from one
// goroutine.
type Segmenter struct {
	classifier Classifier
	holdOff    time.Duration

	state     State
	silence   time.Duration
	startedAt time.Time

	onUtteranceStarted func(time.Time)
	onUtteranceEnded   func(time.Time)
	onSpeechFrame      func(audio.Frame)
}

// SegmenterOption configures a Segmenter.
type SegmenterOption func(*Segmenter)

// WithHoldOff overrides the end-of-utterance silence duration.
func WithHoldOff(d time.Duration) SegmenterOption {
	return func(s *Segmenter) {
		if d > 0 {
			s.holdOff = d
		}
	}
}

// WithUtteranceStartedCallback registers the start-of-speech handler.
func WithUtteranceStartedCallback(callback func(timestamp time.Time)) SegmenterOption {
	return func(s *Segmenter) {
		if callback != nil {
			s.onUtteranceStarted = callback
		}
	}
}

// WithUtteranceEndedCallback registers the end-of-speech handler, invoked
// once the hold-off elapses.
func WithUtteranceEndedCallback(callback func(timestamp time.Time)) SegmenterOption {
	return func(s *Segmenter) {
		if callback != nil {
			s.onUtteranceEnded = callback
		}
	}
}

// WithSpeechFrameCallback registers the handler fed every frame observed
// while SPEAKING, classified as speech or not. This is the transcription
// feed.
func WithSpeechFrameCallback(callback func(frame audio.Frame)) SegmenterOption {
	return func(s *Segmenter) {
		if callback != nil {
			s.onSpeechFrame = callback
		}
	}
}

// NewSegmenter creates a segmenter in the SILENT state.
func NewSegmenter(classifier Classifier, opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		classifier: classifier,
		holdOff:    DefaultHoldOff,
		state:      StateSilent,

		onUtteranceStarted: func(time.Time) {},
		onUtteranceEnded:   func(time.Time) {},
		onSpeechFrame:      func(audio.Frame) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push advances the machine with the next frame in stream order.
func (s *Segmenter) Push(frame audio.Frame) {
	classification := s.classifier.Classify(frame.Samples())
	speech := classification.Known && classification.Speech

	switch s.state {
	case StateSilent:
		if !speech {
			return
		}
		s.state = StateSpeaking
		s.silence = 0
		s.startedAt = time.Now()
		s.onUtteranceStarted(s.startedAt)
		s.onSpeechFrame(frame)

	case StateSpeaking:
		s.onSpeechFrame(frame)

		if speech {
			s.silence = 0
			return
		}

		s.silence += frame.Duration()
		if s.silence >= s.holdOff {
			s.state = StateSilent
			s.silence = 0
			s.onUtteranceEnded(time.Now())
		}
	}
}

// Abort force-closes an open utterance without emitting an end event, used
// when an interruption replaces the open utterance with a fresh one. It
// reports whether an utterance was open.
func (s *Segmenter) Abort() bool {
	if s.state != StateSpeaking {
		return false
	}
	s.state = StateSilent
	s.silence = 0
	return true
}

// State reports the current machine state.
func (s *Segmenter) State() State {
	return s.state
}
