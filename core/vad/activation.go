package vad

import (
	"time"

	"github.com/koscakluka/lina-core/core/audio"
)

// DefaultActivation is the sustained-speech window used for barge-in
// detection. Much shorter than the segmenter hold-off: reacting to an
// interrupting caller has to be fast, and one noisy frame must not cut the
// assistant off.
const DefaultActivation = 100 * time.Millisecond

// Activation detects sustained speech within a short window. Unlike the
// Segmenter it applies no hold-off: the first time accumulated consecutive
// speech reaches the window it fires, then stays quiet until Reset.
type Activation struct {
	window time.Duration

	speech time.Duration
	fired  bool
}

// NewActivation creates a detector; a non-positive window falls back to
// DefaultActivation.
func NewActivation(window time.Duration) *Activation {
	if window <= 0 {
		window = DefaultActivation
	}
	return &Activation{window: window}
}

// Push advances the detector with the next frame's classification and
// reports whether the detector newly fired on this frame.
func (a *Activation) Push(frame audio.Frame, classification Classification) bool {
	if !classification.Known || !classification.Speech {
		a.speech = 0
		return false
	}

	a.speech += frame.Duration()
	if !a.fired && a.speech >= a.window {
		a.fired = true
		return true
	}
	return false
}

// Reset re-arms the detector for the next response stream.
func (a *Activation) Reset() {
	a.speech = 0
	a.fired = false
}
