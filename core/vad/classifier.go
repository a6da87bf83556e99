// Package vad segments a continuous stream of audio frames into utterances:
// contiguous spans of caller speech bounded by silence longer than a
// configurable hold-off.
package vad

import "github.com/koscakluka/lina-core/core/audio"

// Classification is one frame's speech verdict. Known is false when the
// classifier could not score the frame at all; such frames count as
// non-speech for hold-off purposes but are still forwarded downstream.
type Classification struct {
	Speech bool
	Known  bool
}

// Classifier decides whether a frame contains speech. Implementations range
// from a plain energy threshold to model-backed detectors.
type Classifier interface {
	Classify(samples []int16) Classification
}

// DefaultEnergyThreshold is the RMS level (in sample units) above which a
// telephone-line frame is considered speech. Line noise sits well below it,
// normal speech in the hundreds-to-thousands.
const DefaultEnergyThreshold = 300

// EnergyClassifier classifies frames by RMS energy against a fixed
// threshold.
type EnergyClassifier struct {
	threshold float64
}

// NewEnergyClassifier creates an energy classifier. A zero or negative
// threshold falls back to DefaultEnergyThreshold.
func NewEnergyClassifier(threshold float64) *EnergyClassifier {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyClassifier{threshold: threshold}
}

func (c *EnergyClassifier) Classify(samples []int16) Classification {
	if len(samples) == 0 {
		return Classification{}
	}
	return Classification{Speech: audio.RMS(samples) >= c.threshold, Known: true}
}
