package audio

import (
	"math"
	"time"
)

// Tone synthesizes a sine wave as linear samples, used for in-band signal
// tones such as the utterance-confirmation beep.
func Tone(frequency float64, duration time.Duration, amplitude int16, sampleRate int) []int16 {
	n := int(duration * time.Duration(sampleRate) / time.Second)
	samples := make([]int16, n)
	step := 2 * math.Pi * frequency / float64(sampleRate)
	for i := range samples {
		samples[i] = int16(float64(amplitude) * math.Sin(step*float64(i)))
	}
	return samples
}
