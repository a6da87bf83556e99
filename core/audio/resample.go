package audio

// Resampler converts a sample stream from one rate to another using linear
// interpolation. It carries the fractional read position and unconsumed tail
// samples across calls, so a steady stream of fixed-duration input frames
// produces a steady stream of fixed-duration output frames with no drift.
// One instance per stream direction; not safe for concurrent use.
type Resampler struct {
	fromRate int
	toRate   int

	step    float64
	pos     float64
	pending []int16
}

// NewResampler creates a resampler for one stream direction.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{
		fromRate: fromRate,
		toRate:   toRate,
		step:     float64(fromRate) / float64(toRate),
	}
}

// Resample converts the next chunk of the stream. Equal rates pass the input
// through untouched.
func (r *Resampler) Resample(samples []int16) []int16 {
	if r.fromRate == r.toRate {
		return samples
	}
	if len(samples) == 0 && len(r.pending) == 0 {
		return nil
	}

	src := samples
	if len(r.pending) > 0 {
		src = append(r.pending, samples...)
	}

	out := make([]int16, 0, int(float64(len(src))/r.step)+1)
	for {
		idx := int(r.pos)
		if idx+1 >= len(src) {
			break
		}
		frac := r.pos - float64(idx)
		s1 := float64(src[idx])
		s2 := float64(src[idx+1])
		out = append(out, int16(s1+frac*(s2-s1)))
		r.pos += r.step
	}

	// Keep the still-needed tail so interpolation can continue seamlessly
	// into the next chunk.
	consumed := int(r.pos)
	if consumed > len(src)-1 {
		consumed = len(src) - 1
	}
	if consumed < 0 {
		consumed = 0
	}
	r.pending = append(r.pending[:0:0], src[consumed:]...)
	r.pos -= float64(consumed)

	return out
}

// Reset drops carried state, e.g. when a stream is cancelled and a new one
// starts on the same direction.
func (r *Resampler) Reset() {
	r.pending = nil
	r.pos = 0
}
