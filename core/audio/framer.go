package audio

// Framer slices an arbitrarily-chunked byte stream into exact wire frames,
// buffering partial frames across calls. Telephony providers expect every
// outbound frame to be the same size, while synthesis services emit chunks
// of whatever length their encoder produced.
type Framer struct {
	frameBytes int
	silence    byte
	buf        []byte
}

// NewFramer creates a framer producing frames of frameBytes, padding flushed
// tails with the encoding's silence value.
func NewFramer(frameBytes int, encoding EncodingInfo) *Framer {
	return &Framer{
		frameBytes: frameBytes,
		silence:    encoding.SilenceValue(),
	}
}

// Push appends data to the framer and returns all complete frames now
// available, in order. Each returned frame is its own allocation so callers
// can hand frames off without copying.
func (f *Framer) Push(data []byte) [][]byte {
	f.buf = append(f.buf, data...)

	var frames [][]byte
	for len(f.buf) >= f.frameBytes {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.buf[:f.frameBytes])
		frames = append(frames, frame)
		f.buf = f.buf[f.frameBytes:]
	}
	return frames
}

// Flush returns the buffered partial frame padded to full size with silence,
// or nil if nothing is buffered. Used at the end of a synthesis stream so
// the last syllable is not held back.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}

	frame := make([]byte, f.frameBytes)
	n := copy(frame, f.buf)
	for i := n; i < f.frameBytes; i++ {
		frame[i] = f.silence
	}
	f.buf = f.buf[:0]
	return frame
}

// Reset discards any buffered partial frame, e.g. on stream cancellation.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// Buffered reports how many bytes are waiting for frame completion.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// SilenceFrame returns one whole frame of silence.
func (f *Framer) SilenceFrame() []byte {
	frame := make([]byte, f.frameBytes)
	for i := range frame {
		frame[i] = f.silence
	}
	return frame
}
