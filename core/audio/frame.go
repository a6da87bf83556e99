package audio

import "time"

// Frame is one fixed-duration chunk of audio flowing through the pipeline.
// Frames are immutable once produced; ownership passes from stage to stage,
// never shared. Seq increases monotonically within one session direction.
type Frame struct {
	Seq      uint64
	Encoding EncodingInfo
	Data     []byte
}

// Samples returns the frame's audio as linear samples, expanding companded
// formats as needed.
func (f Frame) Samples() []int16 {
	switch f.Encoding.Format {
	case EncodingMulaw:
		return DecodeMulaw(f.Data)
	case EncodingALaw:
		return DecodeALaw(f.Data)
	case EncodingLinear16:
		return BytesToSamples(f.Data)
	}
	return nil
}

// Duration returns the frame's play time.
func (f Frame) Duration() time.Duration {
	return f.Encoding.Duration(len(f.Data))
}
