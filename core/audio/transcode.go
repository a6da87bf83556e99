package audio

import "fmt"

// FormatError reports an audio payload that does not match the negotiated
// format. Offending frames are dropped by the caller; the session continues.
type FormatError struct {
	Encoding EncodingInfo
	Size     int
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("audio: bad %s frame (%d bytes): %s", e.Encoding.Format.Name(), e.Size, e.Reason)
}

// Transcoder converts audio frames from a source encoding to a target
// encoding, resampling as needed. It is stateful (the resampler carries
// fractional positions across frames): use one instance per stream direction
// per session, never shared.
type Transcoder struct {
	source EncodingInfo
	target EncodingInfo

	// frameBytes, when non-zero, is the exact source payload size accepted
	// by Transcode. Telephony wire frames have a fixed size; streams from
	// synthesis services do not.
	frameBytes int

	resampler *Resampler
}

// NewTranscoder creates a transcoder for one stream direction. A non-zero
// frameBytes makes Transcode reject any payload of a different size with a
// FormatError.
func NewTranscoder(source, target EncodingInfo, frameBytes int) *Transcoder {
	return &Transcoder{
		source:     source,
		target:     target,
		frameBytes: frameBytes,
		resampler:  NewResampler(source.SampleRate, target.SampleRate),
	}
}

// Transcode converts one source payload into target-encoded bytes. The
// returned slice may be empty while the resampler accumulates enough input.
func (t *Transcoder) Transcode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, &FormatError{Encoding: t.source, Size: 0, Reason: "empty payload"}
	}
	if t.frameBytes != 0 && len(frame) != t.frameBytes {
		return nil, &FormatError{
			Encoding: t.source,
			Size:     len(frame),
			Reason:   fmt.Sprintf("expected exactly %d bytes", t.frameBytes),
		}
	}

	samples, err := t.decode(frame)
	if err != nil {
		return nil, err
	}

	samples = t.resampler.Resample(samples)

	return t.encode(samples)
}

// Reset drops resampler state, e.g. after a cancelled synthesis stream.
func (t *Transcoder) Reset() {
	t.resampler.Reset()
}

// Source returns the encoding Transcode accepts.
func (t *Transcoder) Source() EncodingInfo { return t.source }

// Target returns the encoding Transcode produces.
func (t *Transcoder) Target() EncodingInfo { return t.target }

func (t *Transcoder) decode(frame []byte) ([]int16, error) {
	switch t.source.Format {
	case EncodingMulaw:
		return DecodeMulaw(frame), nil
	case EncodingALaw:
		return DecodeALaw(frame), nil
	case EncodingLinear16:
		if len(frame)%2 != 0 {
			return nil, &FormatError{Encoding: t.source, Size: len(frame), Reason: "odd byte count for 16-bit samples"}
		}
		return BytesToSamples(frame), nil
	}
	return nil, &FormatError{Encoding: t.source, Size: len(frame), Reason: "unsupported encoding"}
}

func (t *Transcoder) encode(samples []int16) ([]byte, error) {
	switch t.target.Format {
	case EncodingMulaw:
		return EncodeMulaw(samples), nil
	case EncodingALaw:
		return EncodeALaw(samples), nil
	case EncodingLinear16:
		return SamplesToBytes(samples), nil
	}
	return nil, &FormatError{Encoding: t.target, Size: len(samples), Reason: "unsupported encoding"}
}
