package audio

import "time"

const (
	// DefaultWireSampleRate is the narrowband telephony rate.
	DefaultWireSampleRate = 8000
	// DefaultPCMSampleRate is the rate recognition services are fed at.
	DefaultPCMSampleRate = 16000
)

// WireEncoding returns the wire contract telephony providers negotiate by
// default: 8-bit mu-law, 8kHz, mono.
func WireEncoding() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultWireSampleRate, Format: EncodingMulaw}
}

// PCMEncoding returns the linear format handed to recognition services.
func PCMEncoding() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultPCMSampleRate, Format: EncodingLinear16}
}

// EncodingInfo describes one audio stream's format: the sample rate and the
// byte-level encoding of each sample.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// SilenceValue is the byte that encodes digital silence in this format, used
// to pad partial frames.
func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

// BytesIn returns how many bytes of audio cover the given duration.
func (e EncodingInfo) BytesIn(d time.Duration) int {
	return e.SamplesIn(d) * e.Format.ByteSize()
}

// SamplesIn returns how many samples cover the given duration.
func (e EncodingInfo) SamplesIn(d time.Duration) int {
	return int(d * time.Duration(e.SampleRate) / time.Second)
}

// Duration returns the playback time of n bytes in this format.
func (e EncodingInfo) Duration(n int) time.Duration {
	if e.SampleRate == 0 || e.Format.ByteSize() <= 0 {
		return 0
	}
	return time.Duration(n/e.Format.ByteSize()) * time.Second / time.Duration(e.SampleRate)
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

// ByteSize returns the width of one encoded sample, or -1 for unknown
// formats.
func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
