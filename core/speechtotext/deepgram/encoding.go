package deepgram

import (
	"fmt"
	"slices"

	"github.com/koscakluka/lina-core/core/audio"
)

// encodingInfo is the encoding pair the live-transcription query accepts.
type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

var listenSampleRates = []int{8000, 16000, 24000, 32000, 48000}

// convertEncoding maps the session's encoding onto what the listen API
// supports. The companded formats are only defined at telephone rate.
func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	if !slices.Contains(listenSampleRates, encoding.SampleRate) {
		return nil, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	var format encodingFormat
	switch encoding.Format {
	case audio.EncodingLinear16:
		format = encodingLinear16
	case audio.EncodingALaw:
		format = encodingALaw
	case audio.EncodingMulaw:
		format = encodingMulaw
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}
	if format != encodingLinear16 && encoding.SampleRate != 8000 {
		return nil, fmt.Errorf("%s audio must be sampled at 8000 Hz, got %d", format, encoding.SampleRate)
	}

	return &encodingInfo{SampleRate: encoding.SampleRate, Format: format}, nil
}
