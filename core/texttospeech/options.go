package texttospeech

import "github.com/koscakluka/lina-core/core/audio"

type TextToSpeechOptions struct {
	// SpeechAudioCallback receives synthesized audio as it arrives.
	SpeechAudioCallback func(audio []byte)
	// SpeechMarkCallback fires once per mark, in order, after the speech for
	// the text behind the mark has been delivered. It receives the text
	// segment the mark closed.
	SpeechMarkCallback func(segment string)
	// SpeechEndedCallback fires once synthesis for all submitted text has
	// finished, or was cut short.
	SpeechEndedCallback func(SpeechEndedReport)
	// ErrorCallback receives errors the generator cannot recover from.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type TextToSpeechOption func(*TextToSpeechOptions)

func WithSpeechAudioCallback(callback func([]byte)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechAudioCallback = callback }
}

func WithSpeechMarkCallback(callback func(segment string)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechMarkCallback = callback }
}

func WithSpeechEndedCallback(callback func(SpeechEndedReport)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.ErrorCallback = callback }
}

// WithEncodingInfo sets the format synthesized audio is requested in.
// Zero-valued encodings are ignored so provider defaults survive.
func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// SpeechGenerator synthesizes one response worth of speech.
type SpeechGenerator interface {
	// SendText queues text for synthesis. Speech comes back in submission
	// order.
	//
	// SendText errors after EndOfText, Cancel or Close.
	SendText(string) error
	// Mark records the current point in the submitted text. The mark callback
	// fires only once everything before it has been synthesized, though not
	// necessarily at the exact text position.
	//
	// Mark errors after EndOfText, Cancel or Close.
	Mark() error
	// EndOfText announces that no more text is coming; the generator closes
	// itself after the remaining speech is delivered.
	//
	// EndOfText errors after Cancel or Close and is idempotent.
	EndOfText() error
	// Cancel drops whatever synthesis the provider still has buffered and
	// closes the generator.
	//
	// Cancel errors after Close and is idempotent.
	Cancel() error
	// Close shuts the generator down; no speech is delivered afterwards.
	// Idempotent.
	Close() error
}

// SpeechEndedReport describes how speech generation finished.
type SpeechEndedReport struct {
	// Cancelled is true when generation was cut short instead of running out
	// of text.
	Cancelled bool
}
