// Package speechtotext defines the contract between the orchestrator and
// streaming transcription providers.
//
// A transcription stream covers exactly one utterance: it is opened when the
// segmenter reports speech, fed every captured frame, and finalized when the
// utterance ends. Providers report text through callbacks configured with the
// options below and must deliver exactly one final transcript per stream,
// even when the provider connection degrades mid-utterance.
package speechtotext

import "github.com/koscakluka/lina-core/core/audio"

type TranscriptionOptions struct {
	// InterimTranscriptCallback receives the running transcript of the open
	// utterance (all finalized segments plus the speculative tail). It may be
	// called many times and later calls supersede earlier ones.
	InterimTranscriptCallback func(transcript string)
	// FinalTranscriptCallback receives the settled transcript, exactly once
	// per stream. The transcript is empty when nothing was recognized.
	FinalTranscriptCallback func(transcript string)
	// RecoverableErrorCallback reports provider faults that the stream
	// absorbed (socket drop, finalize timeout). When it fires, the final
	// transcript was assembled from the text known so far.
	RecoverableErrorCallback func(err error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithInterimTranscriptCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptCallback = callback
	}
}

func WithFinalTranscriptCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.FinalTranscriptCallback = callback
	}
}

func WithRecoverableErrorCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.RecoverableErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
