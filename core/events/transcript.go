package events

const (
	// KindTranscriptInterim identifies mutable transcript snapshots.
	KindTranscriptInterim Kind = "transcript.interim"
	// KindTranscriptFinal identifies the terminal transcript for an utterance.
	KindTranscriptFinal Kind = "transcript.final"
)

// TranscriptInterim carries a mutable transcript snapshot for the open
// utterance. Each update replaces the previous one.
type TranscriptInterim struct {
	Base
	UtteranceID string
	Transcript  string
}

// NewTranscriptInterim creates an interim transcript event.
func NewTranscriptInterim(utteranceID, transcript string) TranscriptInterim {
	return TranscriptInterim{Base: NewBase(KindTranscriptInterim), UtteranceID: utteranceID, Transcript: transcript}
}

// TranscriptFinal carries the terminal transcript for an utterance.
// Degraded marks a final assembled from the last interim snapshot after
// the upstream connection was lost.
type TranscriptFinal struct {
	Base
	UtteranceID string
	Transcript  string
	Degraded    bool
}

// NewTranscriptFinal creates a final transcript event.
func NewTranscriptFinal(utteranceID, transcript string, degraded bool) TranscriptFinal {
	return TranscriptFinal{Base: NewBase(KindTranscriptFinal), UtteranceID: utteranceID, Transcript: transcript, Degraded: degraded}
}
