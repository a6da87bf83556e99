package events

const (
	// KindInterruptionDetected identifies caller speech during assistant playback.
	KindInterruptionDetected Kind = "interruption.detected"
	// KindInterruptionClassified identifies a resolved interruption.
	KindInterruptionClassified Kind = "interruption.classified"
)

// InterruptionDetected marks caller speech detected while the assistant
// was speaking.
type InterruptionDetected struct {
	Base
	UtteranceID string
}

// NewInterruptionDetected creates an interruption detected event.
func NewInterruptionDetected(utteranceID string) InterruptionDetected {
	return InterruptionDetected{Base: NewBase(KindInterruptionDetected), UtteranceID: utteranceID}
}

// InterruptionClassified marks an interruption resolved to a decision.
// Decision is "resume" or "cancel"; Transcript is the caller speech the
// decision was based on.
type InterruptionClassified struct {
	Base
	UtteranceID string
	Decision    string
	Transcript  string
}

// NewInterruptionClassified creates an interruption classified event.
func NewInterruptionClassified(utteranceID, decision, transcript string) InterruptionClassified {
	return InterruptionClassified{Base: NewBase(KindInterruptionClassified), UtteranceID: utteranceID, Decision: decision, Transcript: transcript}
}
