package events

const (
	// KindUtteranceStarted identifies start of caller speech activity.
	KindUtteranceStarted Kind = "utterance.started"
	// KindUtteranceEnded identifies end of caller speech activity.
	KindUtteranceEnded Kind = "utterance.ended"
	// KindUtteranceAborted identifies an utterance closed without an end boundary.
	KindUtteranceAborted Kind = "utterance.aborted"
)

// UtteranceStarted marks when caller speech activity starts.
type UtteranceStarted struct {
	Base
	ID string
}

// NewUtteranceStarted creates an utterance started event.
func NewUtteranceStarted(id string) UtteranceStarted {
	return UtteranceStarted{Base: NewBase(KindUtteranceStarted), ID: id}
}

// UtteranceEnded marks when caller speech activity ends after the
// silence hold-off.
type UtteranceEnded struct {
	Base
	ID string
}

// NewUtteranceEnded creates an utterance ended event.
func NewUtteranceEnded(id string) UtteranceEnded {
	return UtteranceEnded{Base: NewBase(KindUtteranceEnded), ID: id}
}

// UtteranceAborted marks an utterance that was closed without reaching
// its natural end boundary.
type UtteranceAborted struct {
	Base
	ID string
}

// NewUtteranceAborted creates an utterance aborted event.
func NewUtteranceAborted(id string) UtteranceAborted {
	return UtteranceAborted{Base: NewBase(KindUtteranceAborted), ID: id}
}
