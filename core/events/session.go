package events

const (
	// KindSessionStateChanged identifies state machine transitions.
	KindSessionStateChanged Kind = "session.state_changed"
	// KindSessionEnded identifies session termination.
	KindSessionEnded Kind = "session.ended"
)

// SessionStateChanged marks the session state machine moving between
// states.
type SessionStateChanged struct {
	Base
	From string
	To   string
}

// NewSessionStateChanged creates a session state changed event.
func NewSessionStateChanged(from, to string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), From: from, To: to}
}

// SessionEnded marks session termination and carries the termination
// reason.
type SessionEnded struct {
	Base
	Reason string
}

// NewSessionEnded creates a session ended event.
func NewSessionEnded(reason string) SessionEnded {
	return SessionEnded{Base: NewBase(KindSessionEnded), Reason: reason}
}
