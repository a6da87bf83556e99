package orchestration

import (
	"slices"
	"time"
)

// State is the turn-taking position of a call session. Exactly one state is
// active at a time; every transition is driven by the session's event worker.
type State string

const (
	// StateIdle means neither side holds the turn.
	StateIdle State = "IDLE"
	// StateListening means the caller holds the turn and an utterance is
	// being captured.
	StateListening State = "LISTENING"
	// StateThinking means a response is being generated but nothing has been
	// spoken yet.
	StateThinking State = "THINKING"
	// StateResponding means assistant speech is playing out.
	StateResponding State = "RESPONDING"
	// StateTerminated means the session is over. Terminal.
	StateTerminated State = "TERMINATED"
)

// stateTransitions lists the allowed non-terminal moves. THINKING is
// reachable from IDLE directly for scripted speech (greeting, recovery
// apology) that is not prompted by a caller utterance.
var stateTransitions = map[State][]State{
	StateIdle:       {StateListening, StateThinking},
	StateListening:  {StateThinking, StateIdle},
	StateThinking:   {StateResponding, StateIdle},
	StateResponding: {StateIdle, StateListening},
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// CanTransitionTo reports whether the turn-taking machine allows moving from
// s to next. TERMINATED is absorbing and reachable from every other state.
func (s State) CanTransitionTo(next State) bool {
	if s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return slices.Contains(stateTransitions[s], next)
}

// TurnRole identifies which party took a conversation turn.
type TurnRole string

const (
	TurnRoleCaller    TurnRole = "caller"
	TurnRoleAssistant TurnRole = "assistant"
)

// TurnStatus records how a turn ended.
type TurnStatus string

const (
	// TurnStatusComplete marks a turn that ran to its natural end.
	TurnStatusComplete TurnStatus = "complete"
	// TurnStatusTruncated marks an assistant turn that was cut short.
	// Content holds only the part that was confirmed played.
	TurnStatusTruncated TurnStatus = "truncated"
)

// ConversationTurn is one entry in the session transcript.
type ConversationTurn struct {
	Role    TurnRole
	Content string
	Status  TurnStatus

	StartedAt time.Time
	EndedAt   time.Time
}

// Termination reasons recorded on the session report.
const (
	// ReasonCallerHangup covers the wire disconnecting or the caller
	// pressing the terminate digit.
	ReasonCallerHangup = "caller-hangup"
	// ReasonAssistantHangup covers the model invoking the hang_up tool and
	// locally initiated shutdown.
	ReasonAssistantHangup = "assistant-hangup"
	// ReasonError covers the session giving up after repeated pipeline
	// failures.
	ReasonError = "error"
	// ReasonTimeout covers the orchestration context expiring.
	ReasonTimeout = "timeout"
)

// CallSession is the live state of one call. It is owned by the session's
// event worker; nothing else mutates it.
type CallSession struct {
	ID string

	StreamID string
	CallID   string
	From     string
	To       string

	State State
	Turns []ConversationTurn

	StartedAt time.Time
	EndedAt   time.Time
	EndReason string
}

// SessionReport is the immutable record handed out once a session
// terminates.
type SessionReport struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Reason    string
	Turns     []ConversationTurn
}
