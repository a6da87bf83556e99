package events

const (
	// KindTurnAppended identifies a turn appended to the session transcript.
	KindTurnAppended Kind = "turn.appended"
)

// Turn roles as recorded in the session transcript.
const (
	TurnRoleCaller    = "caller"
	TurnRoleAssistant = "assistant"
)

// Turn statuses as recorded in the session transcript.
const (
	TurnStatusComplete  = "complete"
	TurnStatusTruncated = "truncated"
)

// TurnAppended marks a conversation turn appended to the session
// transcript. Assistant turns carry status complete or truncated;
// caller turns are always complete.
type TurnAppended struct {
	Base
	Role    string
	Content string
	Status  string
}

// NewTurnAppended creates a turn appended event.
func NewTurnAppended(role, content, status string) TurnAppended {
	return TurnAppended{Base: NewBase(KindTurnAppended), Role: role, Content: content, Status: status}
}
