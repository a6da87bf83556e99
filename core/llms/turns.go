package llms

import "time"

// Turn is a single turn taken in the conversation.
type Turn struct {
	Role TurnRole

	// Content is the content of the turn.
	// In the caller's turn it is the finalized transcript,
	// in the assistant's turn it is the (possibly truncated) response.
	Content   string
	ToolCalls []ToolCall

	Status    TurnStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// TurnRole describes who took the turn.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// TurnStatus describes how the turn ended.
type TurnStatus string

const (
	// TurnStatusComplete marks a turn that ran to its natural end.
	TurnStatusComplete TurnStatus = "complete"
	// TurnStatusTruncated marks an assistant turn that was cut short by an
	// interruption. Content holds only the part that was actually spoken.
	TurnStatusTruncated TurnStatus = "truncated"
)
