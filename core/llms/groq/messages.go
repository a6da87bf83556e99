package groq

import (
	"github.com/koscakluka/lina-core/core/llms"
)

type message struct {
	Role       messageRole `json:"role"`
	Content    string      `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall  `json:"tool_calls,omitempty"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
	messageRoleTool      messageRole = "tool"
)

type toolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// toMessages renders the conversation in the completions wire shape, with
// the instructions as the leading system message.
func toMessages(instructions string, turns []llms.Turn) []message {
	history := []message{}
	if instructions != "" {
		history = append(history, message{Role: messageRoleSystem, Content: instructions})
	}
	for _, turn := range turns {
		switch turn.Role {
		case llms.TurnRoleUser:
			if turn.Content != "" {
				history = append(history, message{Role: messageRoleUser, Content: turn.Content})
			}
		case llms.TurnRoleAssistant:
			history = append(history, assistantMessages(turn)...)
		}
	}
	return history
}

// assistantMessages renders an assistant turn as the tool-call request
// followed by each tool result, then the spoken content. The API rejects a
// tool message whose call id was never requested, so results only follow
// calls that carry one.
func assistantMessages(turn llms.Turn) []message {
	var rendered []message
	if len(turn.ToolCalls) > 0 {
		request := message{Role: messageRoleAssistant}
		var results []message
		for _, call := range turn.ToolCalls {
			request.ToolCalls = append(request.ToolCalls, toolCall{
				ID:   call.ID,
				Type: "function",
				Function: toolCallFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
			if call.Response != "" {
				results = append(results, message{
					Role:       messageRoleTool,
					Content:    call.Response,
					ToolCallID: call.ID,
				})
			}
		}
		rendered = append(rendered, request)
		rendered = append(rendered, results...)
	}
	if turn.Content != "" {
		rendered = append(rendered, message{Role: messageRoleAssistant, Content: turn.Content})
	}
	return rendered
}
