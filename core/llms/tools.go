package llms

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Tool is a function the model may call during response generation.
//
// The exported fields mirror the wire shape drivers serialize, so they can be
// copied into driver-local request types directly.
type Tool struct {
	Type     string
	Function ToolFunction

	execute func(arguments string) (string, error)
}

type ToolFunction struct {
	Name        string
	Description string
	Parameters  ToolParameters
}

type ToolParameters struct {
	Type       string
	Properties map[string]ParameterBase
	Required   []string
}

// ParameterBase describes a single tool parameter.
type ParameterBase struct {
	Type        string
	Description string
}

// NewTool builds a callable tool. The arguments the model produces are
// unmarshalled into T before the handler runs, so the handler never sees raw
// JSON.
func NewTool[T any](
	name string,
	description string,
	parameters map[string]ParameterBase,
	execute func(parameters T) (string, error),
) Tool {
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters: ToolParameters{
				Type:       "object",
				Properties: parameters,
				Required:   slices.Sorted(maps.Keys(parameters)),
			},
		},
		execute: func(arguments string) (string, error) {
			var params T
			if err := json.Unmarshal([]byte(arguments), &params); err != nil {
				return "", fmt.Errorf("failed to unmarshal tool arguments: %w", err)
			}
			return execute(params)
		},
	}
}

// Execute runs the tool handler against the model-produced arguments.
func (t Tool) Execute(arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no handler", t.Function.Name)
	}
	return t.execute(arguments)
}

// ToolCall is a single call the model requested, together with the response
// once the tool has been executed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Response  string
}
