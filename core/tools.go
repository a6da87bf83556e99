package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/lina-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// sessionTools is the toolset offered to the model: the configured tools
// plus the built-in call controls.
func (o *Orchestrator) sessionTools() []llms.Tool {
	tools := make([]llms.Tool, 0, len(o.config.tools)+1)
	tools = append(tools, o.config.tools...)
	tools = append(tools, o.hangUpTool())
	return tools
}

// hangUpTool lets the model end the call. The hangup is deferred until the
// current response has played out so the goodbye is not cut off.
func (o *Orchestrator) hangUpTool() llms.Tool {
	return llms.NewTool("hang_up",
		"End the phone call. Use this once the conversation has concluded or the caller asks you to hang up.",
		map[string]llms.ParameterBase{},
		func(struct{}) (string, error) {
			o.hangupPending.Store(true)
			return "The call will end after this response is spoken. Say goodbye.", nil
		})
}

func (o *Orchestrator) callTool(ctx context.Context, toolCall llms.ToolCall) (string, error) {
	_, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", toolCall.Name))

	arguments := toolCall.Arguments
	if arguments == "" {
		// Providers stream no arguments payload for parameterless tools.
		arguments = "{}"
	}

	for _, tool := range o.sessionTools() {
		if tool.Function.Name != toolCall.Name {
			continue
		}

		response, err := tool.Execute(arguments)
		if err != nil {
			err = fmt.Errorf("failed to execute tool %q: %w", toolCall.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		return response, nil
	}

	err := fmt.Errorf("tool not found: %s", toolCall.Name)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}
