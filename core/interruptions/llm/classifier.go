// Package llm classifies interruptions with a structured language model
// call.
package llm

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/koscakluka/lina-core/core/interruptions"
	"github.com/koscakluka/lina-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed classifierInstructions.tmpl
var classifierInstructions string

// Classification is the schema the model fills in.
type Classification struct {
	Type string `json:"type" jsonschema:"title=Type,description=The kind of speech that interrupted the assistant,enum=acknowledgement,enum=request,enum=noise"`
}

// Classifier resolves interruptions through any model that supports
// structured prompting.
type Classifier struct {
	llm LLMWithStructuredPrompt
}

type LLMWithStructuredPrompt interface {
	PromptWithStructure(ctx context.Context, prompt string, outputSchema any, opts ...llms.PromptOption) error
}

func NewClassifier(classificationLLM LLMWithStructuredPrompt) *Classifier {
	return &Classifier{llm: classificationLLM}
}

func (c *Classifier) Classify(ctx context.Context, transcript string, opts ...interruptions.ClassifyOption) (interruptions.Decision, error) {
	ctx, span := tracer.Start(ctx, "classifying interruption")
	defer span.End()

	options := interruptions.ClassifyOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	resp := Classification{}
	if err := c.llm.PromptWithStructure(ctx, transcript, &resp,
		llms.WithSystemPrompt(classifierInstructions),
		llms.WithTurns(options.History...),
	); err != nil {
		return "", fmt.Errorf("failed to prompt interruption classifier: %w", err)
	}

	decision, err := toDecision(resp.Type)
	if err != nil {
		return "", err
	}
	span.SetAttributes(
		attribute.String("interruption.type", resp.Type),
		attribute.String("interruption.decision", string(decision)),
	)
	return decision, nil
}

// toDecision folds classifications into the two actions the orchestrator can
// take. Backchannels and stray noise let the response play on; anything with
// content takes the turn.
func toDecision(classification string) (interruptions.Decision, error) {
	switch classification {
	case "acknowledgement", "noise":
		return interruptions.DecisionResume, nil
	case "request":
		return interruptions.DecisionCancel, nil
	default:
		return "", fmt.Errorf("unknown interruption type: %s", classification)
	}
}
