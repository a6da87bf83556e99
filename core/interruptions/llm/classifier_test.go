package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/koscakluka/lina-core/core/interruptions"
	"github.com/koscakluka/lina-core/core/llms"
)

type scriptedStructuredLLM struct {
	classification string
	err            error

	lastPrompt  string
	lastOptions llms.PromptOptions
}

func (s *scriptedStructuredLLM) PromptWithStructure(_ context.Context, prompt string, outputSchema any, opts ...llms.PromptOption) error {
	s.lastPrompt = prompt
	for _, opt := range opts {
		opt(&s.lastOptions)
	}
	if s.err != nil {
		return s.err
	}
	if classification, ok := outputSchema.(*Classification); ok {
		classification.Type = s.classification
	}
	return nil
}

func TestClassifyLetsBackchannelsPlayOn(t *testing.T) {
	for _, classification := range []string{"acknowledgement", "noise"} {
		classifier := NewClassifier(&scriptedStructuredLLM{classification: classification})

		decision, err := classifier.Classify(context.Background(), "uh-huh")
		if err != nil {
			t.Fatalf("expected %s to classify cleanly, got %v", classification, err)
		}
		if decision != interruptions.DecisionResume {
			t.Fatalf("expected %s to resume the response, got %s", classification, decision)
		}
	}
}

func TestClassifyYieldsTheTurnForRequests(t *testing.T) {
	classifier := NewClassifier(&scriptedStructuredLLM{classification: "request"})

	decision, err := classifier.Classify(context.Background(), "wait, actually I need the other address")
	if err != nil {
		t.Fatalf("expected a clean classification, got %v", err)
	}
	if decision != interruptions.DecisionCancel {
		t.Fatalf("expected a request to cancel the response, got %s", decision)
	}
}

func TestClassifyRejectsUnknownClassifications(t *testing.T) {
	classifier := NewClassifier(&scriptedStructuredLLM{classification: "banter"})

	if _, err := classifier.Classify(context.Background(), "hmm"); err == nil {
		t.Fatal("expected an unknown classification to error")
	}
}

func TestClassifyWrapsModelErrors(t *testing.T) {
	classifier := NewClassifier(&scriptedStructuredLLM{err: fmt.Errorf("rate limited")})

	if _, err := classifier.Classify(context.Background(), "hold on"); err == nil {
		t.Fatal("expected the model error to surface")
	}
}

func TestClassifyForwardsInstructionsAndHistory(t *testing.T) {
	model := &scriptedStructuredLLM{classification: "request"}
	classifier := NewClassifier(model)

	history := []llms.Turn{
		{Role: llms.TurnRoleUser, Content: "What's my balance?"},
		{Role: llms.TurnRoleAssistant, Content: "Your balance is forty dollars."},
	}
	if _, err := classifier.Classify(context.Background(), "no, the savings account",
		interruptions.WithHistory(history...)); err != nil {
		t.Fatalf("expected a clean classification, got %v", err)
	}

	if model.lastPrompt != "no, the savings account" {
		t.Fatalf("expected the transcript as the prompt, got %q", model.lastPrompt)
	}
	if model.lastOptions.Instructions == "" {
		t.Fatal("expected classifier instructions to be set")
	}
	if len(model.lastOptions.Turns) != 2 {
		t.Fatalf("expected the history to be forwarded, got %d turns", len(model.lastOptions.Turns))
	}
}
