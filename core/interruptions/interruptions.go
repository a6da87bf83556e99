// Package interruptions decides what overlapping caller speech means for an
// in-flight assistant response.
package interruptions

import (
	"context"

	"github.com/koscakluka/lina-core/core/llms"
)

// Decision is what the orchestrator should do with the response the caller
// spoke over.
type Decision string

const (
	// DecisionResume lets the paused response continue playing.
	DecisionResume Decision = "resume"
	// DecisionCancel abandons the response and yields the turn to the caller.
	DecisionCancel Decision = "cancel"
)

// Classifier judges whether speech overlapping assistant playback is a real
// attempt to take the turn.
type Classifier interface {
	Classify(ctx context.Context, transcript string, opts ...ClassifyOption) (Decision, error)
}

type ClassifyOptions struct {
	History []llms.Turn
}

type ClassifyOption func(*ClassifyOptions)

// WithHistory provides the conversation so far. Backchannel words read
// differently depending on what the assistant was saying.
func WithHistory(history ...llms.Turn) ClassifyOption {
	return func(o *ClassifyOptions) {
		o.History = append(o.History, history...)
	}
}
