package llms

// PromptOptions carries everything a driver needs to assemble a request
// beyond the prompt itself.
type PromptOptions struct {
	Instructions string
	Turns        []Turn
	Tools        []Tool
}

// PromptOption configures a single prompt.
type PromptOption func(*PromptOptions)

// WithSystemPrompt sets the system prompt. The last occurrence wins.
func WithSystemPrompt(prompt string) PromptOption {
	return func(opts *PromptOptions) {
		opts.Instructions = prompt
	}
}

// WithTurns appends conversation history, oldest first. May be repeated.
func WithTurns(turns ...Turn) PromptOption {
	return func(opts *PromptOptions) {
		opts.Turns = append(opts.Turns, turns...)
	}
}

// WithTools appends tools the model may call. May be repeated. Structured
// prompts ignore it.
func WithTools(tools ...Tool) PromptOption {
	return func(opts *PromptOptions) {
		opts.Tools = append(opts.Tools, tools...)
	}
}
