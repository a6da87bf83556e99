package groq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/lina-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PromptJSONSchema prompts the model for a response constrained to the JSON
// schema reflected from T and returns the unmarshalled result.
func PromptJSONSchema[T any](
	ctx context.Context,
	apiKey string,
	model string,
	prompt string,
	systemPrompt string,
	outputSchema T,
	opts ...llms.PromptOption,
) (*T, error) {
	if err := promptWithSchema(ctx, apiKey, model, prompt, systemPrompt, &outputSchema, opts...); err != nil {
		return nil, err
	}
	return &outputSchema, nil
}

func promptWithSchema(
	ctx context.Context,
	apiKey string,
	model string,
	prompt string,
	systemPrompt string,
	outputSchema any,
	opts ...llms.PromptOption,
) error {
	ctx, span := tracer.Start(ctx, "prompt llm structured")
	defer span.End()

	options := llms.PromptOptions{Instructions: systemPrompt}
	for _, opt := range opts {
		opt(&options)
	}
	history := append(toMessages(options.Instructions, options.Turns),
		message{Role: messageRoleUser, Content: prompt})

	schema, name := reflectSchema(outputSchema)
	span.SetAttributes(attribute.String("request.model", model))
	if schemaJSON, err := schema.MarshalJSON(); err == nil {
		span.SetAttributes(attribute.String("request.schema", string(schemaJSON)))
	}

	payload, err := json.Marshal(structuredRequest{
		Model:    model,
		Messages: history,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &schemaFormat{
				Name:   name,
				Schema: *schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return spanError(span, fmt.Errorf("failed to encode structured request: %w", err))
	}

	res, err := postJSON(ctx, apiKey, payload)
	if err != nil {
		return spanError(span, err)
	}
	defer res.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", res.StatusCode))
	if res.StatusCode != http.StatusOK {
		return spanError(span, statusError(span, res))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return spanError(span, fmt.Errorf("failed to read structured response: %w", err))
	}
	var parsed structuredResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return spanError(span, fmt.Errorf("failed to decode structured response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return spanError(span, errors.New("structured response carried no choices"))
	}

	content := parsed.Choices[0].Message.Content
	// Some models fence the JSON even in schema mode.
	if _, fenced, found := strings.Cut(content, "```"); found {
		content, _, _ = strings.Cut(fenced, "```")
	}
	if err := json.Unmarshal([]byte(content), outputSchema); err != nil {
		return spanError(span, fmt.Errorf("failed to unmarshal structured content: %w", err))
	}

	return nil
}

// reflectSchema reflects the schema and its wire name from outputSchema,
// unwrapping a pointer if one was passed.
func reflectSchema(outputSchema any) (*jsonschema.Schema, string) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	t := reflect.TypeOf(outputSchema)
	if t.Kind() == reflect.Ptr {
		return reflector.ReflectFromType(t.Elem()), t.Elem().Name()
	}
	return reflector.Reflect(outputSchema), t.Name()
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetAttributes(attribute.String("error", err.Error()))
	return err
}

type structuredRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string        `json:"type"`
	JSONSchema *schemaFormat `json:"json_schema,omitempty"`
}

type schemaFormat struct {
	// Name identifies the schema in the response.
	Name string `json:"name"`
	// Description is the description of the response format.
	Description string `json:"description,omitempty"`
	// Schema is the JSON schema the generated content has to satisfy.
	Schema jsonschema.Schema `json:"schema"`
	// Strict enforces the schema on the generated content.
	Strict bool `json:"strict"`
}

type structuredResponse struct {
	Choices []struct {
		Message struct {
			Role         string  `json:"role,omitempty"`
			Content      string  `json:"content,omitempty"`
			FinishReason *string `json:"finish_reason,omitempty"`
		} `json:"message"`
	} `json:"choices"`
}
