package port

import "context"

// Generator represents the language model that answers with the assembled context.
type Generator interface {
	// Generate produces a completion for the user prompt under the system instructions.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
