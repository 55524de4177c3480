package port

import (
	"context"

	"policyrag/internal/domain"
)

// Generator is the language model behind answers.
type Generator interface {
	// Generate returns the completion for prompt. Failures wrap
	// domain.ErrGeneration.
	Generate(ctx context.Context, prompt domain.Prompt) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
