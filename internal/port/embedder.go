package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	// Failures wrap domain.ErrEmbeddingService; a missing or zero-length
	// vector is reported as an error, never returned.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName identifies the model so an index can refuse vectors from
	// a different one.
	ModelName() string
}
