package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("%w: ...") and test with
// errors.Is.
var (
	// ErrConfig indicates invalid parameters (chunk size, k, threshold, ...).
	// Always raised before any side effect.
	ErrConfig = errors.New("invalid configuration")

	// ErrDimension indicates a vector whose length differs from the index
	// dimension. The index is left unchanged.
	ErrDimension = errors.New("vector dimension mismatch")

	// ErrEmbeddingService indicates the embedding backend failed. Retryable.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrGeneration indicates the language model call failed. Retryable.
	ErrGeneration = errors.New("generation error")

	// ErrPersistence indicates a corrupt or unreadable index or log file.
	ErrPersistence = errors.New("persistence error")
)

// IsRetryable reports whether err comes from an external dependency that may
// succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingService) || errors.Is(err, ErrGeneration)
}
