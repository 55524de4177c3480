package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"policyrag/internal/adapter/analyzer"
	"policyrag/internal/domain"
)

// DefaultHashDimension is used when no dimension is configured.
const DefaultHashDimension = 1024

// HashEmbedder is an offline embedder using signed feature hashing over the
// analyzer's terms. Texts sharing vocabulary get a positive cosine
// similarity; vectors are L2-normalised. Output is deterministic.
type HashEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

func NewHashEmbedder(dimension int) (*HashEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: hash embedder dimension must be positive, got %d", domain.ErrConfig, dimension)
	}
	return &HashEmbedder{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(),
	}, nil
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingService, err)
		}
		vec, err := e.embedOne(text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (e *HashEmbedder) embedOne(text string) ([]float32, error) {
	terms := e.tokenizer.TermFrequencies(text)
	if len(terms) == 0 {
		// Only stopwords or punctuation: fall back to the whole text as one feature.
		whole := strings.ToLower(strings.TrimSpace(text))
		if whole == "" {
			return nil, fmt.Errorf("%w: cannot embed empty text", domain.ErrEmbeddingService)
		}
		terms = map[string]int{whole: 1}
	}

	acc := make([]float64, e.dimension)
	for term, count := range terms {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()

		idx := sum % uint64(e.dimension)
		if sum>>63 == 0 {
			acc[idx] += float64(count)
		} else {
			acc[idx] -= float64(count)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		// Every feature cancelled out in one bucket.
		acc[0] = 1
		norm = 1
	}

	vec := make([]float32, e.dimension)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return fmt.Sprintf("hash-%d", e.dimension)
}
