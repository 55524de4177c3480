package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
	"policyrag/internal/port"
)

// RetrieveUseCase embeds a question, searches the index and keeps only the
// candidates that pass the relevance threshold.
type RetrieveUseCase struct {
	embedder port.Embedder
	index    port.VectorIndex
	log      *zap.Logger
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(embedder port.Embedder, index port.VectorIndex, log *zap.Logger) *RetrieveUseCase {
	return &RetrieveUseCase{
		embedder: embedder,
		index:    index,
		log:      logger.OrNop(log).Named("retriever"),
	}
}

// ValidateThreshold checks a relevance threshold against a metric: a cosine
// similarity in [-1, 1] or a non-negative L2 distance.
func ValidateThreshold(metric domain.Metric, threshold float64) error {
	if math.IsNaN(threshold) {
		return fmt.Errorf("%w: relevance threshold is NaN", domain.ErrConfig)
	}
	if metric == domain.MetricCosine && (threshold < -1 || threshold > 1) {
		return fmt.Errorf("%w: cosine relevance threshold must be in [-1, 1], got %g", domain.ErrConfig, threshold)
	}
	if metric == domain.MetricL2 && threshold < 0 {
		return fmt.Errorf("%w: l2 relevance threshold must not be negative, got %g", domain.ErrConfig, threshold)
	}
	return nil
}

// Retrieve returns up to k relevant chunks for query. A result with no
// relevant chunk is not an error; its Status says why it is empty.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string, k int, threshold float64) (domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return domain.RetrievalResult{}, fmt.Errorf("%w: query text is empty", domain.ErrConfig)
	}
	if k <= 0 {
		return domain.RetrievalResult{}, fmt.Errorf("%w: k must be positive, got %d", domain.ErrConfig, k)
	}
	metric := u.index.Metric()
	if err := ValidateThreshold(metric, threshold); err != nil {
		return domain.RetrievalResult{}, err
	}

	start := time.Now()
	vecs, err := u.embedder.Embed(ctx, []string{query})
	if err != nil {
		return domain.RetrievalResult{}, err
	}
	if len(vecs) != 1 {
		return domain.RetrievalResult{}, fmt.Errorf("%w: expected 1 query embedding, got %d", domain.ErrEmbeddingService, len(vecs))
	}

	candidates, err := u.index.Search(vecs[0], k)
	if err != nil {
		return domain.RetrievalResult{}, err
	}

	result := domain.RetrievalResult{
		Candidates: len(candidates),
		Chunks:     filterByThreshold(metric, candidates, threshold),
	}
	switch {
	case len(candidates) == 0:
		result.Status = domain.StatusNoCandidates
	case len(result.Chunks) == 0:
		result.Status = domain.StatusNoRelevantContext
	default:
		result.Status = domain.StatusFound
	}

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Int("candidates", result.Candidates),
		zap.Int("relevant", len(result.Chunks)),
		zap.Duration("took", time.Since(start)),
	}
	if len(candidates) > 0 {
		fields = append(fields, zap.Float64("best_score", candidates[0].Score))
	}
	u.log.Debug("retrieved", fields...)

	return result, nil
}

// filterByThreshold keeps similarities >= threshold (cosine) or distances
// <= threshold (l2). Order is preserved.
func filterByThreshold(metric domain.Metric, results []domain.ScoredEntry, threshold float64) []domain.ScoredEntry {
	filtered := make([]domain.ScoredEntry, 0, len(results))
	for _, r := range results {
		if metric.HigherIsBetter() {
			if r.Score >= threshold {
				filtered = append(filtered, r)
			}
		} else if r.Score <= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
