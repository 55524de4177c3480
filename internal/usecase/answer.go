package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"policyrag/internal/adapter/analyzer"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
	"policyrag/internal/port"
)

// DefaultFallbackText is returned when no indexed passage is relevant.
const DefaultFallbackText = "I don't have policy information on that."

// AnswerOptions tunes the answer use case.
type AnswerOptions struct {
	TopK         int
	Threshold    float64
	RecentTurns  int // history turns rendered into the prompt; 0 omits history
	FallbackText string
}

// AnswerUseCase retrieves context, asks the generator and records the turn.
type AnswerUseCase struct {
	retriever *RetrieveUseCase
	memory    *ConversationMemory
	generator port.Generator
	prompts   *PromptBuilder
	tokenizer *analyzer.Tokenizer
	opts      AnswerOptions
	now       func() time.Time
	log       *zap.Logger
}

func NewAnswerUseCase(
	retriever *RetrieveUseCase,
	memory *ConversationMemory,
	generator port.Generator,
	opts AnswerOptions,
	log *zap.Logger,
) (*AnswerUseCase, error) {
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top k must be positive, got %d", domain.ErrConfig, opts.TopK)
	}
	if opts.RecentTurns < 0 {
		return nil, fmt.Errorf("%w: recent turns must not be negative", domain.ErrConfig)
	}
	if err := ValidateThreshold(retriever.index.Metric(), opts.Threshold); err != nil {
		return nil, err
	}
	if opts.FallbackText == "" {
		opts.FallbackText = DefaultFallbackText
	}

	prompts, err := NewPromptBuilder()
	if err != nil {
		return nil, err
	}

	return &AnswerUseCase{
		retriever: retriever,
		memory:    memory,
		generator: generator,
		prompts:   prompts,
		tokenizer: analyzer.NewTokenizer(),
		opts:      opts,
		now:       time.Now,
		log:       logger.OrNop(log).Named("answer"),
	}, nil
}

// Answer answers one question. Without relevant context the fixed fallback
// text is returned and the generator is not called. If generation fails
// nothing is recorded.
func (u *AnswerUseCase) Answer(ctx context.Context, q domain.Query) (domain.Answer, error) {
	if err := validateSession(q.SessionID); err != nil {
		return domain.Answer{}, err
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = u.now().UTC()
	}

	result, err := u.retriever.Retrieve(ctx, q.Text, u.opts.TopK, u.opts.Threshold)
	if err != nil {
		return domain.Answer{}, err
	}

	if !result.HasContext() {
		answer := domain.Answer{
			Text:         u.opts.FallbackText,
			UsedChunkIDs: []domain.EntryID{},
			Sources:      []string{},
			Fallback:     true,
		}
		if err := u.record(ctx, q, answer); err != nil {
			return domain.Answer{}, err
		}
		u.log.Info("no relevant policy context",
			zap.String("session", q.SessionID),
			zap.String("status", string(result.Status)),
			zap.Int("candidates", result.Candidates))
		return answer, nil
	}

	var history []domain.ConversationTurn
	if u.opts.RecentTurns > 0 {
		history, err = u.memory.GetRecent(ctx, q.SessionID, u.opts.RecentTurns)
		if err != nil {
			return domain.Answer{}, err
		}
	}

	prompt, err := u.prompts.Build(PromptData{
		Question: q.Text,
		Chunks:   result.Chunks,
		History:  history,
	})
	if err != nil {
		return domain.Answer{}, err
	}

	start := time.Now()
	text, err := u.generator.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, domain.ErrGeneration) {
			err = fmt.Errorf("%w: %v", domain.ErrGeneration, err)
		}
		u.log.Warn("generation failed", zap.String("session", q.SessionID), zap.Error(err))
		return domain.Answer{}, err
	}

	answer := domain.Answer{
		Text:         text,
		UsedChunkIDs: result.EntryIDs(),
		Sources:      sources(result.Chunks),
	}
	// Recorded even when ctx is cancelled after generation succeeded.
	if err := u.record(context.WithoutCancel(ctx), q, answer); err != nil {
		return domain.Answer{}, err
	}

	u.log.Info("answered",
		zap.String("session", q.SessionID),
		zap.Int("chunks", len(answer.UsedChunkIDs)),
		zap.Int("history", len(history)),
		zap.Int("prompt_tokens", u.tokenizer.CountTokens(prompt.String())),
		zap.Duration("generation", time.Since(start)))
	return answer, nil
}

func (u *AnswerUseCase) record(ctx context.Context, q domain.Query, a domain.Answer) error {
	return u.memory.AppendTurn(ctx, domain.ConversationTurn{
		SessionID:         q.SessionID,
		Question:          q.Text,
		Answer:            a.Text,
		RetrievedChunkIDs: a.UsedChunkIDs,
		Timestamp:         q.Timestamp,
		Fallback:          a.Fallback,
	})
}

// sources lists the distinct documents behind chunks, in relevance order.
func sources(chunks []domain.ScoredEntry) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.Entry.DocumentID]; ok {
			continue
		}
		seen[c.Entry.DocumentID] = struct{}{}
		out = append(out, c.Entry.DocumentID)
	}
	return out
}
