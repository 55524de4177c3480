package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"policyrag/internal/domain"
)

func TestAnswer_UsesRelevantPolicy(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	ids := f.ingestPolicy(t)
	u := f.answerUseCase(t, AnswerOptions{TopK: 2, Threshold: 0.1, RecentTurns: 3})
	ctx := context.Background()

	answer, err := u.Answer(ctx, domain.Query{Text: "do I need approval to work remotely?", SessionID: "s1"})
	require.NoError(t, err)

	assert.False(t, answer.Fallback)
	assert.Equal(t, f.generator.reply, answer.Text)
	require.NotEmpty(t, answer.UsedChunkIDs)
	assert.Equal(t, ids[0], answer.UsedChunkIDs[0])
	assert.Equal(t, []string{"handbook"}, answer.Sources)
	assert.Equal(t, 1, f.generator.Calls())

	prompt := f.generator.LastPrompt()
	assert.NotEmpty(t, prompt.System)
	assert.Contains(t, prompt.User, "Remote work requires manager approval")
	assert.Contains(t, prompt.User, "/policies/handbook.txt")
	assert.Contains(t, prompt.User, "do I need approval to work remotely?")

	turns, err := f.memory.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, answer.UsedChunkIDs, turns[0].RetrievedChunkIDs)
	assert.False(t, turns[0].Fallback)
}

func TestAnswer_FallbackWithoutRelevantContext(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	f.ingestPolicy(t)
	u := f.answerUseCase(t, AnswerOptions{TopK: 3, Threshold: 0.3})
	ctx := context.Background()

	answer, err := u.Answer(ctx, domain.Query{Text: "what is the weather today?", SessionID: "s1"})
	require.NoError(t, err)

	assert.True(t, answer.Fallback)
	assert.Equal(t, DefaultFallbackText, answer.Text)
	assert.NotNil(t, answer.UsedChunkIDs)
	assert.Empty(t, answer.UsedChunkIDs)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, 0, f.generator.Calls())

	turns, err := f.memory.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Fallback)
	assert.Equal(t, DefaultFallbackText, turns[0].Answer)
}

func TestAnswer_FallbackOnEmptyIndex(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	u := f.answerUseCase(t, AnswerOptions{TopK: 3, Threshold: 0.3, FallbackText: "Please ask HR."})

	answer, err := u.Answer(context.Background(), domain.Query{Text: "vacation days", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, answer.Fallback)
	assert.Equal(t, "Please ask HR.", answer.Text)
	assert.Equal(t, 0, f.generator.Calls())
}

func TestAnswer_GenerationFailureRecordsNothing(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	f.ingestPolicy(t)
	f.generator.err = errors.New("upstream timeout")
	u := f.answerUseCase(t, AnswerOptions{TopK: 2, Threshold: 0.1})
	ctx := context.Background()

	_, err := u.Answer(ctx, domain.Query{Text: "do I need approval to work remotely?", SessionID: "s1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.True(t, domain.IsRetryable(err))

	turns, err := f.memory.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAnswer_EmbeddingFailure(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	f.ingestPolicy(t)
	u := f.answerUseCase(t, AnswerOptions{TopK: 2, Threshold: 0.1})
	f.embedder.fail.Store(true)

	_, err := u.Answer(context.Background(), domain.Query{Text: "vacation", SessionID: "s1"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Equal(t, 0, f.generator.Calls())
}

func TestAnswer_IncludesRecentHistory(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	f.ingestPolicy(t)
	u := f.answerUseCase(t, AnswerOptions{TopK: 2, Threshold: 0.1, RecentTurns: 2})
	ctx := context.Background()

	_, err := u.Answer(ctx, domain.Query{Text: "do I need approval to work remotely?", SessionID: "s1"})
	require.NoError(t, err)
	first := f.generator.LastPrompt()
	assert.Contains(t, first.User, "No previous conversation.")

	_, err = u.Answer(ctx, domain.Query{Text: "how many vacation days do employees receive?", SessionID: "s1"})
	require.NoError(t, err)
	second := f.generator.LastPrompt()
	assert.Contains(t, second.User, "User: do I need approval to work remotely?")
	assert.Contains(t, second.User, "Assistant: "+f.generator.reply)
	assert.Contains(t, second.User, "twenty days of paid vacation")

	// other sessions do not see s1's history
	_, err = u.Answer(ctx, domain.Query{Text: "do I need approval to work remotely?", SessionID: "s2"})
	require.NoError(t, err)
	assert.Contains(t, f.generator.LastPrompt().User, "No previous conversation.")
}

func TestNewAnswerUseCase_Validation(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)

	tests := []struct {
		name string
		opts AnswerOptions
	}{
		{"zero top k", AnswerOptions{TopK: 0, Threshold: 0.5}},
		{"negative recent turns", AnswerOptions{TopK: 3, Threshold: 0.5, RecentTurns: -1}},
		{"threshold out of range", AnswerOptions{TopK: 3, Threshold: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnswerUseCase(f.retriever, f.memory, f.generator, tt.opts, nil)
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestAnswer_EmptySession(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	f.ingestPolicy(t)
	u := f.answerUseCase(t, AnswerOptions{TopK: 2, Threshold: 0.1})
	before := f.embedder.Calls()

	_, err := u.Answer(context.Background(), domain.Query{Text: "vacation"})
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Equal(t, before, f.embedder.Calls())
}

func TestAnswer_ConcurrentSessions(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 5)
	f.ingestPolicy(t)
	u := f.answerUseCase(t, AnswerOptions{TopK: 2, Threshold: 0.1, RecentTurns: 2})
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				_, err := u.Answer(ctx, domain.Query{
					Text:      "expense reports due date",
					SessionID: fmt.Sprintf("s%d", s),
				})
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 32, f.generator.Calls())
	for s := 0; s < 8; s++ {
		turns, err := f.memory.History(ctx, fmt.Sprintf("s%d", s))
		require.NoError(t, err)
		assert.Len(t, turns, 4)
	}
}

func TestSources_DistinctInOrder(t *testing.T) {
	chunks := []domain.ScoredEntry{
		{Entry: domain.IndexEntry{DocumentID: "b"}},
		{Entry: domain.IndexEntry{DocumentID: "a"}},
		{Entry: domain.IndexEntry{DocumentID: "b"}},
	}
	assert.Equal(t, []string{"b", "a"}, sources(chunks))
}

func TestAnswer_RecordsTurnWhenCancelledAfterGeneration(t *testing.T) {
	f := newFixture(t, domain.MetricCosine, 10)
	f.ingestPolicy(t)
	u := f.answerUseCase(t, AnswerOptions{TopK: 2, Threshold: 0.1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.generator.onGenerate = cancel

	answer, err := u.Answer(ctx, domain.Query{Text: "do I need approval to work remotely?", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, f.generator.reply, answer.Text)

	turns, err := f.memory.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, f.generator.reply, turns[0].Answer)
}
