package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"policyrag/internal/adapter/embedding"
	"policyrag/internal/adapter/memstore"
	"policyrag/internal/adapter/store"
	"policyrag/internal/domain"
)

const testDim = 1024

var policyLines = []string{
	"Remote work requires manager approval before starting.",
	"Expense reports are due at the end of each month.",
	"Employees receive twenty days of paid vacation per year.",
}

// lineChunker makes one chunk per non-empty line.
type lineChunker struct{}

func (lineChunker) Chunk(doc domain.Document) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	offset := 0
	for _, line := range strings.Split(doc.Text, "\n") {
		n := len([]rune(line))
		if strings.TrimSpace(line) != "" {
			seq := len(chunks)
			chunks = append(chunks, domain.Chunk{
				ID:            domain.ChunkID(doc.ID, seq),
				DocumentID:    doc.ID,
				SequenceIndex: seq,
				Text:          line,
				Span:          domain.Span{Start: offset, End: offset + n},
			})
		}
		offset += n + 1
	}
	return chunks, nil
}

// countingEmbedder wraps another embedder and can be told to fail.
type countingEmbedder struct {
	inner interface {
		Embed(context.Context, []string) ([][]float32, error)
		Dimension() int
		ModelName() string
	}
	calls int32
	fail  atomic.Bool
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.fail.Load() {
		return nil, errors.Join(domain.ErrEmbeddingService, errors.New("quota exceeded"))
	}
	return e.inner.Embed(ctx, texts)
}

func (e *countingEmbedder) Dimension() int    { return e.inner.Dimension() }
func (e *countingEmbedder) ModelName() string { return e.inner.ModelName() }

func (e *countingEmbedder) Calls() int { return int(atomic.LoadInt32(&e.calls)) }

// fakeGenerator records prompts and answers with a fixed text.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []domain.Prompt
	reply   string
	err     error
	// onGenerate runs inside Generate before it returns.
	onGenerate func()
}

func (g *fakeGenerator) Generate(_ context.Context, p domain.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.onGenerate != nil {
		g.onGenerate()
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) ModelName() string { return "fake-llm" }

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *fakeGenerator) LastPrompt() domain.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type fixture struct {
	embedder  *countingEmbedder
	index     *store.VectorIndex
	retriever *RetrieveUseCase
	memory    *ConversationMemory
	generator *fakeGenerator
	ingest    *IngestUseCase
}

func newFixture(t *testing.T, metric domain.Metric, maxTurns int) *fixture {
	t.Helper()

	hash, err := embedding.NewHashEmbedder(testDim)
	require.NoError(t, err)
	emb := &countingEmbedder{inner: hash}

	idx, err := store.NewVectorIndex(testDim, metric, hash.ModelName(), nil)
	require.NoError(t, err)

	mem, err := NewConversationMemory(memstore.NewConversationLog(), maxTurns, nil)
	require.NoError(t, err)

	return &fixture{
		embedder:  emb,
		index:     idx,
		retriever: NewRetrieveUseCase(emb, idx, nil),
		memory:    mem,
		generator: &fakeGenerator{reply: "Yes. Remote work needs manager approval first."},
		ingest:    NewIngestUseCase(lineChunker{}, emb, idx, IngestOptions{BatchSize: 2, Concurrency: 2}, nil),
	}
}

func (f *fixture) ingestPolicy(t *testing.T) []domain.EntryID {
	t.Helper()
	res, err := f.ingest.Ingest(context.Background(), []domain.Document{{
		ID:         "handbook",
		SourcePath: "/policies/handbook.txt",
		Text:       strings.Join(policyLines, "\n"),
	}})
	require.NoError(t, err)
	require.Len(t, res.AddedIDs, 3)
	return res.AddedIDs
}

func (f *fixture) answerUseCase(t *testing.T, opts AnswerOptions) *AnswerUseCase {
	t.Helper()
	u, err := NewAnswerUseCase(f.retriever, f.memory, f.generator, opts, nil)
	require.NoError(t, err)
	return u
}
