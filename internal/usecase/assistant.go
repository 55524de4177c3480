package usecase

import (
	"context"

	"policyrag/internal/domain"
	"policyrag/internal/port"
)

// Assistant is the surface the CLI and the HTTP API drive.
type Assistant struct {
	answers *AnswerUseCase
	ingest  *IngestUseCase
	memory  *ConversationMemory
	index   port.VectorIndex
	model   string
}

func NewAssistant(answers *AnswerUseCase, ingest *IngestUseCase, memory *ConversationMemory, index port.VectorIndex, generatorModel string) *Assistant {
	return &Assistant{
		answers: answers,
		ingest:  ingest,
		memory:  memory,
		index:   index,
		model:   generatorModel,
	}
}

func (a *Assistant) Answer(ctx context.Context, q domain.Query) (domain.Answer, error) {
	return a.answers.Answer(ctx, q)
}

func (a *Assistant) Ingest(ctx context.Context, docs []domain.Document) (*IngestResult, error) {
	return a.ingest.Ingest(ctx, docs)
}

// Remove drops documents from the index.
func (a *Assistant) Remove(docIDs ...string) (int, error) {
	return a.ingest.Remove(docIDs)
}

func (a *Assistant) Clear(ctx context.Context, sessionID string) error {
	return a.memory.Clear(ctx, sessionID)
}

func (a *Assistant) History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	return a.memory.History(ctx, sessionID)
}

func (a *Assistant) Stats() domain.Stats {
	return a.index.Stats()
}

// GeneratorModel names the language model answers come from.
func (a *Assistant) GeneratorModel() string {
	return a.model
}
