package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
	"policyrag/internal/port"
)

// IngestOptions tunes batching and persistence of ingestion.
type IngestOptions struct {
	BatchSize   int
	Concurrency int
	// IndexPath, when set, is where the index is saved after every ingest.
	IndexPath string
	// OnProgress is called after each embedded batch with chunks done so far.
	OnProgress func(done, total int)
}

// IngestUseCase chunks documents, embeds the chunks and stores them in the
// index, replacing earlier entries of the same documents.
type IngestUseCase struct {
	chunker  port.Chunker
	embedder port.Embedder
	index    port.VectorIndex
	opts     IngestOptions
	log      *zap.Logger
}

// IngestResult contains the results of an ingest operation.
type IngestResult struct {
	Documents     int
	ChunksCreated int
	AddedIDs      []domain.EntryID
	// PerDocument maps each document id to the entry ids of its chunks.
	PerDocument map[string][]domain.EntryID
	Duration    time.Duration
}

func NewIngestUseCase(chunker port.Chunker, embedder port.Embedder, index port.VectorIndex, opts IngestOptions, log *zap.Logger) *IngestUseCase {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &IngestUseCase{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		opts:     opts,
		log:      logger.OrNop(log).Named("ingest"),
	}
}

// Ingest adds docs to the index. Nothing is committed unless every chunk was
// chunked and embedded; a document with no text still replaces its previous
// entries. If saving fails after the commit, the result is returned together
// with the ErrPersistence error: the in-memory index holds the new entries
// and the files on disk still hold the previous snapshot.
func (u *IngestUseCase) Ingest(ctx context.Context, docs []domain.Document) (*IngestResult, error) {
	start := time.Now()

	docIDs := make([]string, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	var chunks []domain.Chunk
	sourceOf := make(map[string]string, len(docs))

	for _, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return nil, fmt.Errorf("%w: document id is empty", domain.ErrConfig)
		}
		if _, dup := seen[doc.ID]; dup {
			return nil, fmt.Errorf("%w: document %s given twice", domain.ErrConfig, doc.ID)
		}
		seen[doc.ID] = struct{}{}
		docIDs = append(docIDs, doc.ID)
		sourceOf[doc.ID] = doc.SourcePath

		docChunks, err := u.chunker.Chunk(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to chunk %s: %w", doc.ID, err)
		}
		chunks = append(chunks, docChunks...)
	}

	vectors, err := u.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.EntryFromChunk(c, sourceOf[c.DocumentID], vectors[i])
	}

	ids, err := u.index.ReplaceDocuments(docIDs, entries)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		Documents:     len(docs),
		ChunksCreated: len(ids),
		AddedIDs:      ids,
		PerDocument:   make(map[string][]domain.EntryID, len(docs)),
	}
	for _, id := range docIDs {
		result.PerDocument[id] = []domain.EntryID{}
	}
	for i, c := range chunks {
		result.PerDocument[c.DocumentID] = append(result.PerDocument[c.DocumentID], ids[i])
	}

	result.Duration = time.Since(start)
	if u.opts.IndexPath != "" {
		if err := u.index.Save(u.opts.IndexPath); err != nil {
			u.log.Error("ingested but failed to save index", zap.String("path", u.opts.IndexPath), zap.Error(err))
			return result, err
		}
		result.Duration = time.Since(start)
	}

	u.log.Info("ingested",
		zap.Int("documents", result.Documents),
		zap.Int("chunks", result.ChunksCreated),
		zap.Duration("took", result.Duration))
	return result, nil
}

// Remove deletes the entries of docIDs and saves the index when any were
// removed. It returns the number of entries removed.
func (u *IngestUseCase) Remove(docIDs []string) (int, error) {
	removed := 0
	for _, id := range docIDs {
		removed += u.index.DeleteDocument(id)
	}
	if removed == 0 {
		return 0, nil
	}

	if u.opts.IndexPath != "" {
		if err := u.index.Save(u.opts.IndexPath); err != nil {
			return removed, err
		}
	}
	u.log.Info("documents removed", zap.Strings("documents", docIDs), zap.Int("entries", removed))
	return removed, nil
}

// embedChunks embeds chunk texts in batches, up to Concurrency batches at a
// time. No index lock is held while the embedder runs.
func (u *IngestUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	if len(chunks) == 0 {
		return vectors, nil
	}

	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)

	for start := 0; start < len(chunks); start += u.opts.BatchSize {
		start := start
		end := start + u.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Text
			}

			vecs, err := u.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrEmbeddingService, len(texts), len(vecs))
			}
			copy(vectors[start:end], vecs)

			n := atomic.AddInt64(&done, int64(len(texts)))
			if u.opts.OnProgress != nil {
				u.opts.OnProgress(int(n), len(chunks))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
