package bootstrap

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"policyrag/config"
	"policyrag/internal/adapter/cache"
	"policyrag/internal/adapter/chunker"
	"policyrag/internal/adapter/embedding"
	"policyrag/internal/adapter/llm"
	"policyrag/internal/adapter/memstore"
	"policyrag/internal/adapter/store"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
	"policyrag/internal/port"
	"policyrag/internal/usecase"
)

// Container wires the adapters and use cases configured by cfg. Fields are
// left nil for parts the Options did not ask for. QueryEmbedder is Embedder
// behind the query cache when retrieve.query_cache_ttl is set; ingest never
// goes through it.
type Container struct {
	Config        *config.Config
	Log           *zap.Logger
	Embedder      port.Embedder
	QueryEmbedder port.Embedder
	Index         *store.VectorIndex
	ConvLog       port.ConversationLog
	Memory        *usecase.ConversationMemory
	Retriever     *usecase.RetrieveUseCase
	Ingest        *usecase.IngestUseCase
	Answers       *usecase.AnswerUseCase
	Generator     port.Generator
}

type Options struct {
	// WithGenerator builds the language model client. Retrieval-only
	// commands leave it off and run without generation credentials.
	WithGenerator bool
	OnProgress    func(done, total int)
}

func New(cfg *config.Config, log *zap.Logger, opts Options) (*Container, error) {
	log = logger.OrNop(log)
	c := &Container{Config: cfg, Log: log}

	emb, err := NewEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	c.Embedder = emb
	c.QueryEmbedder = emb
	if cfg.Retrieve.QueryCacheTTL > 0 {
		c.QueryEmbedder = cache.NewCachedEmbedder(emb, cfg.Retrieve.QueryCacheTTL)
	}

	c.Index, err = OpenIndex(cfg, emb, log)
	if err != nil {
		return nil, err
	}

	if cfg.Memory.Path == "" {
		c.ConvLog = memstore.NewConversationLog()
	} else {
		c.ConvLog, err = store.NewBoltConversationLog(cfg.Memory.Path)
		if err != nil {
			return nil, err
		}
	}

	c.Memory, err = usecase.NewConversationMemory(c.ConvLog, cfg.Memory.MaxTurns, log)
	if err != nil {
		c.Close()
		return nil, err
	}

	chk, err := chunker.NewWindowChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Retriever = usecase.NewRetrieveUseCase(c.QueryEmbedder, c.Index, log)
	c.Ingest = usecase.NewIngestUseCase(chk, emb, c.Index, usecase.IngestOptions{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		IndexPath:   cfg.Index.Path,
		OnProgress:  opts.OnProgress,
	}, log)

	if opts.WithGenerator {
		gen, err := llm.NewForProvider(cfg.Generation.Provider, cfg.Generation.APIKeyEnv, llm.Options{
			BaseURL:           cfg.Generation.BaseURL,
			Model:             cfg.Generation.Model,
			Temperature:       cfg.Generation.Temperature,
			MaxTokens:         cfg.Generation.MaxTokens,
			Timeout:           cfg.Generation.Timeout,
			RequestsPerSecond: cfg.Generation.RequestsPerSecond,
			Logger:            log,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Generator = gen

		c.Answers, err = usecase.NewAnswerUseCase(c.Retriever, c.Memory, gen, usecase.AnswerOptions{
			TopK:         cfg.Retrieve.TopK,
			Threshold:    cfg.Retrieve.RelevanceThreshold,
			RecentTurns:  cfg.Memory.RecentTurns,
			FallbackText: cfg.Generation.FallbackAnswer,
		}, log)
		if err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// Assistant needs a container built WithGenerator.
func (c *Container) Assistant() *usecase.Assistant {
	return usecase.NewAssistant(c.Answers, c.Ingest, c.Memory, c.Index, c.Generator.ModelName())
}

func (c *Container) Close() {
	if c.ConvLog != nil {
		if err := c.ConvLog.Close(); err != nil {
			c.Log.Warn("failed to close conversation log", zap.Error(err))
		}
	}
}

// NewEmbedder builds the configured embedding provider.
func NewEmbedder(cfg *config.Config, log *zap.Logger) (port.Embedder, error) {
	ec := cfg.Embedding
	opts := embedding.Options{
		Model:             ec.Model,
		BaseURL:           ec.BaseURL,
		Dimension:         ec.Dimension,
		BatchSize:         ec.BatchSize,
		Timeout:           ec.Timeout,
		RequestsPerSecond: ec.RequestsPerSecond,
		Logger:            log,
	}

	var (
		emb port.Embedder
		err error
	)
	switch strings.ToLower(ec.Provider) {
	case "", "openai":
		emb, err = embedding.NewOpenAIEmbedder(ec.APIKeyEnv, opts)
	case "jina":
		emb, err = embedding.NewJinaEmbedder(ec.APIKeyEnv, opts)
	case "ollama":
		emb, err = embedding.NewOllamaEmbedder(opts)
	case "hash":
		dim := ec.Dimension
		if dim == 0 {
			dim = embedding.DefaultHashDimension
		}
		emb, err = embedding.NewHashEmbedder(dim)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrConfig, ec.Provider)
	}
	if err != nil {
		return nil, err
	}
	return emb, nil
}

// OpenIndex loads the saved index, or starts an empty one when none exists.
// A saved index must match the embedder and the configured metric.
func OpenIndex(cfg *config.Config, emb port.Embedder, log *zap.Logger) (*store.VectorIndex, error) {
	metric, err := domain.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}

	if !store.IndexExists(cfg.Index.Path) {
		return store.NewVectorIndex(emb.Dimension(), metric, emb.ModelName(), log)
	}

	idx, err := store.OpenVectorIndex(cfg.Index.Path, log)
	if err != nil {
		return nil, err
	}
	switch {
	case idx.Dimension() != emb.Dimension():
		return nil, fmt.Errorf("%w: index at %s has dimension %d but embedder %s produces %d; re-ingest to rebuild",
			domain.ErrDimension, cfg.Index.Path, idx.Dimension(), emb.ModelName(), emb.Dimension())
	case idx.Model() != emb.ModelName():
		return nil, fmt.Errorf("%w: index at %s was built with %q, configured model is %q",
			domain.ErrConfig, cfg.Index.Path, idx.Model(), emb.ModelName())
	case idx.Metric() != metric:
		return nil, fmt.Errorf("%w: index at %s uses metric %s, configured metric is %s",
			domain.ErrConfig, cfg.Index.Path, idx.Metric(), metric)
	}
	return idx, nil
}
