// Package app wires the review assistant's components from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/cache/redis"
	"github.com/reco-agent/backend/internal/embedding"
	"github.com/reco-agent/backend/internal/filter"
	"github.com/reco-agent/backend/internal/ingestion"
	"github.com/reco-agent/backend/internal/kg/builder"
	"github.com/reco-agent/backend/internal/kg/neo4j"
	"github.com/reco-agent/backend/internal/llm"
	"github.com/reco-agent/backend/internal/policy"
	"github.com/reco-agent/backend/internal/query"
	"github.com/reco-agent/backend/internal/recorder"
	"github.com/reco-agent/backend/internal/research"
	"github.com/reco-agent/backend/internal/retrieval"
	"github.com/reco-agent/backend/internal/storage/sqlite"
	"github.com/reco-agent/backend/internal/suggest"
	"github.com/reco-agent/backend/internal/synth"
	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/internal/vector/memory"
	"github.com/reco-agent/backend/internal/vector/zilliz"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
)

type App struct {
	DB        *sqlite.Client
	Index     vector.Index
	Cache     *redis.Client
	Graph     *neo4j.Client
	Engine    *query.Engine
	Runner    *research.Runner
	Processor *ingestion.Processor
	Recorder  *recorder.Recorder

	closers []func() error
}

// Build connects every backend named in cfg. Redis and Neo4j are optional; a failure to
// reach them is logged and the feature disabled.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	index, err := openIndex(ctx, cfg.Vector)
	if err != nil {
		return nil, err
	}
	a.Index = index
	a.closers = append(a.closers, index.Close)

	var cache embedding.Cache
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		} else {
			a.Cache = rc
			cache = rc
			a.closers = append(a.closers, rc.Close)
		}
	}

	themes := builder.NewExtractor(0)
	var graph research.ThemeGraph
	var graphIndex ingestion.ThemeGraph
	if cfg.Themes.Enabled {
		gc, err := neo4j.NewClient(cfg.Themes)
		if err != nil {
			logger.Warn("Neo4j unavailable, continuing without theme graph", zap.Error(err))
		} else {
			if err := gc.EnsureSchema(ctx); err != nil {
				logger.Warn("Failed to create theme graph constraints", zap.Error(err))
			}
			a.Graph = gc
			graph = gc
			graphIndex = gc
			a.closers = append(a.closers, func() error { return gc.Close(context.Background()) })
		}
	}

	llmClient := llm.NewClient(cfg.LLM)
	embedder := embedding.NewClient(llmClient, cfg.LLM.EmbeddingDim, cache)

	sizing, err := retrieval.NewPolicy(cfg.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	retriever := retrieval.NewRetriever(index, db)
	synthesizer := synth.NewSynthesizer(llmClient, cfg.Synth)
	suggester := suggest.NewGenerator(llmClient, cfg.Suggest)
	a.Recorder = recorder.New(db)

	deps := query.Deps{
		Embedder:       embedder,
		Retriever:      retriever,
		Sizing:         sizing,
		Guard:          policy.NewGuard(cfg.Policy),
		Extractor:      filter.NewExtractor(cfg.Filter.AttributeTerms),
		Refiner:        filter.NewRefiner(cfg.Filter.FallbackThreshold, sizing.InDomain),
		Synth:          synthesizer,
		Suggester:      suggester,
		Recorder:       a.Recorder,
		DegradedSample: cfg.Retrieval.DegradedSample,
	}
	if a.Cache != nil {
		deps.Counter = a.Cache
	}
	a.Engine = query.NewEngine(deps)

	a.Runner = research.NewRunner(research.Deps{
		Store:     db,
		Embedder:  embedder,
		Retriever: retriever,
		Synth:     synthesizer,
		Suggester: suggester,
		Themes:    themes,
		Graph:     graph,
	}, cfg.Research)

	a.Processor = ingestion.NewProcessor(db, index, embedder, ingestion.Options{
		Themes: themes,
		Graph:  graphIndex,
	})

	ok = true
	return a, nil
}

func openIndex(ctx context.Context, cfg config.VectorConfig) (vector.Index, error) {
	switch cfg.Provider {
	case "zilliz", "milvus":
		zc, err := zilliz.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Zilliz client: %w", err)
		}
		if err := zc.CreateCollection(ctx); err != nil {
			zc.Close()
			return nil, fmt.Errorf("failed to create collection: %w", err)
		}
		return zc, nil
	case "memory", "":
		idx, err := memory.New(cfg.CollectionName, cfg.PersistPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory index: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.Provider)
	}
}

// Close waits for running research sessions, then releases backends in reverse order.
func (a *App) Close() {
	if a.Runner != nil {
		a.Runner.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close backend", zap.Error(err))
		}
	}
	a.closers = nil
}
