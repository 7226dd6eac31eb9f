package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/classifier"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/engine"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/ledger"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/vectorstore"
)

// appEnv bundles the wired collaborators for one command invocation.
type appEnv struct {
	Ledger  ledger.Store
	Vectors vectorstore.Store
	Engine  *engine.Engine
}

func (e *appEnv) Close() {
	if e.Ledger != nil {
		if err := e.Ledger.Close(); err != nil {
			zap.L().Warn("closing ledger", zap.Error(err))
		}
	}
}

func initLedger(ctx context.Context) (ledger.Store, error) {
	switch cfg.Ledger.Driver {
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Ledger.DatabaseURL, &cfg.Ledger.Pool)
	case "sqlite":
		return ledger.NewSQLite(cfg.Ledger.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

func initVectors() (vectorstore.Store, error) {
	switch cfg.Vector.Driver {
	case "pinecone":
		if cfg.Vector.IndexURL == "" {
			return nil, eris.New("vector.index_url is required for the pinecone driver")
		}
		return vectorstore.NewPineconeStore(cfg.Vector.IndexURL, cfg.Vector.APIKey,
			vectorstore.WithNamespace(cfg.Vector.Namespace),
			vectorstore.WithRateLimit(cfg.Vector.RateLimit),
		), nil
	case "memory":
		// Useful only for local experiments; state is per-process.
		return vectorstore.NewMemoryStore(), nil
	default:
		return nil, eris.Errorf("unknown vector driver %q", cfg.Vector.Driver)
	}
}

func initEnv(ctx context.Context) (*appEnv, error) {
	led, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}

	vectors, err := initVectors()
	if err != nil {
		led.Close()
		return nil, err
	}

	live := classifier.LiveInsertConfig()
	batch := classifier.BatchAnalysisConfig()
	if cfg.Dedup.AutoMergeThreshold > 0 {
		live.AutoMergeThreshold, batch.AutoMergeThreshold = cfg.Dedup.AutoMergeThreshold, cfg.Dedup.AutoMergeThreshold
	}
	if cfg.Dedup.ReviewThreshold > 0 {
		live.ReviewThreshold, batch.ReviewThreshold = cfg.Dedup.ReviewThreshold, cfg.Dedup.ReviewThreshold
	}
	if cfg.Dedup.CompoundThreshold > 0 {
		live.CompoundThreshold, batch.CompoundThreshold = cfg.Dedup.CompoundThreshold, cfg.Dedup.CompoundThreshold
	}

	eng, err := engine.New(vectors, led, engine.Options{
		Live:                live,
		Batch:               batch,
		TopK:                cfg.Dedup.TopK,
		DiagnosticThreshold: cfg.Dedup.DiagnosticThreshold,
		ExecuteConcurrency:  cfg.Execute.Concurrency,
	})
	if err != nil {
		led.Close()
		return nil, err
	}

	return &appEnv{Ledger: led, Vectors: vectors, Engine: eng}, nil
}
