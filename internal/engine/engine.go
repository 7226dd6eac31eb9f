// Package engine ties the normalizer, retriever, classifier, ledger and
// vector store together into the three operational flows: insert-time
// ingest, offline batch analysis, and execution of resolved reviews.
package engine

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/classifier"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/ledger"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/retriever"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/vectorstore"
)

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// Live classifies insert-time candidates; permissive on task type.
	Live classifier.Config
	// Batch classifies offline pairwise passes; strict on task type.
	Batch classifier.Config
	// TopK bounds candidate retrieval during ingest.
	TopK int
	// DiagnosticThreshold is the floor for borderline matches reported
	// back to the caller even when the verdict is insert.
	DiagnosticThreshold float64
	// ExecuteConcurrency bounds parallel pair execution.
	ExecuteConcurrency int
	// AnalyzeConcurrency bounds parallel per-system batch passes.
	AnalyzeConcurrency int
}

func (o Options) withDefaults() Options {
	if o.Live == (classifier.Config{}) {
		o.Live = classifier.LiveInsertConfig()
	}
	if o.Batch == (classifier.Config{}) {
		o.Batch = classifier.BatchAnalysisConfig()
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.DiagnosticThreshold <= 0 {
		o.DiagnosticThreshold = 0.70
	}
	if o.ExecuteConcurrency <= 0 {
		o.ExecuteConcurrency = 4
	}
	if o.AnalyzeConcurrency <= 0 {
		o.AnalyzeConcurrency = 4
	}
	return o
}

// Engine is the orchestrator over the two collaborator contracts.
type Engine struct {
	vectors vectorstore.Store
	ledger  ledger.Store
	retr    *retriever.Retriever
	opts    Options

	// liveRunID groups pairs produced by insert-time ingest; created
	// lazily on the first ingest that needs one.
	liveMu    sync.Mutex
	liveRunID string
}

// New creates an Engine over the given collaborators.
func New(vectors vectorstore.Store, ledgerStore ledger.Store, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Live.Validate(); err != nil {
		return nil, eris.Wrap(err, "engine: live config")
	}
	if err := opts.Batch.Validate(); err != nil {
		return nil, eris.Wrap(err, "engine: batch config")
	}
	return &Engine{
		vectors: vectors,
		ledger:  ledgerStore,
		retr:    retriever.New(vectors),
		opts:    opts,
	}, nil
}

func (e *Engine) liveRun(ctx context.Context) (string, error) {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()
	if e.liveRunID != "" {
		return e.liveRunID, nil
	}

	run, err := e.ledger.CreateAnalysisRun(ctx, "", e.opts.Live.Thresholds())
	if err != nil {
		return "", &StoreError{Op: "create live analysis run", Err: err}
	}
	e.liveRunID = run.ID
	return e.liveRunID, nil
}
