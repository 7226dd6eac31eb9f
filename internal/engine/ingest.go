package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/classifier"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/retriever"
)

// IngestResult reports what happened to one ingested candidate.
type IngestResult struct {
	TaskID     string             `json:"task_id"`
	Verdict    classifier.Verdict `json:"verdict"`
	Reason     model.MatchReason  `json:"reason"`
	Similarity float64            `json:"similarity"`
	// BestMatch is the nearest stored task the verdict was decided
	// against; nil when the scope had no candidates at all.
	BestMatch *model.Task `json:"best_match,omitempty"`
	// PairID is set when the verdict produced a ledger pair (a pending
	// review or an already-executed auto-merge).
	PairID string `json:"pair_id,omitempty"`
	// Matches lists borderline candidates at or above the diagnostic
	// threshold, populated even when the verdict is insert.
	Matches []retriever.Match `json:"matches,omitempty"`
}

// Ingest runs the insert-time flow for one new candidate: retrieve
// nearest neighbors in scope, classify against the best, then insert,
// auto-merge, or queue a review. Uses the permissive live config.
func (e *Engine) Ingest(ctx context.Context, task model.Task) (*IngestResult, error) {
	if len(task.Embedding) == 0 {
		return nil, &DataError{Field: "embedding", Msg: "required for similarity comparison"}
	}
	if task.SystemID == "" {
		return nil, &DataError{Field: "system_id", Msg: "tasks are only compared within a system"}
	}
	if task.Description == "" {
		return nil, &DataError{Field: "description", Msg: "required"}
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.ReviewStatus == "" {
		task.ReviewStatus = model.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	matches, err := e.retr.Retrieve(ctx, task.Embedding, task.SystemID, e.opts.TopK)
	if err != nil {
		return nil, &StoreError{Op: "retrieve candidates", Err: err}
	}

	res := &IngestResult{
		TaskID:  task.ID,
		Verdict: classifier.VerdictInsert,
		Reason:  model.ReasonBelowThreshold,
		Matches: diagnosticMatches(matches, e.opts.DiagnosticThreshold),
	}

	if len(matches) == 0 {
		if err := e.insertTask(ctx, task); err != nil {
			return nil, err
		}
		return res, nil
	}

	best := matches[0]
	verdict, err := classifier.Classify(e.opts.Live, task, best.Task, best.Similarity)
	if err != nil {
		// Scope mismatch here means the retriever filter was bypassed;
		// a logic fault, not a recoverable condition.
		return nil, err
	}
	res.Verdict = verdict.Verdict
	res.Reason = verdict.Reason
	res.Similarity = verdict.Similarity
	res.BestMatch = &best.Task

	switch verdict.Verdict {
	case classifier.VerdictAutoMerge:
		pairID, err := e.autoMerge(ctx, task, best, verdict)
		if err != nil {
			return nil, err
		}
		res.PairID = pairID

	case classifier.VerdictReview:
		if err := e.insertTask(ctx, task); err != nil {
			return nil, err
		}
		pairID, err := e.queueReview(ctx, task, best, verdict)
		if err != nil {
			return nil, err
		}
		res.PairID = pairID

	default:
		if err := e.insertTask(ctx, task); err != nil {
			return nil, err
		}
	}

	zap.L().Info("engine: ingested task",
		zap.String("task_id", task.ID),
		zap.String("system_id", task.SystemID),
		zap.String("verdict", string(res.Verdict)),
		zap.Float64("similarity", res.Similarity))
	return res, nil
}

func (e *Engine) insertTask(ctx context.Context, task model.Task) error {
	if err := e.vectors.Upsert(ctx, task.ID, task.Embedding, task.Metadata()); err != nil {
		return &StoreError{Op: "insert task " + task.ID, Err: err}
	}
	return nil
}

// autoMerge stores the new task already hidden behind the existing one
// and records an executed merge pair so the decision is auditable.
func (e *Engine) autoMerge(ctx context.Context, task model.Task, best retriever.Match, verdict classifier.Result) (string, error) {
	task.IsDuplicate = true
	task.DuplicateOf = best.Task.ID
	task.ReviewStatus = model.TaskDuplicateHidden
	if err := e.insertTask(ctx, task); err != nil {
		return "", err
	}

	runID, err := e.liveRun(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	pair := model.DuplicatePair{
		ID:           uuid.New().String(),
		AnalysisID:   runID,
		TaskA:        best.Task,
		TaskB:        task,
		Similarity:   verdict.Similarity,
		MatchReason:  verdict.Reason,
		ReviewStatus: model.PairMerge,
		ReviewedBy:   "auto_merge",
		ReviewedAt:   &now,
		Executed:     true,
		ExecutedAt:   &now,
	}
	if _, err := e.ledger.BulkSavePairs(ctx, runID, []model.DuplicatePair{pair}); err != nil {
		return "", &StoreError{Op: "record auto-merge pair", Err: err}
	}
	return pair.ID, nil
}

func (e *Engine) queueReview(ctx context.Context, task model.Task, best retriever.Match, verdict classifier.Result) (string, error) {
	runID, err := e.liveRun(ctx)
	if err != nil {
		return "", err
	}

	pair := model.DuplicatePair{
		ID:           uuid.New().String(),
		AnalysisID:   runID,
		TaskA:        best.Task,
		TaskB:        task,
		Similarity:   verdict.Similarity,
		MatchReason:  verdict.Reason,
		ReviewStatus: model.PairPending,
	}
	if _, err := e.ledger.BulkSavePairs(ctx, runID, []model.DuplicatePair{pair}); err != nil {
		return "", &StoreError{Op: "queue review pair", Err: err}
	}
	return pair.ID, nil
}

func diagnosticMatches(matches []retriever.Match, floor float64) []retriever.Match {
	var out []retriever.Match
	for _, m := range matches {
		if m.Similarity >= floor {
			out = append(out, m)
		}
	}
	return out
}
