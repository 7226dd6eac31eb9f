package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

// Report summarizes a batch execution pass. Per-pair failures are
// recorded here and on the pairs themselves; they never abort the run.
type Report struct {
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Execute idempotently applies a resolved review decision to the vector
// store. A pair already flagged executed is a no-op, never an error:
// MarkExecuted is the serialization point between concurrent executors.
func (e *Engine) Execute(ctx context.Context, pair model.DuplicatePair) error {
	if pair.Executed {
		zap.L().Debug("engine: pair already executed, skipping", zap.String("pair_id", pair.ID))
		return nil
	}

	switch pair.ReviewStatus {
	case model.PairKeepBoth:
		// Decision is "not duplicates"; nothing to mutate.
		return nil
	case model.PairMerge, model.PairDeleteTask2:
		return e.hideTask(ctx, pair.TaskB.ID, pair.TaskA.ID, model.TaskDuplicateHidden)
	case model.PairDeleteTask1:
		return e.hideTask(ctx, pair.TaskA.ID, pair.TaskB.ID, model.TaskDuplicateHidden)
	case model.PairDeleteBoth:
		if err := e.hideTask(ctx, pair.TaskA.ID, "", model.TaskInvalid); err != nil {
			return err
		}
		return e.hideTask(ctx, pair.TaskB.ID, "", model.TaskInvalid)
	default:
		return &ValidationError{Msg: "pair " + pair.ID + " has no resolved decision to execute"}
	}
}

// hideTask marks the losing task as a duplicate via a metadata
// merge-patch. The record is never physically deleted and its embedding
// is never touched, so future similarity search keeps working.
func (e *Engine) hideTask(ctx context.Context, taskID, winnerID string, status model.TaskStatus) error {
	rec, err := e.vectors.Fetch(ctx, taskID)
	if err != nil {
		return &StoreError{Op: "fetch task " + taskID, Err: err}
	}
	if rec == nil {
		// The task was removed out of band; the pair still records the
		// decision, so this is not a failure.
		zap.L().Warn("engine: task missing during execution", zap.String("task_id", taskID))
		return nil
	}

	patch := map[string]any{
		"is_duplicate":        true,
		"review_status":       string(status),
		"duplicate_marked_at": time.Now().UTC().Format(time.RFC3339),
	}
	if winnerID != "" {
		patch["duplicate_of"] = winnerID
	}

	if err := e.vectors.Upsert(ctx, taskID, nil, patch); err != nil {
		return &StoreError{Op: "patch task " + taskID, Err: err}
	}
	return nil
}

// ExecuteAll drains the unexecuted-review queue with bounded
// concurrency. Each pair's outcome is written back to the ledger; one
// failing pair does not stop the rest.
func (e *Engine) ExecuteAll(ctx context.Context) (*Report, error) {
	queue, err := e.ledger.GetUnexecutedReviews(ctx)
	if err != nil {
		return nil, &StoreError{Op: "load unexecuted reviews", Err: err}
	}

	report := &Report{Errors: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ExecuteConcurrency)

	for _, pair := range queue {
		pair := pair
		g.Go(func() error {
			if err := e.Execute(gctx, pair); err != nil {
				execErr := &ExecutionError{PairID: pair.ID, Err: err}
				zap.L().Warn("engine: pair execution failed",
					zap.String("pair_id", pair.ID), zap.Error(execErr))
				if markErr := e.ledger.MarkExecuted(gctx, pair.ID, false, execErr.Error()); markErr != nil {
					zap.L().Error("engine: failed to record execution error",
						zap.String("pair_id", pair.ID), zap.Error(markErr))
				}
				mu.Lock()
				report.Failed++
				report.Errors[pair.ID] = execErr.Error()
				mu.Unlock()
				return nil
			}

			if err := e.ledger.MarkExecuted(gctx, pair.ID, true, ""); err != nil {
				mu.Lock()
				report.Failed++
				report.Errors[pair.ID] = "mark executed: " + err.Error()
				mu.Unlock()
				return nil
			}

			mu.Lock()
			report.Successful++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	zap.L().Info("engine: execution pass complete",
		zap.Int("successful", report.Successful), zap.Int("failed", report.Failed))
	return report, nil
}
