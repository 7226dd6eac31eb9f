package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/classifier"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/similarity"
)

// Analyze runs a full pairwise duplicate pass with the strict batch
// config and persists every detected pair as pending review. The pass
// is O(N²) per system, deliberate for corpora of hundreds of tasks; the
// retriever path is the scalable one for live inserts.
//
// The fingerprint cache is scoped to this run; pass nil to use a fresh
// one. If the run is interrupted, pairs already persisted stay valid —
// the ledger, not the run summary, is the source of truth for counts.
func (e *Engine) Analyze(ctx context.Context, systemFilter string, cache *FingerprintCache) (*model.AnalysisRun, []model.DuplicatePair, error) {
	if cache == nil {
		cache = NewFingerprintCache()
	}
	defer cache.Clear()

	bySystem, err := e.loadActiveTasks(ctx, systemFilter, cache)
	if err != nil {
		return nil, nil, err
	}

	run, err := e.ledger.CreateAnalysisRun(ctx, systemFilter, e.opts.Batch.Thresholds())
	if err != nil {
		return nil, nil, &StoreError{Op: "create analysis run", Err: err}
	}

	var (
		mu       sync.Mutex
		pairs    []model.DuplicatePair
		compared int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.AnalyzeConcurrency)

	for system, tasks := range bySystem {
		system, tasks := system, tasks
		mu.Lock()
		compared += len(tasks)
		mu.Unlock()

		g.Go(func() error {
			found, err := e.comparePairwise(gctx, run.ID, tasks)
			if err != nil {
				return err
			}
			if len(found) > 0 {
				zap.L().Debug("engine: system pass found pairs",
					zap.String("system_id", system), zap.Int("pairs", len(found)))
			}
			mu.Lock()
			pairs = append(pairs, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return run, nil, err
	}

	// Deterministic presentation order regardless of goroutine timing.
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })

	saved, err := e.ledger.BulkSavePairs(ctx, run.ID, pairs)
	if err != nil {
		return run, pairs, &StoreError{Op: "save analysis pairs", Err: err}
	}

	if err := e.ledger.CompleteAnalysisRun(ctx, run.ID, compared, saved); err != nil {
		return run, pairs, &StoreError{Op: "complete analysis run", Err: err}
	}
	run.TasksCompared = compared
	run.PairsFound = saved
	run.Status = "complete"

	zap.L().Info("engine: analysis complete",
		zap.String("analysis_id", run.ID),
		zap.Int("tasks_compared", compared),
		zap.Int("pairs_found", saved))
	return run, pairs, nil
}

func (e *Engine) comparePairwise(ctx context.Context, analysisID string, tasks []model.Task) ([]model.DuplicatePair, error) {
	var pairs []model.DuplicatePair
	for i := 0; i < len(tasks); i++ {
		if err := ctx.Err(); err != nil {
			return pairs, err
		}
		for j := i + 1; j < len(tasks); j++ {
			a, b := tasks[i], tasks[j]
			sim := similarity.Cosine(a.Embedding, b.Embedding)
			verdict, err := classifier.Classify(e.opts.Batch, a, b, sim)
			if err != nil {
				return pairs, err
			}
			if verdict.Verdict == classifier.VerdictInsert {
				continue
			}
			// Batch analysis never applies decisions itself; even
			// auto-merge-grade pairs go to a human queue.
			pairs = append(pairs, model.DuplicatePair{
				AnalysisID:   analysisID,
				TaskA:        a,
				TaskB:        b,
				Similarity:   verdict.Similarity,
				MatchReason:  verdict.Reason,
				ReviewStatus: model.PairPending,
			})
		}
	}
	return pairs, nil
}

// loadActiveTasks pages the whole store and buckets live tasks by
// system. Hidden, invalid and rejected tasks never re-enter analysis.
// The fingerprint cache drops byte-identical task content within the
// run so re-extracted copies of the same manual line are not compared
// against themselves.
func (e *Engine) loadActiveTasks(ctx context.Context, systemFilter string, cache *FingerprintCache) (map[string][]model.Task, error) {
	ids, err := e.vectors.ListAll(ctx, "")
	if err != nil {
		return nil, &StoreError{Op: "list tasks", Err: err}
	}

	bySystem := make(map[string][]model.Task)
	for _, id := range ids {
		rec, err := e.vectors.Fetch(ctx, id)
		if err != nil {
			return nil, &StoreError{Op: "fetch task " + id, Err: err}
		}
		if rec == nil {
			continue
		}

		task := model.TaskFromMetadata(rec.ID, rec.Embedding, rec.Metadata)
		if task.SystemID == "" || !taskActive(task) {
			continue
		}
		if systemFilter != "" && !strings.EqualFold(task.SystemID, systemFilter) {
			continue
		}
		freq := ""
		if task.FrequencyValue != nil {
			freq = fmt.Sprintf("%g", *task.FrequencyValue)
		}
		if cache.Seen(task.SystemID, task.Description, freq, string(task.FrequencyUnit), string(task.FrequencyBasis)) {
			zap.L().Debug("engine: skipping identical content", zap.String("task_id", task.ID))
			continue
		}
		bySystem[task.SystemID] = append(bySystem[task.SystemID], task)
	}
	return bySystem, nil
}

func taskActive(t model.Task) bool {
	if t.IsDuplicate {
		return false
	}
	switch t.ReviewStatus {
	case model.TaskDuplicateHidden, model.TaskInvalid, model.TaskRejected:
		return false
	}
	return true
}
