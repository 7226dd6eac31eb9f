package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/ledger"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/vectorstore"
)

// vecAt returns a unit vector whose cosine similarity to vecAt(1) is s.
func vecAt(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

func newTestEngine(t *testing.T, vectors vectorstore.Store) (*Engine, ledger.Store) {
	t.Helper()
	store, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	eng, err := New(vectors, store, Options{})
	require.NoError(t, err)
	return eng, store
}

func seedTask(t *testing.T, vectors vectorstore.Store, task model.Task) {
	t.Helper()
	require.NoError(t, vectors.Upsert(context.Background(), task.ID, task.Embedding, task.Metadata()))
}

func usageTask(id, system, desc string, hours float64, sim float64) model.Task {
	return model.Task{
		ID:             id,
		Description:    desc,
		SystemID:       system,
		FrequencyValue: &hours,
		FrequencyUnit:  model.UnitHours,
		FrequencyBasis: model.BasisUsage,
		TaskType:       "replace",
		ReviewStatus:   model.TaskApproved,
		Embedding:      vecAt(sim),
	}
}

func resolvedPair(a, b model.Task, status model.PairStatus) model.DuplicatePair {
	return model.DuplicatePair{
		ID:           "pair-" + a.ID + "-" + b.ID,
		TaskA:        a,
		TaskB:        b,
		Similarity:   0.95,
		MatchReason:  model.ReasonFrequencyMatch,
		ReviewStatus: status,
	}
}

func TestExecute_KeepBoth_NoMutation(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	eng, _ := newTestEngine(t, vectors)
	ctx := context.Background()

	a := usageTask("a", "engine-port", "Replace fuel filter", 500, 1.0)
	b := usageTask("b", "engine-port", "Change fuel filter element", 500, 0.94)
	seedTask(t, vectors, a)
	seedTask(t, vectors, b)

	require.NoError(t, eng.Execute(ctx, resolvedPair(a, b, model.PairKeepBoth)))

	rec, err := vectors.Fetch(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, rec.Metadata["is_duplicate"])
	assert.Equal(t, string(model.TaskApproved), rec.Metadata["review_status"])
}

func TestExecute_Merge_HidesLoserAndPreservesEmbedding(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	eng, _ := newTestEngine(t, vectors)
	ctx := context.Background()

	a := usageTask("a", "engine-port", "Replace fuel filter", 500, 1.0)
	b := usageTask("b", "engine-port", "Change fuel filter element", 500, 0.94)
	seedTask(t, vectors, a)
	seedTask(t, vectors, b)

	require.NoError(t, eng.Execute(ctx, resolvedPair(a, b, model.PairMerge)))

	rec, err := vectors.Fetch(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, true, rec.Metadata["is_duplicate"])
	assert.Equal(t, "a", rec.Metadata["duplicate_of"])
	assert.Equal(t, string(model.TaskDuplicateHidden), rec.Metadata["review_status"])
	assert.NotEmpty(t, rec.Metadata["duplicate_marked_at"])
	// Merge-patch must leave the rest of the metadata intact.
	assert.Equal(t, "Change fuel filter element", rec.Metadata["description"])
	// Bit-for-bit embedding preservation.
	assert.Equal(t, b.Embedding, rec.Embedding)

	// The winner is untouched.
	winner, err := vectors.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, winner.Metadata["is_duplicate"])
}

func TestExecute_DeleteTask1_HidesFirstSide(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	eng, _ := newTestEngine(t, vectors)
	ctx := context.Background()

	a := usageTask("a", "genset", "Check oil level", 24, 1.0)
	b := usageTask("b", "genset", "Verify oil level", 24, 0.95)
	seedTask(t, vectors, a)
	seedTask(t, vectors, b)

	require.NoError(t, eng.Execute(ctx, resolvedPair(a, b, model.PairDeleteTask1)))

	rec, err := vectors.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, true, rec.Metadata["is_duplicate"])
	assert.Equal(t, "b", rec.Metadata["duplicate_of"])

	other, err := vectors.Fetch(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, other.Metadata["is_duplicate"])
}

func TestExecute_DeleteBoth_MarksBothInvalid(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	eng, _ := newTestEngine(t, vectors)
	ctx := context.Background()

	a := usageTask("a", "genset", "Do the thing", 24, 1.0)
	b := usageTask("b", "genset", "Do the thing again", 24, 0.95)
	seedTask(t, vectors, a)
	seedTask(t, vectors, b)

	require.NoError(t, eng.Execute(ctx, resolvedPair(a, b, model.PairDeleteBoth)))

	for _, id := range []string{"a", "b"} {
		rec, err := vectors.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, true, rec.Metadata["is_duplicate"], id)
		assert.Equal(t, string(model.TaskInvalid), rec.Metadata["review_status"], id)
		// Neither survives as the real one.
		assert.Nil(t, rec.Metadata["duplicate_of"], id)
	}
}

func TestExecute_Idempotent(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	eng, _ := newTestEngine(t, vectors)
	ctx := context.Background()

	a := usageTask("a", "engine-port", "Replace impeller", 500, 1.0)
	b := usageTask("b", "engine-port", "Change impeller", 500, 0.94)
	seedTask(t, vectors, a)
	seedTask(t, vectors, b)

	pair := resolvedPair(a, b, model.PairMerge)
	require.NoError(t, eng.Execute(ctx, pair))
	first, err := vectors.Fetch(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, eng.Execute(ctx, pair))
	second, err := vectors.Fetch(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, first.Embedding, second.Embedding)
	assert.Equal(t, first.Metadata["is_duplicate"], second.Metadata["is_duplicate"])
	assert.Equal(t, first.Metadata["duplicate_of"], second.Metadata["duplicate_of"])

	// An executed pair handed in anyway is a no-op, not an error.
	pair.Executed = true
	require.NoError(t, eng.Execute(ctx, pair))
}

func TestExecute_UnresolvedPairRejected(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	eng, _ := newTestEngine(t, vectors)

	a := usageTask("a", "genset", "x", 24, 1.0)
	b := usageTask("b", "genset", "y", 24, 0.9)
	err := eng.Execute(context.Background(), resolvedPair(a, b, model.PairPending))

	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestExecute_MissingTaskTolerated(t *testing.T) {
	vectors := vectorstore.NewMemoryStore()
	eng, _ := newTestEngine(t, vectors)

	a := usageTask("a", "genset", "x", 24, 1.0)
	b := usageTask("ghost", "genset", "y", 24, 0.9)
	seedTask(t, vectors, a)

	// TaskB was removed out of band; execution still succeeds.
	require.NoError(t, eng.Execute(context.Background(), resolvedPair(a, b, model.PairMerge)))
}

// failingStore wraps a Store and fails Upsert for one id.
type failingStore struct {
	vectorstore.Store
	failID string
}

func (f *failingStore) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	if id == f.failID {
		return eris.New("simulated outage")
	}
	return f.Store.Upsert(ctx, id, embedding, metadata)
}

func TestExecuteAll_PartialFailureContinues(t *testing.T) {
	inner := vectorstore.NewMemoryStore()
	vectors := &failingStore{Store: inner, failID: "b2"}
	eng, store := newTestEngine(t, vectors)
	ctx := context.Background()

	a1 := usageTask("a1", "engine-port", "Replace fuel filter", 500, 1.0)
	b1 := usageTask("b1", "engine-port", "Change fuel filter", 500, 0.94)
	a2 := usageTask("a2", "genset", "Check belt tension", 250, 1.0)
	b2 := usageTask("b2", "genset", "Inspect belt tension", 250, 0.95)
	for _, task := range []model.Task{a1, b1, a2, b2} {
		seedTask(t, inner, task)
	}

	run, err := store.CreateAnalysisRun(ctx, "", eng.opts.Batch.Thresholds())
	require.NoError(t, err)
	_, err = store.BulkSavePairs(ctx, run.ID, []model.DuplicatePair{
		resolvedPair(a1, b1, model.PairPending),
		resolvedPair(a2, b2, model.PairPending),
	})
	require.NoError(t, err)

	pending, err := store.GetPendingReviews(ctx, 10, 0, "")
	require.NoError(t, err)
	for _, p := range pending {
		require.NoError(t, store.UpdateReviewStatus(ctx, p.ID, model.PairMerge, "", "brad"))
	}

	report, err := eng.ExecuteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)

	// The failed pair stays on the queue with its error recorded.
	queue, err := store.GetUnexecutedReviews(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "b2", queue[0].TaskB.ID)
	assert.Contains(t, queue[0].ExecutionError, "simulated outage")

	// A second pass retries only the failed pair.
	vectors.failID = ""
	report, err = eng.ExecuteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
	assert.Zero(t, report.Failed)

	queue, err = store.GetUnexecutedReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}
