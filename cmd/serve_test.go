package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/classifier"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/engine"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/ledger"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/vectorstore"
)

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	vectors := vectorstore.NewMemoryStore()

	led, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, led.Migrate(context.Background()))
	t.Cleanup(func() { led.Close() })

	eng, err := engine.New(vectors, led, engine.Options{})
	require.NoError(t, err)

	return &appEnv{Ledger: led, Vectors: vectors, Engine: eng}
}

func testVec(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

// seedPair stores two tasks in the vector store and one pending pair in
// the ledger, returning the pair id.
func seedPair(t *testing.T, env *appEnv) string {
	t.Helper()
	ctx := context.Background()

	hours := 500.0
	a := model.Task{
		ID: "a", Description: "Replace fuel filter", SystemID: "engine-port",
		FrequencyValue: &hours, FrequencyUnit: model.UnitHours, FrequencyBasis: model.BasisUsage,
		ReviewStatus: model.TaskApproved, Embedding: testVec(1.0),
	}
	b := model.Task{
		ID: "b", Description: "Change fuel filter element", SystemID: "engine-port",
		FrequencyValue: &hours, FrequencyUnit: model.UnitHours, FrequencyBasis: model.BasisUsage,
		ReviewStatus: model.TaskApproved, Embedding: testVec(0.94),
	}
	require.NoError(t, env.Vectors.Upsert(ctx, a.ID, a.Embedding, a.Metadata()))
	require.NoError(t, env.Vectors.Upsert(ctx, b.ID, b.Embedding, b.Metadata()))

	run, err := env.Ledger.CreateAnalysisRun(ctx, "", classifier.BatchAnalysisConfig().Thresholds())
	require.NoError(t, err)
	_, err = env.Ledger.BulkSavePairs(ctx, run.ID, []model.DuplicatePair{{
		TaskA: a, TaskB: b, Similarity: 0.94,
		MatchReason: model.ReasonFrequencyMatch, ReviewStatus: model.PairPending,
	}})
	require.NoError(t, err)

	pending, err := env.Ledger.GetPendingReviews(ctx, 1, 0, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	return pending[0].ID
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeReviewLifecycle(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)
	pairID := seedPair(t, env)

	// Pending queue shows the pair.
	rec := doJSON(t, router, http.MethodGet, "/reviews/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Count int `json:"count"`
		Pairs []model.DuplicatePair
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, 1, pending.Count)

	// Systems list covers both snapshot sides.
	rec = doJSON(t, router, http.MethodGet, "/systems", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "engine-port")

	// Resolve as merge.
	rec = doJSON(t, router, http.MethodPost, "/reviews/"+pairID+"/resolve", map[string]string{
		"status": "merge", "reviewed_by": "brad", "notes": "same filter job",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Execute applies it to the vector store.
	rec = doJSON(t, router, http.MethodPost, "/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report engine.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Successful)
	assert.Zero(t, report.Failed)

	loser, err := env.Vectors.Fetch(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, true, loser.Metadata["is_duplicate"])
	assert.Equal(t, "a", loser.Metadata["duplicate_of"])

	// Stats reflect the executed merge.
	rec = doJSON(t, router, http.MethodGet, "/reviews/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.ReviewStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Executed)
	assert.Zero(t, stats.Unexecuted)
}

func TestServeResolve_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)
	pairID := seedPair(t, env)

	rec := doJSON(t, router, http.MethodPost, "/reviews/"+pairID+"/resolve", map[string]string{
		"status": "obliterate",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Re-queueing through the API is not allowed either.
	rec = doJSON(t, router, http.MethodPost, "/reviews/"+pairID+"/resolve", map[string]string{
		"status": "pending",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeResolve_UnknownPair(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := doJSON(t, router, http.MethodPost, "/reviews/ghost/resolve", map[string]string{
		"status": "keep_both",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServeBulkResolve_PartialSuccess(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)
	pairID := seedPair(t, env)

	rec := doJSON(t, router, http.MethodPost, "/reviews/bulk-resolve", map[string]any{
		"pair_ids": []string{pairID, "ghost"}, "status": "keep_both", "reviewed_by": "brad",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res ledger.BulkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors, "ghost")
}

func TestShutdownServer_DrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	status := make(chan int, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)

	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	// Shutdown must block until the slow request finishes; Close models
	// the process exiting right after, which would cut off anything
	// still in flight.
	<-started
	shutdownServer(srv, 5*time.Second)
	srv.Close()

	assert.Equal(t, http.StatusOK, <-status)
}

func TestServeBulkResolve_RequiresIDs(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := doJSON(t, router, http.MethodPost, "/reviews/bulk-resolve", map[string]any{
		"pair_ids": []string{}, "status": "merge",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
