package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPineconeStore_QueryBuildsFilter(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []map[string]any{
				{"id": "t1", "score": 0.93, "values": []float32{1, 0}, "metadata": map[string]any{"system_id": "engine"}},
			},
		})
	}))
	defer srv.Close()

	s := NewPineconeStore(srv.URL, "secret", WithNamespace("tasks"))
	matches, err := s.Query(context.Background(), []float32{1, 0}, Filter{SystemID: "engine"}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "t1", matches[0].ID)
	assert.InDelta(t, 0.93, matches[0].Score, 1e-9)

	filter := captured["filter"].(map[string]any)
	sysEq := filter["system_id"].(map[string]any)
	assert.Equal(t, "engine", sysEq["$eq"])
	_, hasDup := filter["is_duplicate"]
	assert.True(t, hasDup, "hidden tasks excluded by default")
	assert.Equal(t, "tasks", captured["namespace"])
}

func TestPineconeStore_QueryRequiresFilter(t *testing.T) {
	s := NewPineconeStore("http://unused", "k")
	_, err := s.Query(context.Background(), []float32{1}, Filter{}, 5)
	require.Error(t, err)
}

func TestPineconeStore_MetadataPatchUsesUpdate(t *testing.T) {
	var path string
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := NewPineconeStore(srv.URL, "k")
	err := s.Upsert(context.Background(), "t1", nil, map[string]any{"is_duplicate": true})
	require.NoError(t, err)
	assert.Equal(t, "/vectors/update", path, "nil embedding must go through the merging update endpoint")
	assert.Equal(t, "t1", captured["id"])
	patch := captured["setMetadata"].(map[string]any)
	assert.Equal(t, true, patch["is_duplicate"])
}

func TestPineconeStore_FetchMissingReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vectors":{}}`))
	}))
	defer srv.Close()

	s := NewPineconeStore(srv.URL, "k")
	r, err := s.Fetch(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestPineconeStore_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := NewPineconeStore(srv.URL, "k")
	s.retry.InitialBackoff = 1
	err := s.Delete(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPineconeStore_ListPaginates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			assert.Equal(t, "task-", r.URL.Query().Get("prefix"))
			w.Write([]byte(`{"vectors":[{"id":"task-1"},{"id":"task-2"}],"pagination":{"next":"tok"}}`))
			return
		}
		assert.Equal(t, "tok", r.URL.Query().Get("paginationToken"))
		w.Write([]byte(`{"vectors":[{"id":"task-3"}]}`))
	}))
	defer srv.Close()

	s := NewPineconeStore(srv.URL, "k")
	ids, err := s.ListAll(context.Background(), "task-")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-2", "task-3"}, ids)
}
