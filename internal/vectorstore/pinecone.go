package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/resilience"
)

// PineconeStore talks to a Pinecone-style serverless index over REST.
// Metadata patches go through the update endpoint, which merges keys and
// leaves the stored vector untouched, so Upsert with a nil embedding is
// merge-preserving by construction.
type PineconeStore struct {
	indexURL  string
	apiKey    string
	namespace string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// PineconeOption configures the client.
type PineconeOption func(*PineconeStore)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) PineconeOption {
	return func(s *PineconeStore) {
		s.http = hc
	}
}

// WithNamespace scopes all operations to a namespace.
func WithNamespace(ns string) PineconeOption {
	return func(s *PineconeStore) {
		s.namespace = ns
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) PineconeOption {
	return func(s *PineconeStore) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewPineconeStore creates a client for the index at indexURL.
func NewPineconeStore(indexURL, apiKey string, opts ...PineconeOption) *PineconeStore {
	s := &PineconeStore{
		indexURL: indexURL,
		apiKey:   apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(20), 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PineconeStore) Query(ctx context.Context, embedding []float32, filter Filter, topK int) ([]Match, error) {
	if filter.SystemID == "" {
		return nil, eris.New("pinecone: query requires a system filter")
	}
	if topK <= 0 {
		topK = 10
	}

	meta := map[string]any{
		"system_id": map[string]any{"$eq": filter.SystemID},
	}
	if !filter.IncludeHidden {
		meta["is_duplicate"] = map[string]any{"$ne": true}
	}

	reqBody := map[string]any{
		"vector":          embedding,
		"topK":            topK,
		"filter":          meta,
		"includeMetadata": true,
		"includeValues":   true,
		"namespace":       s.namespace,
	}

	var out struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Values   []float32      `json:"values"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.post(ctx, "/query", reqBody, &out); err != nil {
		return nil, eris.Wrap(err, "pinecone: query")
	}

	matches := make([]Match, 0, len(out.Matches))
	for _, m := range out.Matches {
		matches = append(matches, Match{
			Record: Record{ID: m.ID, Embedding: m.Values, Metadata: m.Metadata},
			Score:  m.Score,
		})
	}
	return matches, nil
}

func (s *PineconeStore) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	if id == "" {
		return eris.New("pinecone: upsert requires an id")
	}

	// Metadata-only patch: the update endpoint merges setMetadata keys
	// and never replaces the vector.
	if len(embedding) == 0 {
		reqBody := map[string]any{
			"id":          id,
			"setMetadata": metadata,
			"namespace":   s.namespace,
		}
		if err := s.post(ctx, "/vectors/update", reqBody, nil); err != nil {
			return eris.Wrapf(err, "pinecone: update %s", id)
		}
		return nil
	}

	reqBody := map[string]any{
		"vectors": []map[string]any{{
			"id":       id,
			"values":   embedding,
			"metadata": metadata,
		}},
		"namespace": s.namespace,
	}
	if err := s.post(ctx, "/vectors/upsert", reqBody, nil); err != nil {
		return eris.Wrapf(err, "pinecone: upsert %s", id)
	}
	return nil
}

func (s *PineconeStore) Fetch(ctx context.Context, id string) (*Record, error) {
	q := url.Values{}
	q.Add("ids", id)
	if s.namespace != "" {
		q.Set("namespace", s.namespace)
	}

	var out struct {
		Vectors map[string]struct {
			ID       string         `json:"id"`
			Values   []float32      `json:"values"`
			Metadata map[string]any `json:"metadata"`
		} `json:"vectors"`
	}
	if err := s.get(ctx, "/vectors/fetch?"+q.Encode(), &out); err != nil {
		return nil, eris.Wrapf(err, "pinecone: fetch %s", id)
	}

	v, ok := out.Vectors[id]
	if !ok {
		return nil, nil
	}
	return &Record{ID: v.ID, Embedding: v.Values, Metadata: v.Metadata}, nil
}

func (s *PineconeStore) Delete(ctx context.Context, id string) error {
	reqBody := map[string]any{
		"ids":       []string{id},
		"namespace": s.namespace,
	}
	if err := s.post(ctx, "/vectors/delete", reqBody, nil); err != nil {
		return eris.Wrapf(err, "pinecone: delete %s", id)
	}
	return nil
}

func (s *PineconeStore) ListAll(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	token := ""
	for {
		q := url.Values{}
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if s.namespace != "" {
			q.Set("namespace", s.namespace)
		}
		if token != "" {
			q.Set("paginationToken", token)
		}
		q.Set("limit", "100")

		var out struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := s.get(ctx, "/vectors/list?"+q.Encode(), &out); err != nil {
			return nil, eris.Wrap(err, "pinecone: list")
		}
		for _, v := range out.Vectors {
			ids = append(ids, v.ID)
		}
		if out.Pagination.Next == "" {
			return ids, nil
		}
		token = out.Pagination.Next
	}
}

func (s *PineconeStore) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	return s.do(ctx, http.MethodPost, path, payload, out)
}

func (s *PineconeStore) get(ctx context.Context, path string, out any) error {
	return s.do(ctx, http.MethodGet, path, nil, out)
}

func (s *PineconeStore) do(ctx context.Context, method, path string, payload []byte, out any) error {
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.indexURL+path, reqBody)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Api-Key", s.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "read response body")
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(
				eris.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
				resp.StatusCode,
			)
		}
		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("status %d: %s", resp.StatusCode, string(respBody))
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return eris.Wrap(err, "unmarshal response")
			}
		}
		return nil
	})
}
