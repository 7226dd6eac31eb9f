package vectorstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/similarity"
)

// MemoryStore is an in-process Store used for single-node deployments
// and tests. Query ties are broken by insertion order, which keeps
// results deterministic.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Query(ctx context.Context, embedding []float32, filter Filter, topK int) ([]Match, error) {
	if filter.SystemID == "" {
		return nil, eris.New("memory: query requires a system filter")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, id := range s.order {
		r := s.records[id]
		if !matchesFilter(r.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{
			Record: cloneRecord(r),
			Score:  similarity.Cosine(embedding, r.Embedding),
		})
	}

	// Descending score; SliceStable preserves insertion order on ties.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	if id == "" {
		return eris.New("memory: upsert requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[id]
	if !ok {
		if len(embedding) == 0 {
			return eris.Errorf("memory: upsert %s: new record requires an embedding", id)
		}
		s.records[id] = &Record{
			ID:        id,
			Embedding: append([]float32(nil), embedding...),
			Metadata:  cloneMetadata(metadata),
		}
		s.order = append(s.order, id)
		return nil
	}

	// Merge-patch: keep the stored embedding unless a new one is given,
	// and layer metadata keys over what is already there.
	if len(embedding) > 0 {
		existing.Embedding = append([]float32(nil), embedding...)
	}
	if existing.Metadata == nil {
		existing.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		existing.Metadata[k] = v
	}
	return nil
}

func (s *MemoryStore) Fetch(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	c := cloneRecord(r)
	return &c, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListAll(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if prefix == "" || strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func matchesFilter(m map[string]any, f Filter) bool {
	sys, _ := m["system_id"].(string)
	if sys != f.SystemID {
		return false
	}
	if f.IncludeHidden {
		return true
	}
	if dup, _ := m["is_duplicate"].(bool); dup {
		return false
	}
	switch status, _ := m["review_status"].(string); status {
	case "duplicate_hidden", "invalid_task", "rejected":
		return false
	}
	return true
}

func cloneRecord(r *Record) Record {
	return Record{
		ID:        r.ID,
		Embedding: append([]float32(nil), r.Embedding...),
		Metadata:  cloneMetadata(r.Metadata),
	}
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
