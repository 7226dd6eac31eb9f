// Package retriever finds the nearest previously-stored tasks for a new
// candidate. Retrieval is always scoped to one system; task type is
// deliberately NOT a retrieval filter because AI-assigned types drift
// between extraction passes and would hide genuine duplicates.
package retriever

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/similarity"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/vectorstore"
)

// Match pairs a stored task with its clipped similarity to the query.
type Match struct {
	Task       model.Task `json:"task"`
	Similarity float64    `json:"similarity"`
}

// Retriever queries the vector store for duplicate candidates.
type Retriever struct {
	store vectorstore.Store
}

// New creates a Retriever over the given vector store.
func New(store vectorstore.Store) *Retriever {
	return &Retriever{store: store}
}

// Retrieve returns up to topK stored tasks in systemID ordered by
// descending similarity to the embedding. Scores below zero carry no
// duplicate signal and are clipped to 0.
func (r *Retriever) Retrieve(ctx context.Context, embedding []float32, systemID string, topK int) ([]Match, error) {
	if len(embedding) == 0 {
		return nil, eris.New("retriever: embedding is required")
	}
	if systemID == "" {
		return nil, eris.New("retriever: system id is required")
	}
	if topK <= 0 {
		topK = 5
	}

	hits, err := r.store.Query(ctx, embedding, vectorstore.Filter{SystemID: systemID}, topK)
	if err != nil {
		return nil, eris.Wrapf(err, "retriever: query system %s", systemID)
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, Match{
			Task:       model.TaskFromMetadata(h.ID, h.Embedding, h.Metadata),
			Similarity: similarity.Clip(h.Score),
		})
	}
	return matches, nil
}
