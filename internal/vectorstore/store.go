// Package vectorstore defines the vector store collaborator contract and
// its implementations. The engine treats embeddings as opaque
// fingerprints; it never generates them.
package vectorstore

import "context"

// Record is a stored task: its embedding plus flat metadata.
type Record struct {
	ID        string         `json:"id"`
	Embedding []float32      `json:"values"`
	Metadata  map[string]any `json:"metadata"`
}

// Match is a query hit with its raw cosine score.
type Match struct {
	Record
	Score float64 `json:"score"`
}

// Filter restricts a query. SystemID is mandatory for duplicate
// comparison; the engine never runs unscoped similarity searches.
type Filter struct {
	// SystemID limits matches to one owning system/asset.
	SystemID string
	// IncludeHidden also returns tasks already marked duplicate or invalid.
	IncludeHidden bool
}

// Store is the vector store collaborator. Upsert is merge-preserving:
// a nil embedding patches metadata while keeping the stored vector
// intact, and metadata keys are merged over existing values rather than
// replacing the whole map.
type Store interface {
	Query(ctx context.Context, embedding []float32, filter Filter, topK int) ([]Match, error)
	Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error
	Fetch(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context, prefix string) ([]string, error)
}
