// Package ledger is the durable, auditable record of duplicate analysis
// runs and pairwise review items. It backs the human review workflow and
// the execution engine's work queue.
package ledger

import (
	"context"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

// BulkResult reports a partially-successful bulk transition. A reviewer
// needs to know exactly which pairs were applied, so bulk operations
// never fail all-or-nothing.
type BulkResult struct {
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Store is the relational ledger collaborator contract.
//
// Pair snapshots (TaskA/TaskB) are immutable after creation: later edits
// to the live tasks must never change what a human reviewed.
type Store interface {
	// Analysis runs
	CreateAnalysisRun(ctx context.Context, systemFilter string, thresholds model.Thresholds) (*model.AnalysisRun, error)
	CompleteAnalysisRun(ctx context.Context, analysisID string, tasksCompared, pairsFound int) error
	GetAnalysisRun(ctx context.Context, analysisID string) (*model.AnalysisRun, error)
	// DeleteAnalysis removes a run and cascades to all of its pairs.
	DeleteAnalysis(ctx context.Context, analysisID string) error

	// Pairs
	BulkSavePairs(ctx context.Context, analysisID string, pairs []model.DuplicatePair) (int, error)
	GetPair(ctx context.Context, pairID string) (*model.DuplicatePair, error)
	// GetPendingReviews pages through pending pairs; systemFilter, when
	// set, matches case-insensitively against either side's system label.
	GetPendingReviews(ctx context.Context, limit, offset int, systemFilter string) ([]model.DuplicatePair, error)

	// Review transitions
	UpdateReviewStatus(ctx context.Context, pairID string, status model.PairStatus, notes, reviewedBy string) error
	BulkUpdateStatus(ctx context.Context, pairIDs []string, status model.PairStatus, reviewedBy string) (*BulkResult, error)

	// Execution queue
	GetUnexecutedReviews(ctx context.Context) ([]model.DuplicatePair, error)
	// MarkExecuted flips the one-way executed flag on success; on failure
	// it records the error and leaves the pair on the queue.
	MarkExecuted(ctx context.Context, pairID string, success bool, execErr string) error

	// Reporting
	GetReviewStats(ctx context.Context) (*model.ReviewStats, error)
	GetSystemsList(ctx context.Context) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
