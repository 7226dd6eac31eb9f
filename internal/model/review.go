package model

import (
	"time"
)

// PairStatus is the human-review resolution state of a duplicate pair.
type PairStatus string

const (
	PairPending     PairStatus = "pending"
	PairKeepBoth    PairStatus = "keep_both"
	PairMerge       PairStatus = "merge"
	PairDeleteTask1 PairStatus = "delete_task1"
	PairDeleteTask2 PairStatus = "delete_task2"
	PairDeleteBoth  PairStatus = "delete_both"
)

// ValidPairStatus reports whether s is a recognized review status.
func ValidPairStatus(s PairStatus) bool {
	switch s {
	case PairPending, PairKeepBoth, PairMerge, PairDeleteTask1, PairDeleteTask2, PairDeleteBoth:
		return true
	}
	return false
}

// Resolved reports whether s is a terminal-intent status that the
// execution engine can act on.
func (s PairStatus) Resolved() bool {
	return ValidPairStatus(s) && s != PairPending
}

// MatchReason is the enumerated justification attached to a verdict.
// Each value communicates a different follow-up action to a reviewer.
type MatchReason string

const (
	// ReasonFrequencyMatch: high similarity and the normalized schedules agree.
	ReasonFrequencyMatch MatchReason = "high_similarity_frequency_match"
	// ReasonFrequencyMismatch: similarity alone warrants review but the
	// schedules disagree; likely two distinct intervals for similar work.
	ReasonFrequencyMismatch MatchReason = "high_similarity_frequency_mismatch"
	// ReasonModerateFrequencyMatch: similarity below auto-merge but the
	// schedules agree.
	ReasonModerateFrequencyMatch MatchReason = "moderate_similarity_frequency_match"
	// ReasonCompoundMatch: moderate similarity rescued by agreeing
	// structured signals.
	ReasonCompoundMatch MatchReason = "compound_match"
	// ReasonNoFrequency: both sides lack schedule data; matched on the
	// description alone.
	ReasonNoFrequency MatchReason = "semantic_match_no_frequency"
	// ReasonNoSchedule: the new task is event-triggered or condition-based,
	// so no schedule comparison applies.
	ReasonNoSchedule MatchReason = "similarity_match_no_schedule"
	// ReasonTypeMismatch: comparison excluded because task types disagree
	// under a strict configuration.
	ReasonTypeMismatch MatchReason = "task_type_mismatch"
	// ReasonBelowThreshold: no supporting signals; insert as unique.
	ReasonBelowThreshold MatchReason = "below_threshold"
)

// DuplicatePair is one A-vs-B comparison awaiting or having received
// human resolution. TaskA and TaskB are immutable snapshots taken at
// comparison time; later edits to the live tasks never change them.
type DuplicatePair struct {
	ID             string        `json:"id"`
	AnalysisID     string        `json:"analysis_id"`
	TaskA          Task          `json:"task_a"`
	TaskB          Task          `json:"task_b"`
	Similarity     float64       `json:"similarity"`
	MatchReason    MatchReason   `json:"match_reason"`
	ReviewStatus   PairStatus    `json:"review_status"`
	Notes          string        `json:"notes,omitempty"`
	ReviewedBy     string        `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time    `json:"reviewed_at,omitempty"`
	Executed       bool          `json:"executed"`
	ExecutedAt     *time.Time    `json:"executed_at,omitempty"`
	ExecutionError string        `json:"execution_error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// AnalysisRun groups the duplicate pairs produced by one batch
// comparison pass. Summary counts are cached here for display; the
// ledger's pair table remains the source of truth.
type AnalysisRun struct {
	ID            string     `json:"id"`
	SystemFilter  string     `json:"system_filter,omitempty"`
	Thresholds    Thresholds `json:"thresholds"`
	TasksCompared int        `json:"tasks_compared"`
	PairsFound    int        `json:"pairs_found"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Thresholds records the classifier settings an analysis ran with.
type Thresholds struct {
	AutoMerge       float64 `json:"auto_merge"`
	Review          float64 `json:"review"`
	Compound        float64 `json:"compound"`
	RequireTaskType bool    `json:"require_task_type"`
}

// DuplicateGroup is an ephemeral cluster computed from pairwise
// judgments for presentation. It is never persisted.
type DuplicateGroup struct {
	Primary    Task   `json:"primary"`
	Duplicates []Task `json:"duplicates"`
}

// ReviewStats holds per-status pair counts for UI badges.
type ReviewStats struct {
	ByStatus   map[PairStatus]int `json:"by_status"`
	Executed   int                `json:"executed"`
	Unexecuted int                `json:"unexecuted"`
	Total      int                `json:"total"`
}
