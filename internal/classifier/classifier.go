// Package classifier decides whether a new maintenance task duplicates
// an existing one. It combines semantic similarity with structured
// schedule and type signals and returns one of three verdicts. The
// classifier is pure: it never touches a store.
package classifier

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/frequency"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/similarity"
)

// Verdict is the classifier's three-way output.
type Verdict string

const (
	// VerdictInsert: distinct task, store it.
	VerdictInsert Verdict = "insert"
	// VerdictReview: plausible duplicate, queue for a human.
	VerdictReview Verdict = "review_required"
	// VerdictAutoMerge: confident duplicate, merge without review.
	VerdictAutoMerge Verdict = "auto_merge"
)

// ScopeMismatchError reports an attempted comparison across systems.
// The retriever filters by system, so seeing this downstream means a
// caller bypassed the filter; it is a logic fault, not recoverable.
type ScopeMismatchError struct {
	SystemA string
	SystemB string
}

func (e *ScopeMismatchError) Error() string {
	return fmt.Sprintf("classifier: cross-system comparison: %q vs %q", e.SystemA, e.SystemB)
}

// Config holds the thresholds and strictness switches. Two named
// configurations exist because batch analysis feeds bulk actions and
// needs stricter agreement than the live insert path.
type Config struct {
	// AutoMergeThreshold: at or above, with an agreeing schedule, merge
	// without review.
	AutoMergeThreshold float64 `yaml:"auto_merge_threshold" mapstructure:"auto_merge_threshold"`
	// ReviewThreshold: at or above, similarity alone warrants a human look.
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	// CompoundThreshold: at or above, agreeing structured signals rescue
	// a moderate similarity into review.
	CompoundThreshold float64 `yaml:"compound_threshold" mapstructure:"compound_threshold"`
	// RequireTaskType excludes pairs whose AI-assigned types disagree.
	RequireTaskType bool `yaml:"require_task_type" mapstructure:"require_task_type"`
}

// LiveInsertConfig is the permissive variant used at insert time: task
// type is advisory only, since type labels drift between extraction runs.
func LiveInsertConfig() Config {
	return Config{
		AutoMergeThreshold: 0.92,
		ReviewThreshold:    0.85,
		CompoundThreshold:  0.80,
		RequireTaskType:    false,
	}
}

// BatchAnalysisConfig is the strict variant used by bulk pairwise
// analysis: pairs with disagreeing task types are excluded entirely.
func BatchAnalysisConfig() Config {
	cfg := LiveInsertConfig()
	cfg.RequireTaskType = true
	return cfg
}

// Validate checks threshold ordering.
func (c Config) Validate() error {
	if c.AutoMergeThreshold < c.ReviewThreshold || c.ReviewThreshold < c.CompoundThreshold {
		return eris.Errorf("classifier: thresholds must satisfy auto >= review >= compound, got %.2f/%.2f/%.2f",
			c.AutoMergeThreshold, c.ReviewThreshold, c.CompoundThreshold)
	}
	if c.CompoundThreshold < 0 || c.AutoMergeThreshold > 1 {
		return eris.New("classifier: thresholds must lie in [0,1]")
	}
	return nil
}

// Thresholds snapshots the config for persistence on an analysis run.
func (c Config) Thresholds() model.Thresholds {
	return model.Thresholds{
		AutoMerge:       c.AutoMergeThreshold,
		Review:          c.ReviewThreshold,
		Compound:        c.CompoundThreshold,
		RequireTaskType: c.RequireTaskType,
	}
}

// Result is a verdict with its justification and the clipped similarity
// it was decided on.
type Result struct {
	Verdict    Verdict           `json:"verdict"`
	Reason     model.MatchReason `json:"reason"`
	Similarity float64           `json:"similarity"`
}

// schedule comparison outcome
type freqState int

const (
	freqMatch    freqState = iota // both normalized, within tolerance
	freqMismatch                  // disagree, or data missing on one side only
	freqBothNull                  // no schedule data on either side
	freqSkipped                   // schedule-free task: nothing to compare
)

// Classify compares a task against one retrieved candidate with the
// given cosine similarity. Symmetric in its two task arguments.
func Classify(cfg Config, a, b model.Task, sim float64) (Result, error) {
	if a.SystemID != b.SystemID {
		return Result{}, &ScopeMismatchError{SystemA: a.SystemID, SystemB: b.SystemID}
	}

	s := similarity.Clip(sim)
	insert := Result{Verdict: VerdictInsert, Reason: model.ReasonBelowThreshold, Similarity: s}

	// Strict variant: disagreeing types exclude the pair entirely, even
	// at very high similarity. Missing types never block.
	if cfg.RequireTaskType && a.TaskType != "" && b.TaskType != "" && a.TaskType != b.TaskType {
		insert.Reason = model.ReasonTypeMismatch
		return insert, nil
	}

	fs := compareSchedules(a, b)

	// Rule 1: confident duplicate. A schedule-free pair merges on
	// similarity alone; an unconfirmed schedule (null on either side)
	// never auto-merges.
	if s >= cfg.AutoMergeThreshold && (fs == freqMatch || fs == freqSkipped) {
		reason := model.ReasonFrequencyMatch
		if fs == freqSkipped {
			reason = model.ReasonNoSchedule
		}
		return Result{Verdict: VerdictAutoMerge, Reason: reason, Similarity: s}, nil
	}

	// Rule 2a: high similarity alone warrants review, whatever the
	// schedules say. The reason tells the reviewer which signal to check.
	if s >= cfg.ReviewThreshold {
		var reason model.MatchReason
		switch fs {
		case freqMatch:
			reason = model.ReasonModerateFrequencyMatch
		case freqMismatch:
			reason = model.ReasonFrequencyMismatch
		case freqBothNull:
			reason = model.ReasonNoFrequency
		case freqSkipped:
			reason = model.ReasonNoSchedule
		}
		return Result{Verdict: VerdictReview, Reason: reason, Similarity: s}, nil
	}

	// Rule 2b: compound match. Moderate similarity rescued by an
	// agreeing schedule (or sentinel-equal schedule-free pair).
	if s >= cfg.CompoundThreshold && (fs == freqMatch || fs == freqSkipped) {
		return Result{Verdict: VerdictReview, Reason: model.ReasonCompoundMatch, Similarity: s}, nil
	}

	return insert, nil
}

// compareSchedules reduces two declared recurrences to one comparison
// outcome. A schedule-free basis on either side skips the comparison;
// data missing on both sides is bothNull (a match is then decided on the
// description alone); data missing on exactly one side is insufficient
// evidence and counts as a mismatch.
func compareSchedules(a, b model.Task) freqState {
	if a.FrequencyBasis.ScheduleFree() || b.FrequencyBasis.ScheduleFree() {
		return freqSkipped
	}

	na, nb := frequency.Normalize(a), frequency.Normalize(b)
	switch {
	case na.Kind == frequency.KindUnknown && nb.Kind == frequency.KindUnknown:
		return freqBothNull
	case na.Kind == frequency.KindUnknown || nb.Kind == frequency.KindUnknown:
		return freqMismatch
	case frequency.Similar(na, nb):
		return freqMatch
	default:
		return freqMismatch
	}
}
