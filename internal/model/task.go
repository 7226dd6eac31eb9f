// Package model defines the domain types shared across the duplicate
// detection engine: maintenance tasks, duplicate pairs, analysis runs,
// and their lifecycle statuses.
package model

import (
	"time"
)

// FrequencyUnit is the declared recurrence unit of a maintenance task.
type FrequencyUnit string

const (
	UnitHours          FrequencyUnit = "hours"
	UnitDays           FrequencyUnit = "days"
	UnitWeeks          FrequencyUnit = "weeks"
	UnitMonths         FrequencyUnit = "months"
	UnitYears          FrequencyUnit = "years"
	UnitCycles         FrequencyUnit = "cycles"
	UnitConditionBased FrequencyUnit = "condition_based"
)

// FrequencyBasis classifies how a task recurs.
type FrequencyBasis string

const (
	BasisCalendar  FrequencyBasis = "calendar"
	BasisUsage     FrequencyBasis = "usage"
	BasisEvent     FrequencyBasis = "event"
	BasisCondition FrequencyBasis = "condition"
	BasisUnknown   FrequencyBasis = "unknown"
)

// ScheduleFree reports whether the basis describes a task with no
// comparable recurrence schedule (event-triggered or as-needed).
func (b FrequencyBasis) ScheduleFree() bool {
	return b == BasisEvent || b == BasisCondition
}

// TaskStatus is the lifecycle state of a task in the vector store.
type TaskStatus string

const (
	TaskPending         TaskStatus = "pending"
	TaskApproved        TaskStatus = "approved"
	TaskRejected        TaskStatus = "rejected"
	TaskDuplicateHidden TaskStatus = "duplicate_hidden"
	TaskInvalid         TaskStatus = "invalid_task"
)

// Task is a maintenance-task candidate as stored in the vector store.
// Duplicate comparison never crosses SystemID boundaries.
type Task struct {
	ID             string         `json:"id"`
	Description    string         `json:"description"`
	SystemID       string         `json:"system_id"`
	FrequencyValue *float64       `json:"frequency_value,omitempty"`
	FrequencyUnit  FrequencyUnit  `json:"frequency_unit,omitempty"`
	FrequencyBasis FrequencyBasis `json:"frequency_basis,omitempty"`
	TaskType       string         `json:"task_type,omitempty"`
	Source         string         `json:"source,omitempty"`
	ReviewStatus   TaskStatus     `json:"review_status"`
	IsDuplicate    bool           `json:"is_duplicate,omitempty"`
	DuplicateOf    string         `json:"duplicate_of,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`

	// Embedding is an opaque fingerprint produced by an external provider.
	// All compared tasks must come from the same embedding model.
	Embedding []float32 `json:"-"`
}

// Metadata flattens the task fields into vector-store metadata.
// The embedding travels separately and is never part of metadata.
func (t *Task) Metadata() map[string]any {
	m := map[string]any{
		"description":   t.Description,
		"system_id":     t.SystemID,
		"review_status": string(t.ReviewStatus),
	}
	if t.FrequencyValue != nil {
		m["frequency_value"] = *t.FrequencyValue
	}
	if t.FrequencyUnit != "" {
		m["frequency_unit"] = string(t.FrequencyUnit)
	}
	if t.FrequencyBasis != "" {
		m["frequency_basis"] = string(t.FrequencyBasis)
	}
	if t.TaskType != "" {
		m["task_type"] = t.TaskType
	}
	if t.Source != "" {
		m["source"] = t.Source
	}
	if t.IsDuplicate {
		m["is_duplicate"] = true
	}
	if t.DuplicateOf != "" {
		m["duplicate_of"] = t.DuplicateOf
	}
	if !t.CreatedAt.IsZero() {
		m["created_at"] = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// TaskFromMetadata reconstructs a Task from vector-store metadata.
// Unknown or missing keys are left at their zero values.
func TaskFromMetadata(id string, embedding []float32, m map[string]any) Task {
	t := Task{ID: id, Embedding: embedding}
	t.Description, _ = m["description"].(string)
	t.SystemID, _ = m["system_id"].(string)
	if s, ok := m["review_status"].(string); ok {
		t.ReviewStatus = TaskStatus(s)
	}
	if v, ok := toFloat(m["frequency_value"]); ok {
		t.FrequencyValue = &v
	}
	if s, ok := m["frequency_unit"].(string); ok {
		t.FrequencyUnit = FrequencyUnit(s)
	}
	if s, ok := m["frequency_basis"].(string); ok {
		t.FrequencyBasis = FrequencyBasis(s)
	}
	t.TaskType, _ = m["task_type"].(string)
	t.Source, _ = m["source"].(string)
	if b, ok := m["is_duplicate"].(bool); ok {
		t.IsDuplicate = b
	}
	t.DuplicateOf, _ = m["duplicate_of"].(string)
	if s, ok := m["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			t.CreatedAt = ts
		}
	}
	return t
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
