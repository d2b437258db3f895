// Package unit defines the unit-of-work data model shared by the scheduler
// components. A unit of work is the schedulable item routed through the
// pipeline: it carries the declared dependency edges, the assigned agent
// type, and the lifecycle status the orchestrator advances.
package unit

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a unit of work.
type Status string

const (
	// StatusPending indicates the unit has not started executing.
	StatusPending Status = "pending"

	// StatusInProgress indicates the pipeline is driving the unit.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates the unit finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the unit failed.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the unit was cancelled externally.
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
// Terminal states are final: no transitions out of them are valid.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// Complexity is an ordered tier describing how involved a unit of work is.
// Higher values indicate more involved work.
type Complexity int

const (
	// Simple is a small, contained change.
	Simple Complexity = iota
	// Moderate is a typical feature-sized change.
	Moderate
	// Complex spans several modules or needs design judgement.
	Complex
	// Expert is the largest tier; cross-cutting or architectural work.
	Expert
)

// String returns the string representation of the complexity tier.
func (c Complexity) String() string {
	switch c {
	case Simple:
		return "simple"
	case Moderate:
		return "moderate"
	case Complex:
		return "complex"
	case Expert:
		return "expert"
	default:
		return "unknown"
	}
}

// ParseComplexity converts a string to a Complexity tier.
// Unrecognized values default to Moderate.
func ParseComplexity(s string) Complexity {
	switch strings.ToLower(s) {
	case "simple", "low":
		return Simple
	case "moderate", "medium":
		return Moderate
	case "complex", "high":
		return Complex
	case "expert":
		return Expert
	default:
		return Moderate
	}
}

// Priority is the declared priority tier of a unit of work.
type Priority int

const (
	// PriorityLow work can wait.
	PriorityLow Priority = iota
	// PriorityMedium is the default tier.
	PriorityMedium
	// PriorityHigh work should jump most queues.
	PriorityHigh
	// PriorityCritical work preempts nearly everything.
	PriorityCritical
)

// String returns the string representation of the priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a string to a Priority tier.
// Unrecognized values default to PriorityMedium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow
	case "medium", "normal":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical", "urgent":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// UnitOfWork is the schedulable item routed through the pipeline.
// It is created by the planning layer, mutated by the orchestrator as
// stages progress, and retired when the pipeline reaches a terminal state.
type UnitOfWork struct {
	// ID uniquely identifies the unit.
	ID string `json:"id"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Description is free text used by the context extractor to predict
	// affected files and modules.
	Description string `json:"description"`

	// Type is a category label (e.g., "feature", "bug", "refactor",
	// "test", "docs", "infra").
	Type string `json:"type"`

	// Complexity is the estimated complexity tier.
	Complexity Complexity `json:"complexity"`

	// Priority is the declared priority tier.
	Priority Priority `json:"priority"`

	// Files are explicitly declared file paths this unit will touch.
	Files []string `json:"files,omitempty"`

	// DependsOn lists unit IDs that must complete before this unit runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// Blocks lists unit IDs that this unit blocks.
	Blocks []string `json:"blocks,omitempty"`

	// AgentType is the assigned agent role label (e.g., "senior-developer").
	AgentType string `json:"agent_type"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Deadline, when set, is used for priority scoring.
	Deadline *time.Time `json:"deadline,omitempty"`

	// MergedFrom records the source unit IDs when this unit was produced
	// by merging conceptually duplicate units. Retained for traceability.
	MergedFrom []string `json:"merged_from,omitempty"`

	// CreatedAt is when the unit was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the unit was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a UnitOfWork in the pending state with creation timestamps set.
func New(id, title, description string) *UnitOfWork {
	now := time.Now()
	return &UnitOfWork{
		ID:          id,
		Title:       title,
		Description: description,
		Type:        "feature",
		Complexity:  Moderate,
		Priority:    PriorityMedium,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the unit to the given status after validating the
// transition. Terminal states are final.
func (u *UnitOfWork) Transition(next Status) error {
	if !u.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition for unit %s: %s -> %s", u.ID, u.Status, next)
	}
	u.Status = next
	u.UpdatedAt = time.Now()
	return nil
}

// Clone returns a deep copy of the unit. Slices are copied so the clone
// can be mutated without affecting the original.
func (u *UnitOfWork) Clone() *UnitOfWork {
	cp := *u
	cp.Files = append([]string(nil), u.Files...)
	cp.DependsOn = append([]string(nil), u.DependsOn...)
	cp.Blocks = append([]string(nil), u.Blocks...)
	cp.MergedFrom = append([]string(nil), u.MergedFrom...)
	if u.Deadline != nil {
		d := *u.Deadline
		cp.Deadline = &d
	}
	return &cp
}

// Text returns the unit's title and description joined for keyword analysis.
func (u *UnitOfWork) Text() string {
	return u.Title + " " + u.Description
}
