// Package resolution turns detected conflicts into actionable resolutions.
// One handler per conflict category; each handler tries its strategies in a
// fixed order and falls back to an explicit unresolved result with operator
// suggestions rather than failing the pipeline.
package resolution

import (
	"time"

	"github.com/forgecrew/wrangler/internal/unit"
)

// Strategy identifies the remedy chosen for a conflict. It is a closed
// enum; adding a strategy means extending the dispatch switch.
type Strategy int

const (
	// StrategyNone marks an unresolved outcome.
	StrategyNone Strategy = iota

	// StrategySequenceAfterConflicts adds dependency edges onto the
	// conflicting units so work is strictly ordered.
	StrategySequenceAfterConflicts

	// StrategySplitTask synthesizes sub-units: a non-conflicting slice
	// and an integration slice depending on the conflicts.
	StrategySplitTask

	// StrategyPreemptLowerPriority runs the candidate now and queues the
	// lower-scored conflicting units instead.
	StrategyPreemptLowerPriority

	// StrategyIntelligentQueue queues the candidate with an estimated
	// wait and a queue position.
	StrategyIntelligentQueue

	// StrategyResolveCircularDependencies breaks a dependency cycle by
	// demoting one edge and reordering.
	StrategyResolveCircularDependencies

	// StrategyWaitForDependencies waits for incomplete dependencies with
	// an estimated completion time.
	StrategyWaitForDependencies

	// StrategyParallelExecution declares the units independently
	// schedulable.
	StrategyParallelExecution

	// StrategyReassignToAvailableAgent moves the unit to an alternate
	// agent type with matching capabilities.
	StrategyReassignToAvailableAgent

	// StrategyWorkloadBalancedQueue queues the unit behind the busy
	// agent with a wait estimated from the reservation's age.
	StrategyWorkloadBalancedQueue

	// StrategyMergeUnits merges conceptually duplicate units into one.
	StrategyMergeUnits

	// StrategyLayerSeparation assigns the units disjoint architectural
	// layers of the shared module.
	StrategyLayerSeparation

	// StrategyCoordinationPlan names a lead unit and shared integration
	// points for related-but-distinct work.
	StrategyCoordinationPlan
)

// String returns the snake_case identifier for the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategySequenceAfterConflicts:
		return "sequence_after_conflicts"
	case StrategySplitTask:
		return "split_task"
	case StrategyPreemptLowerPriority:
		return "preempt_lower_priority"
	case StrategyIntelligentQueue:
		return "intelligent_queue"
	case StrategyResolveCircularDependencies:
		return "resolve_circular_dependencies"
	case StrategyWaitForDependencies:
		return "wait_for_dependencies"
	case StrategyParallelExecution:
		return "parallel_execution"
	case StrategyReassignToAvailableAgent:
		return "reassign_to_available_agent"
	case StrategyWorkloadBalancedQueue:
		return "workload_balanced_queue"
	case StrategyMergeUnits:
		return "merge_units"
	case StrategyLayerSeparation:
		return "layer_separation"
	case StrategyCoordinationPlan:
		return "coordination_plan"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of resolving one conflict. Resolved outcomes
// carry the action payload for their strategy; unresolved outcomes carry
// fallback suggestions for operator escalation.
type Resolution struct {
	Resolved bool
	Strategy Strategy

	// Detail is a human-readable explanation of the outcome.
	Detail string

	// AddedDependencies are unit IDs the candidate must now run after
	// (sequencing and sequential-with-contract outcomes).
	AddedDependencies []string

	// SubUnits are synthesized replacement units (split outcomes).
	SubUnits []*unit.UnitOfWork

	// PreemptedUnits are the lower-priority units to queue instead.
	PreemptedUnits []string

	// ReassignedAgent is the alternate agent type (reassignment).
	ReassignedAgent string

	// MergedUnit replaces the candidate and its duplicate (merge).
	MergedUnit *unit.UnitOfWork

	// DroppedEdge is the demoted dependency edge, "from->to"
	// (circular-dependency restructuring).
	DroppedEdge string

	// NewOrder is the recomputed execution order after restructuring.
	NewOrder []string

	// Layers maps unit ID to its assigned architectural layer
	// (layer separation).
	Layers map[string]string

	// LeadUnit is the coordinating unit (coordination plan).
	LeadUnit string

	// IntegrationPoints are the shared files/modules both units must
	// agree on (coordination plan, sequential-with-contract).
	IntegrationPoints []string

	// EstimatedWait and QueuePosition describe queue placements.
	EstimatedWait time.Duration
	QueuePosition int

	// Suggestions lists fallback actions when unresolved.
	Suggestions []string
}

// Options carries caller-supplied context the handlers cannot derive from
// the snapshot alone.
type Options struct {
	// ReservationAge is how long the blocking reservation has been held
	// (agent_busy handling).
	ReservationAge time.Duration

	// QueueDepth is the current depth of the relevant agent-type queue.
	QueueDepth int
}

// fallbackSuggestions is returned with every unresolved outcome.
var fallbackSuggestions = []string{
	"queue the unit and retry after active work completes",
	"split the unit into smaller independent pieces",
	"reassign the unit to a different agent type",
	"coordinate manually with the owners of the conflicting units",
}
