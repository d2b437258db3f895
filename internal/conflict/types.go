// Package conflict detects scheduling conflicts between a candidate unit of
// work and the units currently active on a repository. Detection is driven
// by the predicted task context (files, modules), declared dependencies, and
// the per-agent-type reservation state.
package conflict

import (
	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

// Category classifies a detected conflict. It is a closed enum; the
// resolution engine dispatches on it with a totally-matched switch.
type Category int

const (
	// FileOverlap: an affected file is already claimed by another active unit.
	FileOverlap Category = iota

	// DependencyConflict: a declared dependency is not yet completed.
	DependencyConflict

	// ModuleOverlap: an affected business module is shared with another
	// active unit.
	ModuleOverlap

	// AgentBusy: a reservation already exists for the unit's agent type.
	AgentBusy

	// ConceptualConflict: two units describe near-duplicate work. Never
	// produced by the checker directly; raised by the resolution engine
	// when module overlap turns out to be conceptual duplication.
	ConceptualConflict
)

// String returns the snake_case identifier for the category.
func (c Category) String() string {
	switch c {
	case FileOverlap:
		return "file_overlap"
	case DependencyConflict:
		return "dependency_conflict"
	case ModuleOverlap:
		return "module_overlap"
	case AgentBusy:
		return "agent_busy"
	case ConceptualConflict:
		return "conceptual_conflict"
	default:
		return "unknown"
	}
}

// Severity grades how disruptive a conflict is.
type Severity int

const (
	// SeverityLow conflicts are easily sequenced away.
	SeverityLow Severity = iota
	// SeverityMedium conflicts need an explicit resolution strategy.
	SeverityMedium
	// SeverityHigh conflicts risk corrupting concurrent work.
	SeverityHigh
	// SeverityCritical conflicts must stop the unit from running.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Escalate returns the higher of the two severities. Severity is
// monotonically escalated when multiple categories apply to the same pair.
func (s Severity) Escalate(other Severity) Severity {
	if other > s {
		return other
	}
	return s
}

// baseSeverity is the starting severity per category.
var baseSeverity = map[Category]Severity{
	FileOverlap:        SeverityHigh,
	DependencyConflict: SeverityMedium,
	ModuleOverlap:      SeverityMedium,
	AgentBusy:          SeverityLow,
	ConceptualConflict: SeverityHigh,
}

// Conflict describes one detected conflict. It is ephemeral: produced by
// the checker, consumed immediately by the resolution engine or surfaced
// to the caller.
type Conflict struct {
	Category Category // What kind of conflict this is
	Severity Severity // How disruptive it is
	UnitIDs  []string // The offending active unit IDs
	Files    []string // Overlapping files (FileOverlap)
	Modules  []string // Overlapping modules (ModuleOverlap)
	Detail   string   // Human-readable explanation
}

// ActiveEntry is one currently-active unit on a repository, paired with
// its derived task context.
type ActiveEntry struct {
	Unit *unit.UnitOfWork
	Ctx  taskctx.Context
}

// Snapshot is a point-in-time view of a repository's scheduling state,
// assembled by the reservation manager while holding its lock. The checker
// never mutates it.
type Snapshot struct {
	// Repo is the repository identity (owner/name).
	Repo string

	// Active lists the currently-active units with their contexts.
	Active []ActiveEntry

	// FileUsage maps file path -> IDs of active units claiming it.
	FileUsage map[string][]string

	// ReservedAgents maps agent type -> unit ID holding the reservation.
	ReservedAgents map[string]string

	// Statuses maps known unit IDs to their lifecycle status. Used to
	// decide whether a declared dependency is complete.
	Statuses map[string]unit.Status
}

// Result is the outcome of a compatibility check.
type Result struct {
	Compatible bool
	Reason     string
	Conflicts  []Conflict
}
