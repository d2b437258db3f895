// Package event defines event types for decoupling components in Wrangler.
// These events enable communication between the reservation manager, the
// pipeline orchestrator, and monitoring surfaces without requiring direct
// dependencies.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "reservation.created").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Reservation Events
// -----------------------------------------------------------------------------

// ReservationCreatedEvent is emitted when a branch reservation is established.
type ReservationCreatedEvent struct {
	baseEvent
	Repo      string // Repository identity (owner/name)
	AgentType string // Agent type holding the reservation
	Branch    string // Generated branch name
	UnitID    string // Unit of work that owns the reservation
}

// NewReservationCreatedEvent creates a ReservationCreatedEvent.
func NewReservationCreatedEvent(repo, agentType, branch, unitID string) ReservationCreatedEvent {
	return ReservationCreatedEvent{
		baseEvent: newBaseEvent("reservation.created"),
		Repo:      repo,
		AgentType: agentType,
		Branch:    branch,
		UnitID:    unitID,
	}
}

// ReservationReleasedEvent is emitted when a branch reservation is released.
type ReservationReleasedEvent struct {
	baseEvent
	Repo   string // Repository identity
	Branch string // Branch name that was released
	UnitID string // Unit that held the reservation
	Forced bool   // Whether the release was forced (admin or cleanup)
	Reason string // Human-readable reason for forced releases
}

// NewReservationReleasedEvent creates a ReservationReleasedEvent.
func NewReservationReleasedEvent(repo, branch, unitID string, forced bool, reason string) ReservationReleasedEvent {
	return ReservationReleasedEvent{
		baseEvent: newBaseEvent("reservation.released"),
		Repo:      repo,
		Branch:    branch,
		UnitID:    unitID,
		Forced:    forced,
		Reason:    reason,
	}
}

// QueueAdmittedEvent is emitted when a queued unit is admitted after a release.
type QueueAdmittedEvent struct {
	baseEvent
	Repo      string // Repository identity
	AgentType string // Agent type queue the unit was admitted from
	UnitID    string // Admitted unit
	Waited    time.Duration
}

// NewQueueAdmittedEvent creates a QueueAdmittedEvent.
func NewQueueAdmittedEvent(repo, agentType, unitID string, waited time.Duration) QueueAdmittedEvent {
	return QueueAdmittedEvent{
		baseEvent: newBaseEvent("queue.admitted"),
		Repo:      repo,
		AgentType: agentType,
		UnitID:    unitID,
		Waited:    waited,
	}
}

// CleanupForcedEvent is emitted when emergency cleanup force-releases
// stale reservations.
type CleanupForcedEvent struct {
	baseEvent
	Released int           // Number of reservations released
	MaxAge   time.Duration // Age threshold used
}

// NewCleanupForcedEvent creates a CleanupForcedEvent.
func NewCleanupForcedEvent(released int, maxAge time.Duration) CleanupForcedEvent {
	return CleanupForcedEvent{
		baseEvent: newBaseEvent("cleanup.forced"),
		Released:  released,
		MaxAge:    maxAge,
	}
}

// -----------------------------------------------------------------------------
// Conflict Events
// -----------------------------------------------------------------------------

// ConflictDetectedEvent is emitted when a compatibility check fails.
type ConflictDetectedEvent struct {
	baseEvent
	Repo     string   // Repository identity
	UnitID   string   // Unit that failed the check
	Category string   // Conflict category (e.g., "file_overlap")
	Severity string   // Conflict severity
	With     []string // Conflicting unit IDs
}

// NewConflictDetectedEvent creates a ConflictDetectedEvent.
func NewConflictDetectedEvent(repo, unitID, category, severity string, with []string) ConflictDetectedEvent {
	return ConflictDetectedEvent{
		baseEvent: newBaseEvent("conflict.detected"),
		Repo:      repo,
		UnitID:    unitID,
		Category:  category,
		Severity:  severity,
		With:      with,
	}
}

// ConflictResolvedEvent is emitted when the resolution engine settles a conflict.
type ConflictResolvedEvent struct {
	baseEvent
	Repo     string // Repository identity
	UnitID   string // Unit whose conflict was resolved
	Strategy string // Resolution strategy applied
	Resolved bool   // False when the engine returned an unresolved result
}

// NewConflictResolvedEvent creates a ConflictResolvedEvent.
func NewConflictResolvedEvent(repo, unitID, strategy string, resolved bool) ConflictResolvedEvent {
	return ConflictResolvedEvent{
		baseEvent: newBaseEvent("conflict.resolved"),
		Repo:      repo,
		UnitID:    unitID,
		Strategy:  strategy,
		Resolved:  resolved,
	}
}

// -----------------------------------------------------------------------------
// Pipeline Events
// -----------------------------------------------------------------------------

// StageChangedEvent is emitted when a pipeline run transitions between stages.
type StageChangedEvent struct {
	baseEvent
	UnitID    string // Unit being driven through the pipeline
	Stage     string // Stage name
	Status    string // New stage status
	AgentType string // Agent type executing the stage
}

// NewStageChangedEvent creates a StageChangedEvent.
func NewStageChangedEvent(unitID, stage, status, agentType string) StageChangedEvent {
	return StageChangedEvent{
		baseEvent: newBaseEvent("pipeline.stage_changed"),
		UnitID:    unitID,
		Stage:     stage,
		Status:    status,
		AgentType: agentType,
	}
}

// PipelineCompletedEvent is emitted when a pipeline run reaches a terminal state.
type PipelineCompletedEvent struct {
	baseEvent
	UnitID    string // Unit that finished
	State     string // Terminal state: completed, failed, or cancelled
	StagesRun int    // Number of stages that executed
}

// NewPipelineCompletedEvent creates a PipelineCompletedEvent.
func NewPipelineCompletedEvent(unitID, state string, stagesRun int) PipelineCompletedEvent {
	return PipelineCompletedEvent{
		baseEvent: newBaseEvent("pipeline.completed"),
		UnitID:    unitID,
		State:     state,
		StagesRun: stagesRun,
	}
}

// -----------------------------------------------------------------------------
// Drift Events
// -----------------------------------------------------------------------------

// DriftDetectedEvent is emitted when a watched worktree shows modifications
// outside the unit's predicted file set.
type DriftDetectedEvent struct {
	baseEvent
	UnitID string   // Unit whose worktree drifted
	Files  []string // Files modified outside the prediction
}

// NewDriftDetectedEvent creates a DriftDetectedEvent.
func NewDriftDetectedEvent(unitID string, files []string) DriftDetectedEvent {
	return DriftDetectedEvent{
		baseEvent: newBaseEvent("drift.detected"),
		UnitID:    unitID,
		Files:     files,
	}
}
