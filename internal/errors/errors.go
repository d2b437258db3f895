// Package errors provides centralized error definitions and error handling
// utilities for the Wrangler codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - ReservationError: errors from branch reservation and queue management
//   - PlanError: errors from batch validation and execution ordering
//   - StageError: errors from pipeline stage execution
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewReservationError("reserve failed", errors.ErrAgentBusy).
//		WithRepo("acme/api").WithAgentType("senior-developer")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrAgentBusy) { ... }
//
//	var planErr *errors.PlanError
//	if errors.As(err, &planErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Reservation-related sentinel errors
var (
	// ErrAgentBusy indicates a reservation already exists for the agent type.
	ErrAgentBusy = New("agent type already reserved for this repository")
	// ErrIncompatible indicates a unit conflicts with currently active work.
	ErrIncompatible = New("unit is incompatible with active work")
	// ErrReservationNotFound indicates a branch reservation could not be found.
	ErrReservationNotFound = New("reservation not found")
	// ErrAlreadyReserved indicates the unit already holds a reservation.
	ErrAlreadyReserved = New("unit already holds a reservation")
)

// Planning-related sentinel errors
var (
	// ErrDependencyCycle indicates a circular dependency between units.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrUnitNotFound indicates a unit of work could not be found.
	ErrUnitNotFound = New("unit not found")
	// ErrEmptyBatch indicates a batch contained no units.
	ErrEmptyBatch = New("batch contains no units")
	// ErrUnknownDependency indicates a unit references an unknown dependency.
	ErrUnknownDependency = New("dependency references unknown unit")
)

// Pipeline-related sentinel errors
var (
	// ErrStageFailed indicates a pipeline stage execution failed.
	ErrStageFailed = New("stage execution failed")
	// ErrRunCancelled indicates a pipeline run was cancelled.
	ErrRunCancelled = New("pipeline run cancelled")
	// ErrInvalidTransition indicates an illegal status transition.
	ErrInvalidTransition = New("invalid status transition")
	// ErrRunActive indicates a pipeline run is already active for the unit.
	ErrRunActive = New("pipeline run already active")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// WranglerError is the base interface for all Wrangler errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type WranglerError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ReservationError represents errors from branch reservation and queue
// management.
//
// Example:
//
//	err := errors.NewReservationError("reserve failed", errors.ErrAgentBusy)
//	err = err.WithRepo("acme/api").WithAgentType("senior-developer")
type ReservationError struct {
	baseError
	Repo      string
	AgentType string
	Branch    string
	UnitID    string
}

// NewReservationError creates a new ReservationError.
func NewReservationError(message string, cause error) *ReservationError {
	return &ReservationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithRepo adds a repository identity to the error context.
func (e *ReservationError) WithRepo(repo string) *ReservationError {
	e.Repo = repo
	return e
}

// WithAgentType adds an agent type to the error context.
func (e *ReservationError) WithAgentType(agentType string) *ReservationError {
	e.AgentType = agentType
	return e
}

// WithBranch adds a branch name to the error context.
func (e *ReservationError) WithBranch(branch string) *ReservationError {
	e.Branch = branch
	return e
}

// WithUnit adds a unit ID to the error context.
func (e *ReservationError) WithUnit(unitID string) *ReservationError {
	e.UnitID = unitID
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ReservationError) WithRetryable(r bool) *ReservationError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ReservationError) Error() string {
	var parts []string
	if e.Repo != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repo))
	}
	if e.AgentType != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.AgentType))
	}
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.UnitID != "" {
		parts = append(parts, fmt.Sprintf("unit=%s", e.UnitID))
	}

	prefix := "reservation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("reservation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ReservationError) Is(target error) bool {
	if _, ok := target.(*ReservationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PlanError represents errors from batch validation and execution ordering.
//
// Example:
//
//	err := errors.NewPlanError("ordering failed", errors.ErrDependencyCycle).
//		WithUnits([]string{"u1", "u2"})
type PlanError struct {
	baseError
	UnitIDs []string
}

// NewPlanError creates a new PlanError.
func NewPlanError(message string, cause error) *PlanError {
	return &PlanError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithUnits adds the offending unit IDs to the error context.
func (e *PlanError) WithUnits(ids []string) *PlanError {
	e.UnitIDs = ids
	return e
}

// Error returns the formatted error message.
func (e *PlanError) Error() string {
	prefix := "plan error"
	if len(e.UnitIDs) > 0 {
		prefix = fmt.Sprintf("plan error [units=%s]", strings.Join(e.UnitIDs, ","))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PlanError) Is(target error) bool {
	if _, ok := target.(*PlanError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StageError represents errors from pipeline stage execution.
//
// Example:
//
//	err := errors.NewStageError("executor failed", cause).
//		WithStage("senior-developer").WithUnit("unit-7")
type StageError struct {
	baseError
	Stage  string
	UnitID string
}

// NewStageError creates a new StageError.
func NewStageError(message string, cause error) *StageError {
	return &StageError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithStage adds a stage name to the error context.
func (e *StageError) WithStage(stage string) *StageError {
	e.Stage = stage
	return e
}

// WithUnit adds a unit ID to the error context.
func (e *StageError) WithUnit(unitID string) *StageError {
	e.UnitID = unitID
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *StageError) WithRetryable(r bool) *StageError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	var parts []string
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.UnitID != "" {
		parts = append(parts, fmt.Sprintf("unit=%s", e.UnitID))
	}

	prefix := "stage error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("stage error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *StageError) Is(target error) bool {
	if _, ok := target.(*StageError); ok {
		return true
	}
	if errors.Is(target, ErrStageFailed) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("unit", "unit-42")
//	fmt.Println(err) // "unit 'unit-42' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("unit ID cannot be empty")
//	err = err.WithField("id")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var werr WranglerError
	if As(err, &werr) {
		return werr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var werr WranglerError
	if As(err, &werr) {
		return werr.IsUserFacing()
	}

	var notFound *NotFoundError
	var validation *ValidationError
	var timeout *TimeoutError
	if As(err, &notFound) || As(err, &validation) || As(err, &timeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement WranglerError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var werr WranglerError
	if As(err, &werr) {
		return werr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
