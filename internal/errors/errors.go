// Package errors provides centralized error definitions and error handling
// utilities for the convoy codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and
// classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - PipelineError: errors while driving an item through its phases
//   - CheckpointError: errors loading or persisting checkpoint state
//   - GitError: errors from git worktree/branch/commit operations
//   - CycleError: a cyclic dependency graph across work items
//   - InterruptionError: a fleet run interrupted by the caller
//   - BudgetExceededError: cumulative token usage crossed a ceiling
//   - DependencyResolutionError: dependency extraction for an item failed
//
// Semantic errors represent common conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewPipelineError("phase executor failed", cause).WithItemID("42")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrBudgetExceeded) { ... }
//
//	var cycleErr *errors.CycleError
//	if errors.As(err, &cycleErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
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
	// SeverityDebug is for errors useful for debugging but not critical.
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

// Checkpoint-related sentinel errors.
var (
	// ErrCheckpointCorrupted indicates a checkpoint file could not be parsed.
	ErrCheckpointCorrupted = New("checkpoint data corrupted")
	// ErrPhaseNotStarted indicates a completion was recorded for a phase
	// that was never started.
	ErrPhaseNotStarted = New("phase not started")
	// ErrTaskNotStarted indicates a completion was recorded for a task
	// that was never started.
	ErrTaskNotStarted = New("task not started")
)

// Pipeline-related sentinel errors.
var (
	// ErrPhaseFailed indicates a critical phase failed after all attempts.
	ErrPhaseFailed = New("phase failed")
	// ErrGateFailed indicates a quality gate rejected a phase's output.
	ErrGateFailed = New("quality gate failed")
	// ErrAllTasksBlocked indicates every implementation task exhausted its
	// retries without a single completion.
	ErrAllTasksBlocked = New("all implementation tasks blocked")
	// ErrSchedulerStuck indicates no task is ready while incomplete tasks
	// remain, pointing at a cycle or an unsatisfiable prerequisite.
	ErrSchedulerStuck = New("task scheduler stuck: no ready tasks remain")
)

// Fleet-related sentinel errors.
var (
	// ErrBudgetExceeded indicates cumulative token usage crossed a ceiling.
	ErrBudgetExceeded = New("token budget exceeded")
	// ErrInterrupted indicates the run was cancelled by the caller.
	ErrInterrupted = New("fleet run interrupted")
	// ErrCyclicDependencies indicates the issue dependency graph has a cycle.
	ErrCyclicDependencies = New("cyclic dependencies between work items")
)

// Git-related sentinel errors.
var (
	// ErrMergeConflict indicates a dependency merge into a worktree conflicted.
	ErrMergeConflict = New("merge conflict")
	// ErrWorktreeExists indicates a worktree already exists at the target path.
	ErrWorktreeExists = New("worktree already exists")
)

// -----------------------------------------------------------------------------
// ConvoyError Interface
// -----------------------------------------------------------------------------

// ConvoyError is the interface implemented by all convoy error types.
type ConvoyError interface {
	error

	// Severity returns the severity level of the error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
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

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// PipelineError represents errors while driving a work item through phases.
//
// Example:
//
//	err := errors.NewPipelineError("executor failed", cause).
//		WithItemID("42").WithPhase("implementation")
type PipelineError struct {
	baseError
	ItemID string
	Phase  string
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(message string, cause error) *PipelineError {
	return &PipelineError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithItemID adds a work item ID to the error context.
func (e *PipelineError) WithItemID(id string) *PipelineError {
	e.ItemID = id
	return e
}

// WithPhase adds a phase name to the error context.
func (e *PipelineError) WithPhase(phase string) *PipelineError {
	e.Phase = phase
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *PipelineError) WithRetryable(r bool) *PipelineError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *PipelineError) Error() string {
	var parts []string
	if e.ItemID != "" {
		parts = append(parts, fmt.Sprintf("item=%s", e.ItemID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	prefix := "pipeline error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("pipeline error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PipelineError) Is(target error) bool {
	if _, ok := target.(*PipelineError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CheckpointError represents errors loading or persisting checkpoint state.
type CheckpointError struct {
	baseError
	ItemID string
	Path   string
}

// NewCheckpointError creates a new CheckpointError.
func NewCheckpointError(message string, cause error) *CheckpointError {
	return &CheckpointError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithItemID adds a work item ID to the error context.
func (e *CheckpointError) WithItemID(id string) *CheckpointError {
	e.ItemID = id
	return e
}

// WithPath adds the checkpoint file path to the error context.
func (e *CheckpointError) WithPath(path string) *CheckpointError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *CheckpointError) Error() string {
	var parts []string
	if e.ItemID != "" {
		parts = append(parts, fmt.Sprintf("item=%s", e.ItemID))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	prefix := "checkpoint error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("checkpoint error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *CheckpointError) Is(target error) bool {
	if _, ok := target.(*CheckpointError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors from git operations (worktrees, branches, commits).
type GitError struct {
	baseError
	Branch    string
	Worktree  string
	GitOutput string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: true, // git failures are often transient (locks, network)
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithGitOutput attaches captured git command output.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	if e.GitOutput != "" {
		return fmt.Sprintf("%s: %s\noutput: %s", prefix, msg, e.GitOutput)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Fleet-Level Structural Errors
// -----------------------------------------------------------------------------

// CycleError reports a cyclic dependency graph across work items.
// Members lists every item implicated in at least one cycle.
type CycleError struct {
	Members []string
}

// NewCycleError creates a CycleError naming the implicated items.
func NewCycleError(members []string) *CycleError {
	return &CycleError{Members: members}
}

// Error returns the formatted error message.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependencies between work items: %s",
		strings.Join(e.Members, ", "))
}

// Is reports a match against ErrCyclicDependencies or another CycleError.
func (e *CycleError) Is(target error) bool {
	if target == ErrCyclicDependencies {
		return true
	}
	_, ok := target.(*CycleError)
	return ok
}

// Severity returns the error severity.
func (e *CycleError) Severity() Severity { return SeverityCritical }

// IsRetryable reports that cycle errors are never retryable.
func (e *CycleError) IsRetryable() bool { return false }

// InterruptionError reports that a fleet run was cancelled by the caller
// before completing. InFlight lists items that were running at the time.
type InterruptionError struct {
	InFlight []string
	Cause    error
}

// NewInterruptionError creates an InterruptionError.
func NewInterruptionError(inFlight []string, cause error) *InterruptionError {
	return &InterruptionError{InFlight: inFlight, Cause: cause}
}

// Error returns the formatted error message.
func (e *InterruptionError) Error() string {
	if len(e.InFlight) > 0 {
		return fmt.Sprintf("fleet run interrupted with %d items in flight: %s",
			len(e.InFlight), strings.Join(e.InFlight, ", "))
	}
	return "fleet run interrupted"
}

// Unwrap returns the cancellation cause.
func (e *InterruptionError) Unwrap() error { return e.Cause }

// Is reports a match against ErrInterrupted or another InterruptionError.
func (e *InterruptionError) Is(target error) bool {
	if target == ErrInterrupted {
		return true
	}
	_, ok := target.(*InterruptionError)
	return ok
}

// Severity returns the error severity.
func (e *InterruptionError) Severity() Severity { return SeverityWarning }

// IsRetryable reports that interruption is not retryable within the run.
func (e *InterruptionError) IsRetryable() bool { return false }

// BudgetExceededError reports cumulative usage crossing a configured ceiling.
type BudgetExceededError struct {
	Scope  string // "item" or "fleet"
	ItemID string // set when Scope is "item"
	Used   int64
	Limit  int64
}

// NewBudgetExceededError creates a BudgetExceededError.
func NewBudgetExceededError(scope, itemID string, used, limit int64) *BudgetExceededError {
	return &BudgetExceededError{Scope: scope, ItemID: itemID, Used: used, Limit: limit}
}

// Error returns the formatted error message.
func (e *BudgetExceededError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("token budget exceeded for item %s: used %d of %d",
			e.ItemID, e.Used, e.Limit)
	}
	return fmt.Sprintf("%s token budget exceeded: used %d of %d", e.Scope, e.Used, e.Limit)
}

// Is reports a match against ErrBudgetExceeded or another BudgetExceededError.
func (e *BudgetExceededError) Is(target error) bool {
	if target == ErrBudgetExceeded {
		return true
	}
	_, ok := target.(*BudgetExceededError)
	return ok
}

// Severity returns the error severity.
func (e *BudgetExceededError) Severity() Severity { return SeverityCritical }

// IsRetryable reports that budget exhaustion is never retryable.
func (e *BudgetExceededError) IsRetryable() bool { return false }

// DependencyResolutionError reports a failure extracting the dependency
// list for a work item.
type DependencyResolutionError struct {
	baseError
	ItemID string
}

// NewDependencyResolutionError creates a DependencyResolutionError.
func NewDependencyResolutionError(itemID string, cause error) *DependencyResolutionError {
	return &DependencyResolutionError{
		baseError: baseError{
			message:   "failed to resolve dependencies",
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
		ItemID: itemID,
	}
}

// Error returns the formatted error message.
func (e *DependencyResolutionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("dependency resolution failed for item %s: %v", e.ItemID, e.cause)
	}
	return fmt.Sprintf("dependency resolution failed for item %s", e.ItemID)
}

// Is checks if this error matches the target.
func (e *DependencyResolutionError) Is(target error) bool {
	if _, ok := target.(*DependencyResolutionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates a resource could not be found.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause attaches an underlying error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %q not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s %q not found", e.ResourceType, e.ResourceID)
}

// Unwrap returns the underlying error.
func (e *NotFoundError) Unwrap() error { return e.cause }

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ValidationError indicates invalid input or state.
type ValidationError struct {
	Field string
	Value any
	cause error
	msg   string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{msg: message}
}

// WithField names the invalid field.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue attaches the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause attaches an underlying error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg = fmt.Sprintf("validation error [field=%s]", e.Field)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.msg)
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.cause }

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed on retry. Errors that don't implement ConvoyError default to false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var convoyErr ConvoyError
	if As(err, &convoyErr) {
		return convoyErr.IsRetryable()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ConvoyError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var convoyErr ConvoyError
	if As(err, &convoyErr) {
		return convoyErr.Severity()
	}
	return SeverityError
}

// IsFatalToFleet returns true for structural errors that abort the whole
// fleet run rather than a single item: cycles, interruption.
func IsFatalToFleet(err error) bool {
	if err == nil {
		return false
	}

	var cycleErr *CycleError
	var interruptErr *InterruptionError
	return As(err, &cycleErr) || As(err, &interruptErr)
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
