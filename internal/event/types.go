package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "item.started", "phase.completed").
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
// Item Lifecycle Events
// -----------------------------------------------------------------------------

// ItemStartedEvent is emitted when a work item's pipeline begins.
type ItemStartedEvent struct {
	baseEvent
	ItemID  string // Work item identifier
	Wave    int    // Wave index the item belongs to (-1 outside DAG mode)
	Resumed bool   // Whether the item resumed from a checkpoint
}

// NewItemStartedEvent creates an ItemStartedEvent.
func NewItemStartedEvent(itemID string, wave int, resumed bool) ItemStartedEvent {
	return ItemStartedEvent{
		baseEvent: newBaseEvent("item.started"),
		ItemID:    itemID,
		Wave:      wave,
		Resumed:   resumed,
	}
}

// ItemFinishedEvent is emitted when a work item reaches a terminal status.
type ItemFinishedEvent struct {
	baseEvent
	ItemID string // Work item identifier
	Status string // Terminal fleet status (completed, failed, blocked, ...)
	PRURL  string // Pull request URL if one was created
}

// NewItemFinishedEvent creates an ItemFinishedEvent.
func NewItemFinishedEvent(itemID, status, prURL string) ItemFinishedEvent {
	return ItemFinishedEvent{
		baseEvent: newBaseEvent("item.finished"),
		ItemID:    itemID,
		Status:    status,
		PRURL:     prURL,
	}
}

// -----------------------------------------------------------------------------
// Phase Events
// -----------------------------------------------------------------------------

// PhaseStartedEvent is emitted when a pipeline enters a phase.
type PhaseStartedEvent struct {
	baseEvent
	ItemID  string // Work item identifier
	Phase   string // Phase name
	Skipped bool   // True when the phase was already complete and skipped
}

// NewPhaseStartedEvent creates a PhaseStartedEvent.
func NewPhaseStartedEvent(itemID, phase string, skipped bool) PhaseStartedEvent {
	return PhaseStartedEvent{
		baseEvent: newBaseEvent("phase.started"),
		ItemID:    itemID,
		Phase:     phase,
		Skipped:   skipped,
	}
}

// PhaseCompletedEvent is emitted when a phase finishes, successfully or not.
type PhaseCompletedEvent struct {
	baseEvent
	ItemID     string // Work item identifier
	Phase      string // Phase name
	Success    bool   // Whether the phase succeeded
	GateStatus string // Gate outcome: "pass", "warn", "fail", or "" when no gate ran
	Attempts   int    // Executor attempts consumed
}

// NewPhaseCompletedEvent creates a PhaseCompletedEvent.
func NewPhaseCompletedEvent(itemID, phase string, success bool, gateStatus string, attempts int) PhaseCompletedEvent {
	return PhaseCompletedEvent{
		baseEvent:  newBaseEvent("phase.completed"),
		ItemID:     itemID,
		Phase:      phase,
		Success:    success,
		GateStatus: gateStatus,
		Attempts:   attempts,
	}
}

// -----------------------------------------------------------------------------
// Budget Events
// -----------------------------------------------------------------------------

// BudgetWarningEvent is emitted when usage crosses the warning threshold.
type BudgetWarningEvent struct {
	baseEvent
	Scope  string // "item" or "fleet"
	ItemID string // Set when Scope is "item"
	Used   int64  // Cumulative tokens used
	Limit  int64  // Configured ceiling
}

// NewBudgetWarningEvent creates a BudgetWarningEvent.
func NewBudgetWarningEvent(scope, itemID string, used, limit int64) BudgetWarningEvent {
	return BudgetWarningEvent{
		baseEvent: newBaseEvent("budget.warning"),
		Scope:     scope,
		ItemID:    itemID,
		Used:      used,
		Limit:     limit,
	}
}

// BudgetExceededEvent is emitted when usage crosses a configured ceiling.
type BudgetExceededEvent struct {
	baseEvent
	Scope  string
	ItemID string
	Used   int64
	Limit  int64
}

// NewBudgetExceededEvent creates a BudgetExceededEvent.
func NewBudgetExceededEvent(scope, itemID string, used, limit int64) BudgetExceededEvent {
	return BudgetExceededEvent{
		baseEvent: newBaseEvent("budget.exceeded"),
		Scope:     scope,
		ItemID:    itemID,
		Used:      used,
		Limit:     limit,
	}
}

// -----------------------------------------------------------------------------
// Fleet Events
// -----------------------------------------------------------------------------

// WaveStartedEvent is emitted when a dependency wave begins executing.
type WaveStartedEvent struct {
	baseEvent
	Wave  int      // Wave index
	Items []string // Item IDs in the wave
}

// NewWaveStartedEvent creates a WaveStartedEvent.
func NewWaveStartedEvent(wave int, items []string) WaveStartedEvent {
	return WaveStartedEvent{
		baseEvent: newBaseEvent("wave.started"),
		Wave:      wave,
		Items:     items,
	}
}

// FleetFinishedEvent is emitted when a fleet run completes or is interrupted.
type FleetFinishedEvent struct {
	baseEvent
	FleetID     string // Fleet run identifier
	Interrupted bool   // Whether the run was interrupted
	Completed   int    // Items that finished successfully
	Failed      int    // Items that failed
}

// NewFleetFinishedEvent creates a FleetFinishedEvent.
func NewFleetFinishedEvent(fleetID string, interrupted bool, completed, failed int) FleetFinishedEvent {
	return FleetFinishedEvent{
		baseEvent:   newBaseEvent("fleet.finished"),
		FleetID:     fleetID,
		Interrupted: interrupted,
		Completed:   completed,
		Failed:      failed,
	}
}
