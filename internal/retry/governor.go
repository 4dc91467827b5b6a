package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/logging"
)

// Spec describes one retryable operation.
type Spec struct {
	// ScopeID names the operation for bookkeeping ("item-42/phase-3",
	// "item-42/task-t1").
	ScopeID string

	// MaxAttempts bounds total attempts (first try included). Values
	// below 1 are treated as 1.
	MaxAttempts int

	// Fn is the operation. It receives the attempt number starting at 1.
	Fn func(ctx context.Context, attempt int) error
}

// Outcome reports how a retried operation ended.
type Outcome struct {
	Success  bool
	Attempts int
	Err      error
}

// Governor drives bounded retries and records attempt history.
type Governor struct {
	manager *Manager
	logger  *logging.Logger
}

// NewGovernor creates a Governor backed by the given manager.
func NewGovernor(manager *Manager, logger *logging.Logger) *Governor {
	if manager == nil {
		manager = NewManager()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Governor{manager: manager, logger: logger}
}

// Manager exposes the attempt bookkeeping.
func (g *Governor) Manager() *Manager { return g.manager }

// Execute runs the spec until it succeeds, attempts are exhausted, a
// non-retryable error surfaces, or the context is canceled. Fatal and
// non-retryable errors never consume the remaining attempts.
func (g *Governor) Execute(ctx context.Context, spec Spec) Outcome {
	maxAttempts := spec.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	g.manager.GetOrCreateState(spec.ScopeID, maxAttempts)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: attempt - 1, Err: errors.Wrap(errors.ErrInterrupted, spec.ScopeID)}
		}

		start := time.Now()
		err := spec.Fn(ctx, attempt)
		g.manager.RecordAttempt(spec.ScopeID, AttemptRecord{
			Success:   err == nil,
			Error:     errString(err),
			StartedAt: start,
			Duration:  time.Since(start).Round(time.Millisecond).String(),
		})

		if err == nil {
			return Outcome{Success: true, Attempts: attempt}
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, errors.ErrInterrupted) {
			return Outcome{Attempts: attempt, Err: err}
		}
		// Retry by default. Only errors that explicitly declare themselves
		// non-retryable short-circuit the remaining attempts.
		var convoyErr errors.ConvoyError
		if errors.As(err, &convoyErr) && !convoyErr.IsRetryable() {
			g.logger.Debug("error not retryable, giving up",
				"scope", spec.ScopeID, "attempt", attempt, "error", err)
			return Outcome{Attempts: attempt, Err: err}
		}
		if attempt < maxAttempts {
			g.logger.Warn("attempt failed, retrying",
				"scope", spec.ScopeID, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		}
	}

	return Outcome{
		Attempts: maxAttempts,
		Err:      fmt.Errorf("exhausted %d attempts for %s: %w", maxAttempts, spec.ScopeID, lastErr),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
