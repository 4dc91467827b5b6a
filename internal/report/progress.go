package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/event"
)

// Progress prints one line per bus event, giving a live view of a run
// before the final tables. Handlers fire on pipeline goroutines, so
// writes are serialized.
type Progress struct {
	mu sync.Mutex
	w  io.Writer
}

// NewProgress creates a Progress writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Subscribe attaches the printer to every event type on the bus and
// returns the subscription id.
func (p *Progress) Subscribe(bus *event.Bus) string {
	return bus.SubscribeAll(p.handle)
}

func (p *Progress) handle(e event.Event) {
	line := progressLine(e)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// progressLine formats one event. Routine events (clean phase
// completions, fleet finish ahead of the summary tables) stay silent.
func progressLine(e event.Event) string {
	switch ev := e.(type) {
	case event.WaveStartedEvent:
		return fmt.Sprintf("wave %d: %s", ev.Wave, strings.Join(ev.Items, " "))
	case event.ItemStartedEvent:
		if ev.Resumed {
			return fmt.Sprintf("item %s: resuming", ev.ItemID)
		}
		return fmt.Sprintf("item %s: started", ev.ItemID)
	case event.PhaseStartedEvent:
		if ev.Skipped {
			return fmt.Sprintf("item %s: %s already complete", ev.ItemID, ev.Phase)
		}
		return fmt.Sprintf("item %s: %s", ev.ItemID, ev.Phase)
	case event.PhaseCompletedEvent:
		if !ev.Success {
			return fmt.Sprintf("item %s: %s failed after %d attempts", ev.ItemID, ev.Phase, ev.Attempts)
		}
		if ev.GateStatus == string(checkpoint.GateWarn) {
			return fmt.Sprintf("item %s: %s completed with gate warnings", ev.ItemID, ev.Phase)
		}
		return ""
	case event.BudgetWarningEvent:
		return fmt.Sprintf("budget warning (%s): %d of %d tokens used",
			budgetScope(ev.Scope, ev.ItemID), ev.Used, ev.Limit)
	case event.BudgetExceededEvent:
		return fmt.Sprintf("budget exceeded (%s): %d of %d tokens used",
			budgetScope(ev.Scope, ev.ItemID), ev.Used, ev.Limit)
	case event.ItemFinishedEvent:
		if ev.PRURL != "" {
			return fmt.Sprintf("item %s: %s %s", ev.ItemID, ev.Status, ev.PRURL)
		}
		return fmt.Sprintf("item %s: %s", ev.ItemID, ev.Status)
	}
	return ""
}

func budgetScope(scope, itemID string) string {
	if scope == "item" && itemID != "" {
		return "item " + itemID
	}
	return scope
}
