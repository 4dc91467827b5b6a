// Package budget monitors and enforces token ceilings.
//
// Two ceilings apply: a per-item limit and a fleet-wide limit. The Guard
// accumulates usage, emits a single warning per scope when usage crosses
// the warning threshold, and returns a typed error once a ceiling is
// reached so callers can stop cleanly instead of burning more tokens.
package budget

import (
	"sync"

	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/event"
	"github.com/rowanlane/convoy/internal/logging"
)

// WarningFraction is the share of a ceiling at which a warning fires.
const WarningFraction = 0.8

// Guard enforces token ceilings. Safe for concurrent use: item pipelines
// report usage from their own goroutines.
type Guard struct {
	itemLimit  int64
	fleetLimit int64
	bus        *event.Bus
	logger     *logging.Logger

	mu          sync.Mutex
	itemUsage   map[string]int64
	fleetUsage  int64
	warnedItems map[string]bool
	warnedFleet bool
}

// NewGuard creates a Guard from budget configuration. A zero or negative
// limit disables that ceiling.
func NewGuard(cfg config.BudgetConfig, bus *event.Bus, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Guard{
		itemLimit:   cfg.TokenLimitPerItem,
		fleetLimit:  cfg.FleetTokenLimit,
		bus:         bus,
		logger:      logger,
		itemUsage:   make(map[string]int64),
		warnedItems: make(map[string]bool),
	}
}

// Record accumulates token usage against an item and the fleet total.
func (g *Guard) Record(itemID string, tokens int64) {
	if tokens <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.itemUsage[itemID] += tokens
	g.fleetUsage += tokens
}

// Seed pre-loads an item's usage from its checkpoint on resume, replacing
// any usage recorded so far for that item.
func (g *Guard) Seed(itemID string, tokens int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fleetUsage += tokens - g.itemUsage[itemID]
	g.itemUsage[itemID] = tokens
}

// ItemUsage returns the tokens recorded against an item.
func (g *Guard) ItemUsage(itemID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.itemUsage[itemID]
}

// FleetUsage returns the total tokens recorded across all items.
func (g *Guard) FleetUsage() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fleetUsage
}

// CheckItem returns a BudgetExceededError once the item's usage reaches
// its ceiling. Crossing the warning threshold emits one warning event per
// item.
func (g *Guard) CheckItem(itemID string) error {
	if g.itemLimit <= 0 {
		return nil
	}

	g.mu.Lock()
	used := g.itemUsage[itemID]
	warn := !g.warnedItems[itemID] && exceedsFraction(used, g.itemLimit)
	if warn {
		g.warnedItems[itemID] = true
	}
	g.mu.Unlock()

	if warn && used < g.itemLimit {
		g.logger.Warn("item approaching token ceiling",
			"item_id", itemID, "used", used, "limit", g.itemLimit)
		g.publish(event.NewBudgetWarningEvent("item", itemID, used, g.itemLimit))
	}
	if used >= g.itemLimit {
		g.publish(event.NewBudgetExceededEvent("item", itemID, used, g.itemLimit))
		return errors.NewBudgetExceededError("item", itemID, used, g.itemLimit)
	}
	return nil
}

// CheckFleet returns a BudgetExceededError once fleet-wide usage reaches
// the fleet ceiling.
func (g *Guard) CheckFleet() error {
	if g.fleetLimit <= 0 {
		return nil
	}

	g.mu.Lock()
	used := g.fleetUsage
	warn := !g.warnedFleet && exceedsFraction(used, g.fleetLimit)
	if warn {
		g.warnedFleet = true
	}
	g.mu.Unlock()

	if warn && used < g.fleetLimit {
		g.logger.Warn("fleet approaching token ceiling",
			"used", used, "limit", g.fleetLimit)
		g.publish(event.NewBudgetWarningEvent("fleet", "", used, g.fleetLimit))
	}
	if used >= g.fleetLimit {
		g.publish(event.NewBudgetExceededEvent("fleet", "", used, g.fleetLimit))
		return errors.NewBudgetExceededError("fleet", "", used, g.fleetLimit)
	}
	return nil
}

// Check verifies both ceilings for an item, item first.
func (g *Guard) Check(itemID string) error {
	if err := g.CheckItem(itemID); err != nil {
		return err
	}
	return g.CheckFleet()
}

func (g *Guard) publish(e event.Event) {
	if g.bus != nil {
		g.bus.Publish(e)
	}
}

func exceedsFraction(used, limit int64) bool {
	return float64(used) >= WarningFraction*float64(limit)
}
