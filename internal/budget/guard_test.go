package budget

import (
	"testing"

	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/event"
)

func TestCheckItemUnderLimit(t *testing.T) {
	g := NewGuard(config.BudgetConfig{TokenLimitPerItem: 1000}, nil, nil)
	g.Record("42", 500)

	if err := g.CheckItem("42"); err != nil {
		t.Errorf("CheckItem() error = %v, want nil under limit", err)
	}
}

func TestCheckItemAtLimit(t *testing.T) {
	g := NewGuard(config.BudgetConfig{TokenLimitPerItem: 1000}, nil, nil)
	g.Record("42", 1000)

	err := g.CheckItem("42")
	var bErr *errors.BudgetExceededError
	if !errors.As(err, &bErr) {
		t.Fatalf("CheckItem() error = %v, want BudgetExceededError", err)
	}
	if bErr.Scope != "item" || bErr.ItemID != "42" || bErr.Used != 1000 || bErr.Limit != 1000 {
		t.Errorf("BudgetExceededError = %+v", bErr)
	}
}

func TestCheckItemWarnsOnceAtThreshold(t *testing.T) {
	bus := event.NewBus()
	var warnings []event.BudgetWarningEvent
	bus.Subscribe("budget.warning", func(e event.Event) {
		warnings = append(warnings, e.(event.BudgetWarningEvent))
	})

	g := NewGuard(config.BudgetConfig{TokenLimitPerItem: 1000}, bus, nil)
	g.Record("42", 800)

	if err := g.CheckItem("42"); err != nil {
		t.Fatalf("CheckItem() at 80%% error = %v, want warning only", err)
	}
	if err := g.CheckItem("42"); err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warning events, want exactly 1", len(warnings))
	}
	if warnings[0].ItemID != "42" || warnings[0].Used != 800 {
		t.Errorf("warning = %+v", warnings[0])
	}
}

func TestCheckFleetLimit(t *testing.T) {
	bus := event.NewBus()
	var exceeded []event.BudgetExceededEvent
	bus.Subscribe("budget.exceeded", func(e event.Event) {
		exceeded = append(exceeded, e.(event.BudgetExceededEvent))
	})

	g := NewGuard(config.BudgetConfig{FleetTokenLimit: 2000}, bus, nil)
	g.Record("42", 1200)
	g.Record("43", 900)

	err := g.CheckFleet()
	var bErr *errors.BudgetExceededError
	if !errors.As(err, &bErr) {
		t.Fatalf("CheckFleet() error = %v, want BudgetExceededError", err)
	}
	if bErr.Scope != "fleet" || bErr.Used != 2100 {
		t.Errorf("BudgetExceededError = %+v", bErr)
	}
	if len(exceeded) != 1 {
		t.Errorf("got %d exceeded events, want 1", len(exceeded))
	}
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	g := NewGuard(config.BudgetConfig{}, nil, nil)
	g.Record("42", 1_000_000)

	if err := g.Check("42"); err != nil {
		t.Errorf("Check() with zero limits error = %v, want nil", err)
	}
}

func TestSeedReplacesItemUsage(t *testing.T) {
	g := NewGuard(config.BudgetConfig{TokenLimitPerItem: 1000, FleetTokenLimit: 5000}, nil, nil)
	g.Record("42", 300)
	g.Seed("42", 900)

	if got := g.ItemUsage("42"); got != 900 {
		t.Errorf("ItemUsage = %d, want 900", got)
	}
	if got := g.FleetUsage(); got != 900 {
		t.Errorf("FleetUsage = %d, want 900 (seed replaces, not adds)", got)
	}
}

func TestCheckCoversBothScopes(t *testing.T) {
	g := NewGuard(config.BudgetConfig{TokenLimitPerItem: 10_000, FleetTokenLimit: 1000}, nil, nil)
	g.Record("42", 500)
	g.Record("43", 600)

	err := g.Check("42")
	var bErr *errors.BudgetExceededError
	if !errors.As(err, &bErr) || bErr.Scope != "fleet" {
		t.Errorf("Check() error = %v, want fleet-scope BudgetExceededError", err)
	}
}
