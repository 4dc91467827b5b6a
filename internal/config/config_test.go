package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() config has validation errors: %v", ValidationErrors(errs))
	}
}

func TestValidateCatchesBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "zero parallel issues",
			mutate: func(c *Config) { c.Fleet.MaxParallelIssues = 0 },
			field:  "fleet.max_parallel_issues",
		},
		{
			name:   "negative item budget",
			mutate: func(c *Config) { c.Budget.TokenLimitPerItem = -5 },
			field:  "budget.token_limit_per_item",
		},
		{
			name:   "zero phase attempts",
			mutate: func(c *Config) { c.Retry.MaxPhaseAttempts = 0 },
			field:  "retry.max_phase_attempts",
		},
		{
			name:   "zero parallel tasks",
			mutate: func(c *Config) { c.Implementation.MaxParallelTasks = 0 },
			field:  "implementation.max_parallel_tasks",
		},
		{
			name:   "empty agent command",
			mutate: func(c *Config) { c.Agent.Command = "" },
			field:  "agent.command",
		},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.Platform.Provider = "gitlab" },
			field:  "platform.provider",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			field:  "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("Validate() found no errors, want at least one")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors %v missing field %s", errs, tt.field)
			}
		})
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Value: 1, Message: "bad"},
		{Field: "c.d", Value: "x", Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("Error() = %q, want count header", msg)
	}
	if !strings.Contains(msg, "a.b") || !strings.Contains(msg, "c.d") {
		t.Errorf("Error() = %q, want both fields", msg)
	}

	single := ValidationErrors{{Field: "a.b", Value: 1, Message: "bad"}}
	if strings.Contains(single.Error(), "validation errors") {
		t.Errorf("single error should not use plural header: %q", single.Error())
	}
}

func TestResolvePaths(t *testing.T) {
	p := &PathsConfig{}
	if got := p.ResolveProgressDir("/repo"); got != "/repo/.convoy" {
		t.Errorf("ResolveProgressDir = %q, want /repo/.convoy", got)
	}
	if got := p.ResolveWorktreeDir("/repo"); got != "/repo/.convoy/worktrees" {
		t.Errorf("ResolveWorktreeDir = %q, want /repo/.convoy/worktrees", got)
	}

	p = &PathsConfig{ProgressDir: "/elsewhere", WorktreeDir: "/wt"}
	if got := p.ResolveProgressDir("/repo"); got != "/elsewhere" {
		t.Errorf("ResolveProgressDir = %q, want explicit override", got)
	}
	if got := p.ResolveWorktreeDir("/repo"); got != "/wt" {
		t.Errorf("ResolveWorktreeDir = %q, want explicit override", got)
	}
}
