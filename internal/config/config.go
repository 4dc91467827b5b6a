// Package config defines the convoy configuration, its defaults, and
// viper-backed loading from file and environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete convoy configuration.
type Config struct {
	Fleet          FleetConfig          `mapstructure:"fleet"`
	Budget         BudgetConfig         `mapstructure:"budget"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Implementation ImplementationConfig `mapstructure:"implementation"`
	Agent          AgentConfig          `mapstructure:"agent"`
	Platform       PlatformConfig       `mapstructure:"platform"`
	Branch         BranchConfig         `mapstructure:"branch"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Paths          PathsConfig          `mapstructure:"paths"`
}

// FleetConfig controls cross-item execution.
type FleetConfig struct {
	// MaxParallelIssues caps how many items run concurrently.
	MaxParallelIssues int `mapstructure:"max_parallel_issues"`
	// DAGMode enables dependency-aware wave sequencing across items.
	DAGMode bool `mapstructure:"dag_mode"`
}

// BudgetConfig controls token ceilings. Zero means no limit.
type BudgetConfig struct {
	// TokenLimitPerItem is the per-item cumulative token ceiling.
	TokenLimitPerItem int64 `mapstructure:"token_limit_per_item"`
	// FleetTokenLimit is the fleet-wide cumulative token ceiling.
	FleetTokenLimit int64 `mapstructure:"fleet_token_limit"`
}

// RetryConfig controls bounded-attempt execution of phases.
type RetryConfig struct {
	// MaxPhaseAttempts is how many times a phase executor is invoked
	// before the phase is considered failed.
	MaxPhaseAttempts int `mapstructure:"max_phase_attempts"`
}

// ImplementationConfig controls phase-3 task scheduling.
type ImplementationConfig struct {
	// MaxParallelTasks caps how many file-disjoint tasks run at once.
	MaxParallelTasks int `mapstructure:"max_parallel_tasks"`
	// MaxTaskAttempts is the per-task retry bound before a task is
	// marked blocked.
	MaxTaskAttempts int `mapstructure:"max_task_attempts"`
}

// AgentConfig controls agent subprocess invocation.
type AgentConfig struct {
	// Command is the agent binary to launch for each invocation.
	Command string `mapstructure:"command"`
	// TimeoutMinutes kills an invocation that runs longer. Zero disables.
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// PlatformConfig identifies the issue/PR tracking platform.
type PlatformConfig struct {
	// Provider selects the platform adapter. Currently "github".
	Provider string `mapstructure:"provider"`
	// Repo is the owner/name slug of the tracked repository.
	Repo string `mapstructure:"repo"`
	// IssueLabel filters which issues the fleet picks up.
	IssueLabel string `mapstructure:"issue_label"`
}

// BranchConfig controls branch naming for item worktrees.
type BranchConfig struct {
	// Prefix is prepended to generated branch names.
	Prefix string `mapstructure:"prefix"`
	// Base is the branch items are cut from and merged back toward.
	Base string `mapstructure:"base"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
}

// PathsConfig controls filesystem layout.
type PathsConfig struct {
	// ProgressDir holds checkpoints, phase outputs, and logs.
	// Empty means .convoy inside the repository.
	ProgressDir string `mapstructure:"progress_dir"`
	// WorktreeDir holds per-item git worktrees.
	// Empty means .convoy/worktrees inside the repository.
	WorktreeDir string `mapstructure:"worktree_dir"`
}

// ResolveProgressDir returns the progress directory, defaulting to
// .convoy under the given repository root.
func (p *PathsConfig) ResolveProgressDir(repoRoot string) string {
	if p.ProgressDir != "" {
		return p.ProgressDir
	}
	return filepath.Join(repoRoot, ".convoy")
}

// ResolveWorktreeDir returns the worktree directory, defaulting to
// .convoy/worktrees under the given repository root.
func (p *PathsConfig) ResolveWorktreeDir(repoRoot string) string {
	if p.WorktreeDir != "" {
		return p.WorktreeDir
	}
	return filepath.Join(repoRoot, ".convoy", "worktrees")
}

// Timeout returns the agent invocation timeout as a time.Duration.
// Zero means no timeout.
func (a *AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMinutes) * time.Minute
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Fleet: FleetConfig{
			MaxParallelIssues: 2,
			DAGMode:           true,
		},
		Budget: BudgetConfig{
			TokenLimitPerItem: 0, // No limit by default
			FleetTokenLimit:   0, // No limit by default
		},
		Retry: RetryConfig{
			MaxPhaseAttempts: 2,
		},
		Implementation: ImplementationConfig{
			MaxParallelTasks: 3,
			MaxTaskAttempts:  2,
		},
		Agent: AgentConfig{
			Command:        "claude",
			TimeoutMinutes: 30,
		},
		Platform: PlatformConfig{
			Provider:   "github",
			IssueLabel: "convoy",
		},
		Branch: BranchConfig{
			Prefix: "convoy/",
			Base:   "main",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("fleet.max_parallel_issues", defaults.Fleet.MaxParallelIssues)
	viper.SetDefault("fleet.dag_mode", defaults.Fleet.DAGMode)

	viper.SetDefault("budget.token_limit_per_item", defaults.Budget.TokenLimitPerItem)
	viper.SetDefault("budget.fleet_token_limit", defaults.Budget.FleetTokenLimit)

	viper.SetDefault("retry.max_phase_attempts", defaults.Retry.MaxPhaseAttempts)

	viper.SetDefault("implementation.max_parallel_tasks", defaults.Implementation.MaxParallelTasks)
	viper.SetDefault("implementation.max_task_attempts", defaults.Implementation.MaxTaskAttempts)

	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.timeout_minutes", defaults.Agent.TimeoutMinutes)

	viper.SetDefault("platform.provider", defaults.Platform.Provider)
	viper.SetDefault("platform.repo", defaults.Platform.Repo)
	viper.SetDefault("platform.issue_label", defaults.Platform.IssueLabel)

	viper.SetDefault("branch.prefix", defaults.Branch.Prefix)
	viper.SetDefault("branch.base", defaults.Branch.Base)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.progress_dir", defaults.Paths.ProgressDir)
	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
}

// Load reads the configuration from viper into a Config struct and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "convoy")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".convoy"
	}
	return filepath.Join(home, ".config", "convoy")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
