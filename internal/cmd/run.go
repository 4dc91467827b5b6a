package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rowanlane/convoy/internal/agent"
	"github.com/rowanlane/convoy/internal/budget"
	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/driver"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/event"
	"github.com/rowanlane/convoy/internal/fleet"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/logging"
	"github.com/rowanlane/convoy/internal/pipeline"
	"github.com/rowanlane/convoy/internal/report"
	"github.com/rowanlane/convoy/internal/retry"
	"github.com/rowanlane/convoy/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fleet over all matching work items",
	Long: `Fetch open issues carrying the configured label and drive each through
the five-phase pipeline. A previous interrupted run in the same progress
directory is resumed, not restarted.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("label", "", "issue label to select work items")
	runCmd.Flags().Int("max-parallel", 0, "max items running concurrently")
	runCmd.Flags().Bool("dag", true, "order items by cross-item dependencies")
	_ = viper.BindPFlag("platform.issue_label", runCmd.Flags().Lookup("label"))
	_ = viper.BindPFlag("fleet.max_parallel_issues", runCmd.Flags().Lookup("max-parallel"))
	_ = viper.BindPFlag("fleet.dag_mode", runCmd.Flags().Lookup("dag"))
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	progressDir := cfg.Paths.ResolveProgressDir(repoRoot)

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		if err := os.MkdirAll(progressDir, 0755); err != nil {
			return fmt.Errorf("failed to create progress directory: %w", err)
		}
		logger, err = logging.NewLogger(progressDir, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		defer func() { _ = logger.Close() }()
	}

	// Ctrl-C cancels the context; the coordinator drains in-flight items
	// and checkpoints before returning.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.NewStore(progressDir, logger)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	report.NewProgress(cmd.OutOrStdout()).Subscribe(bus)
	guard := budget.NewGuard(cfg.Budget, bus, logger)
	governor := retry.NewGovernor(retry.NewManager(), logger)
	git := worktree.NewGit(repoRoot, logger)
	provider := issue.NewGitHub(cfg.Platform.Repo, logger)
	launcher := agent.NewSubprocess(cfg.Agent, logger)

	drv := driver.New(driver.Options{
		Launcher:   launcher,
		Provider:   provider,
		Commits:    git,
		Store:      store,
		Guard:      guard,
		Logger:     logger,
		BaseBranch: cfg.Branch.Base,
		DepsDir:    filepath.Join(progressDir, "deps"),
	})

	pipe := pipeline.New(pipeline.Options{
		Store:            store,
		Governor:         governor,
		Guard:            guard,
		Bus:              bus,
		Logger:           logger,
		Executor:         drv,
		TaskExecutor:     drv,
		MaxPhaseAttempts: cfg.Retry.MaxPhaseAttempts,
		MaxTaskAttempts:  cfg.Implementation.MaxTaskAttempts,
		MaxParallelTasks: cfg.Implementation.MaxParallelTasks,
	})

	coordinator := fleet.NewCoordinator(fleet.Options{
		Config:    *cfg,
		Provider:  provider,
		Worktrees: git,
		Runner:    pipe,
		Store:     store,
		Guard:     guard,
		Bus:       bus,
		Logger:    logger,
		Extractor: drv,
		RepoPath:  repoRoot,
	})

	res, err := coordinator.Run(ctx)
	if res != nil && len(res.Items) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), report.RenderRun(res))
	}
	if err != nil {
		return err
	}

	if n := res.Count(checkpoint.StatusBudgetExceeded); n > 0 {
		return errors.Wrapf(errors.ErrBudgetExceeded, "%d items halted", n)
	}
	if n := res.Count(
		checkpoint.StatusFailed, checkpoint.StatusBlocked,
		checkpoint.StatusDepFailed, checkpoint.StatusDepBlocked,
		checkpoint.StatusDepMergeConflict, checkpoint.StatusDepBuildBroken); n > 0 {
		return fmt.Errorf("%d items did not complete", n)
	}
	return nil
}
