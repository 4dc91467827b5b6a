package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current run's per-item status",
	Long: `Display the fleet checkpoint of the run in this repository: every
item, its phase progress, and token usage. With --watch the view
refreshes whenever the checkpoint changes.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("watch", false, "refresh when the checkpoint changes")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	repoRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	progressDir := cfg.Paths.ResolveProgressDir(repoRoot)

	if err := printStatus(cmd, progressDir); err != nil {
		return err
	}

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return nil
	}
	return watchStatus(cmd, progressDir)
}

func printStatus(cmd *cobra.Command, progressDir string) error {
	fc, err := checkpoint.LoadFleetCheckpoint(progressDir)
	if err != nil {
		return err
	}
	if fc == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No run in progress")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.RenderStatus(fc))
	return nil
}

// watchStatus re-renders whenever the fleet checkpoint file is rewritten,
// until interrupted.
func watchStatus(cmd *cobra.Command, progressDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: the checkpoint is written by temp-file rename,
	// so the file itself disappears and reappears.
	if err := watcher.Add(progressDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", progressDir, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := filepath.Join(progressDir, checkpoint.FleetFileName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != target || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if err := printStatus(cmd, progressDir); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
		}
	}
}
